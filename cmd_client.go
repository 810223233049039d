package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"github.com/yargevad/filepathx"

	"rustsentry/internal/apiclient"
	"rustsentry/internal/models"
	"rustsentry/internal/utils"
)

// ClientCmd implements the commands that talk to a running server.
type ClientCmd struct {
	flags  *Flags
	out    io.Writer
	errOut io.Writer

	wait     bool
	interval time.Duration
	timeout  time.Duration
	name     string

	glob     string
	fromList string
	gitDir   string

	listStatus string
	listLimit  int
	listOffset int
}

func NewClientCmd(flags *Flags) *ClientCmd {
	return &ClientCmd{flags: flags, out: os.Stdout, errOut: os.Stderr}
}

func (cmd *ClientCmd) client() *apiclient.Client {
	return apiclient.New(cmd.flags.Server, nil)
}

func (cmd *ClientCmd) pollFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "wait",
			Usage:       "poll until the session finishes and print the result",
			Destination: &cmd.wait,
		},
		&cli.DurationFlag{
			Name:        "interval",
			Usage:       "poll interval (defaults to the server's advertised value)",
			Destination: &cmd.interval,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "give up polling after this long (defaults to the server's advertised value)",
			Destination: &cmd.timeout,
		},
	}
}

func (cmd *ClientCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "submit",
			Usage:     "Submit a Rust file for analysis",
			UsageText: "rustsentry submit [--wait] FILE|-",
			Description: `Creates a session for FILE (or stdin when FILE is "-") and prints it as JSON.

With --wait the command polls until the session completes or fails and prints the
full result.

Examples:
  rustsentry submit src/ffi.rs
  cat src/ffi.rs | rustsentry submit --wait -`,
			Flags: append(cmd.pollFlags(), &cli.StringFlag{
				Name:        "name",
				Usage:       "source name to record (defaults to FILE)",
				Destination: &cmd.name,
			}),
			Action: cmd.runSubmit,
		},
		&cli.Command{
			Name:      "scan",
			Usage:     "Submit every matching Rust file",
			UsageText: "rustsentry scan [--glob PATTERN | --from-list FILE | --git DIR] [--wait]",
			Description: `Submits each matching file as its own session.

File selection:
  --glob       doublestar pattern, e.g. 'src/**/*.rs'
  --from-list  text file with one path per line (# comments allowed), - for stdin
  --git        every *.rs file tracked at HEAD in the repository containing DIR

Examples:
  rustsentry scan --glob 'src/**/*.rs' --wait
  rustsentry scan --git . --wait --timeout 30m`,
			Flags: append(cmd.pollFlags(),
				&cli.StringFlag{
					Name:        "glob",
					Aliases:     []string{"g"},
					Usage:       "file pattern; ** matches any number of directories",
					Destination: &cmd.glob,
				},
				&cli.StringFlag{
					Name:        "from-list",
					Usage:       "read paths from a file, or - for stdin",
					Destination: &cmd.fromList,
				},
				&cli.StringFlag{
					Name:        "git",
					Usage:       "scan files tracked by the git repository at this path",
					Destination: &cmd.gitDir,
				},
			),
			Action: cmd.runScan,
		},
		&cli.Command{
			Name:      "status",
			Usage:     "Show a session's status and progress",
			UsageText: "rustsentry status ID",
			Action:    cmd.runStatus,
		},
		&cli.Command{
			Name:      "get",
			Usage:     "Print a session with its blocks and analyses",
			UsageText: "rustsentry get ID",
			Action:    cmd.runGet,
		},
		&cli.Command{
			Name:      "artifacts",
			Usage:     "Print the raw model responses recorded for a finished session",
			UsageText: "rustsentry artifacts ID",
			Action:    cmd.runArtifacts,
		},
		&cli.Command{
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "Delete a session and everything stored for it",
			UsageText: "rustsentry delete ID",
			Action:    cmd.runDelete,
		},
		&cli.Command{
			Name:      "list",
			Aliases:   []string{"ls"},
			Usage:     "List sessions, newest first",
			UsageText: "rustsentry list [--status S] [--limit N] [--offset M]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "status",
					Aliases:     []string{"s"},
					Usage:       "filter by status (pending, processing, completed, failed)",
					Destination: &cmd.listStatus,
				},
				&cli.IntFlag{
					Name:        "limit",
					Usage:       "page size (server caps at 200)",
					Destination: &cmd.listLimit,
				},
				&cli.IntFlag{
					Name:        "offset",
					Usage:       "rows to skip",
					Destination: &cmd.listOffset,
				},
			},
			Action: cmd.runList,
		},
	)
	return app
}

func (cmd *ClientCmd) printJSON(v any) error {
	enc := json.NewEncoder(cmd.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireID(c *cli.Command) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", errors.New("session ID is required")
	}
	return id, nil
}

// pollOptions fills unset flags from the server's advertised polling config.
func (cmd *ClientCmd) pollOptions(ctx context.Context, cl *apiclient.Client) apiclient.PollOptions {
	opts := apiclient.PollOptions{
		Interval: cmd.interval,
		Timeout:  cmd.timeout,
		OnProgress: func(st models.SessionStatusView) {
			fmt.Fprintf(cmd.errOut, "\r%-10s %3d%%", st.Status, st.Progress)
			if st.Status.IsTerminal() {
				fmt.Fprintln(cmd.errOut)
			}
		},
	}
	if opts.Interval > 0 && opts.Timeout > 0 {
		return opts
	}
	adv, err := cl.PollingConfig(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("polling config unavailable, using defaults")
		adv = &apiclient.PollingConfig{
			IntervalMS: cmd.flags.cfg.Client.PollInterval.Milliseconds(),
			TimeoutMS:  cmd.flags.cfg.Client.PollTimeout.Milliseconds(),
		}
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Duration(adv.IntervalMS) * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(adv.TimeoutMS) * time.Millisecond
	}
	return opts
}

func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func (cmd *ClientCmd) runSubmit(ctx context.Context, c *cli.Command) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("FILE is required (use - for stdin)")
	}
	return cmd.submit(ctx, path)
}

func (cmd *ClientCmd) submit(ctx context.Context, path string) error {
	code, err := readSource(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := cmd.name
	if name == "" && path != "-" {
		name = path
	}

	cl := cmd.client()
	created, err := cl.Submit(ctx, code, name)
	if err != nil {
		return err
	}
	if !cmd.wait {
		return cmd.printJSON(created)
	}
	detail, err := cl.Poll(ctx, created.ID, cmd.pollOptions(ctx, cl))
	if err != nil {
		return fmt.Errorf("session %s: %w", created.ID, err)
	}
	if err := cmd.printJSON(detail); err != nil {
		return err
	}
	if detail.Status == models.StatusFailed {
		return fmt.Errorf("session %s failed", detail.ID)
	}
	return nil
}

func (cmd *ClientCmd) scanPaths() ([]string, error) {
	var paths []string
	if cmd.glob != "" {
		matches, err := filepathx.Glob(cmd.glob)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", cmd.glob, err)
		}
		paths = append(paths, matches...)
	}
	if cmd.fromList != "" {
		lines, err := utils.ReadPathList(cmd.fromList)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", cmd.fromList, err)
		}
		paths = append(paths, lines...)
	}
	if cmd.gitDir != "" {
		if !utils.DirectoryExists(cmd.gitDir) {
			return nil, fmt.Errorf("%s is not a directory", cmd.gitDir)
		}
		g := &GitService{}
		repo, root, err := g.Open(cmd.gitDir)
		if err != nil {
			return nil, fmt.Errorf("open git repository: %w", err)
		}
		tracked, err := g.TrackedFiles(repo, root, "*.rs")
		if err != nil {
			return nil, err
		}
		paths = append(paths, tracked...)
	}
	if cmd.glob == "" && cmd.fromList == "" && cmd.gitDir == "" {
		return nil, errors.New("one of --glob, --from-list or --git is required")
	}

	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		p = filepath.Clean(p)
		if seen[p] || !utils.FileExists(p) {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

type scanResult struct {
	Path      string               `json:"path"`
	SessionID string               `json:"session_id,omitempty"`
	Status    models.SessionStatus `json:"status,omitempty"`
	Findings  int                  `json:"findings"`
	Error     string               `json:"error,omitempty"`
}

func (cmd *ClientCmd) runScan(ctx context.Context, c *cli.Command) error {
	paths, err := cmd.scanPaths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no files matched")
	}

	cl := cmd.client()
	results := make([]scanResult, 0, len(paths))
	for _, p := range paths {
		res := scanResult{Path: p}
		code, err := readSource(p)
		if err == nil {
			var created *apiclient.Created
			created, err = cl.Submit(ctx, code, p)
			if created != nil {
				res.SessionID = created.ID
				res.Status = created.Status
			}
		}
		if err != nil {
			res.Error = err.Error()
			log.Warn().Err(err).Str("path", p).Msg("submit failed")
		}
		results = append(results, res)
	}

	if cmd.wait {
		opts := cmd.pollOptions(ctx, cl)
		for i := range results {
			if results[i].SessionID == "" {
				continue
			}
			fmt.Fprintln(cmd.errOut, results[i].Path)
			detail, err := cl.Poll(ctx, results[i].SessionID, opts)
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			results[i].Status = detail.Status
			for _, a := range detail.Analyses {
				if a.HasVulnerability() {
					results[i].Findings++
				}
			}
			if detail.ErrorMessage != nil {
				results[i].Error = *detail.ErrorMessage
			}
		}
	}
	return cmd.printJSON(results)
}

func (cmd *ClientCmd) runStatus(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	st, err := cmd.client().Status(ctx, id)
	if err != nil {
		return err
	}
	return cmd.printJSON(st)
}

func (cmd *ClientCmd) runGet(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	detail, err := cmd.client().Get(ctx, id)
	if err != nil {
		return err
	}
	return cmd.printJSON(detail)
}

func (cmd *ClientCmd) runArtifacts(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	list, err := cmd.client().Artifacts(ctx, id)
	if err != nil {
		return err
	}
	return cmd.printJSON(list)
}

func (cmd *ClientCmd) runDelete(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	if err := cmd.client().Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(cmd.errOut, "deleted", id)
	return nil
}

func (cmd *ClientCmd) runList(ctx context.Context, c *cli.Command) error {
	list, err := cmd.client().List(ctx, models.ListOptions{
		Limit:  cmd.listLimit,
		Offset: cmd.listOffset,
		Status: models.SessionStatus(cmd.listStatus),
	})
	if err != nil {
		return err
	}
	return cmd.printJSON(list)
}
