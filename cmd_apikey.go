package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/urfave/cli/v3"

	"rustsentry/internal/services"
)

// APIKeyCmd manages provider API keys in the OS keyring.
type APIKeyCmd struct {
	flags *Flags

	provider string
	key      string
	reveal   bool
}

func NewAPIKeyCmd(flags *Flags) *APIKeyCmd {
	return &APIKeyCmd{flags: flags}
}

func (cmd *APIKeyCmd) providerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "provider",
		Aliases:     []string{"p"},
		Usage:       "llm provider (deepseek, openai, anthropic, gemini)",
		Required:    true,
		Destination: &cmd.provider,
	}
}

func (cmd *APIKeyCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "apikey",
		Usage: "Manage LLM provider API keys stored in the OS keyring",
		Description: `Keys stored here are used by 'rustsentry serve' when neither llm.api_key nor the
provider's environment variable is set.

Examples:
  rustsentry apikey set --provider deepseek
  echo "$KEY" | rustsentry apikey set --provider openai
  rustsentry apikey list`,
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a key (prompted, read from stdin, or --key)",
				UsageText: "rustsentry apikey set --provider P [--key K]",
				Flags: []cli.Flag{
					cmd.providerFlag(),
					&cli.StringFlag{
						Name:        "key",
						Usage:       "the key itself; prefer the prompt so it stays out of shell history",
						Destination: &cmd.key,
					},
				},
				Action: cmd.runSet,
			},
			{
				Name:      "get",
				Usage:     "Show whether a key is stored",
				UsageText: "rustsentry apikey get --provider P [--reveal]",
				Flags: []cli.Flag{
					cmd.providerFlag(),
					&cli.BoolFlag{
						Name:        "reveal",
						Usage:       "print the full key",
						Destination: &cmd.reveal,
					},
				},
				Action: cmd.runGet,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Remove a stored key",
				UsageText: "rustsentry apikey delete --provider P",
				Flags:     []cli.Flag{cmd.providerFlag()},
				Action:    cmd.runDelete,
			},
			{
				Name:   "list",
				Usage:  "List providers with a stored key",
				Action: cmd.runList,
			},
		},
	})
	return app
}

func (cmd *APIKeyCmd) keyring() (*services.KeyringService, error) {
	catalog, err := services.LoadModelCatalog()
	if err != nil {
		return nil, err
	}
	if cmd.provider != "" {
		if _, ok := catalog.Provider(cmd.provider); !ok {
			return nil, fmt.Errorf("unknown provider %q", cmd.provider)
		}
	}
	return services.OpenKeyring()
}

func readKey(explicit string) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return keyring.TerminalPrompt("API key: ")
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, 16<<10))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (cmd *APIKeyCmd) runSet(ctx context.Context, c *cli.Command) error {
	ring, err := cmd.keyring()
	if err != nil {
		return err
	}
	key, err := readKey(cmd.key)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if err := ring.StoreApiKey(cmd.provider, []byte(key)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored API key for %s\n", cmd.provider)
	return nil
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:4] + strings.Repeat("*", len(k)-8) + k[len(k)-4:]
}

func (cmd *APIKeyCmd) runGet(ctx context.Context, c *cli.Command) error {
	ring, err := cmd.keyring()
	if err != nil {
		return err
	}
	key, err := ring.GetApiKey(cmd.provider)
	if errors.Is(err, services.ErrAPIKeyNotFound) {
		return fmt.Errorf("no API key stored for %s", cmd.provider)
	}
	if err != nil {
		return err
	}
	if cmd.reveal {
		fmt.Println(key)
	} else {
		fmt.Println(maskKey(key))
	}
	return nil
}

func (cmd *APIKeyCmd) runDelete(ctx context.Context, c *cli.Command) error {
	ring, err := cmd.keyring()
	if err != nil {
		return err
	}
	if err := ring.DeleteApiKey(cmd.provider); err != nil {
		if errors.Is(err, services.ErrAPIKeyNotFound) {
			return fmt.Errorf("no API key stored for %s", cmd.provider)
		}
		return err
	}
	fmt.Fprintf(os.Stderr, "deleted API key for %s\n", cmd.provider)
	return nil
}

func (cmd *APIKeyCmd) runList(ctx context.Context, c *cli.Command) error {
	ring, err := cmd.keyring()
	if err != nil {
		return err
	}
	providers, err := ring.ListProviders()
	if err != nil {
		return err
	}
	for _, p := range providers {
		fmt.Println(p)
	}
	return nil
}
