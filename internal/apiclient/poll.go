package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"rustsentry/internal/models"
)

// ErrPollTimeout means the session was still running when the poll timeout elapsed.
// The session itself keeps running on the server.
var ErrPollTimeout = errors.New("timed out waiting for session")

// DefaultReadAttempts bounds how often Poll retries one failed read.
const DefaultReadAttempts = 5

type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// ReadAttempts is the number of tries for each status or detail read. Network errors,
	// 429 and 5xx responses are retried; 404 and other 4xx responses are not.
	ReadAttempts int
	// OnProgress is called after every successful status read.
	OnProgress func(models.SessionStatusView)
}

// Poll reads the session status every Interval until it is terminal, then returns the
// full detail. A zero Timeout polls until ctx is done.
func (c *Client) Poll(ctx context.Context, id string, opts PollOptions) (*models.SessionDetail, error) {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.ReadAttempts <= 0 {
		opts.ReadAttempts = DefaultReadAttempts
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		st, err := readWithRetry(ctx, opts, func() (*models.SessionStatusView, error) {
			return c.Status(ctx, id)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, pollErr(ctx)
			}
			return nil, err
		}
		if opts.OnProgress != nil {
			opts.OnProgress(*st)
		}
		if st.Status.IsTerminal() {
			detail, err := readWithRetry(ctx, opts, func() (*models.SessionDetail, error) {
				return c.Get(ctx, id)
			})
			if err != nil && ctx.Err() != nil {
				return nil, pollErr(ctx)
			}
			return detail, err
		}

		select {
		case <-ctx.Done():
			return nil, pollErr(ctx)
		case <-ticker.C:
		}
	}
}

func readWithRetry[T any](ctx context.Context, opts PollOptions, read func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Interval
	b.MaxInterval = 4 * opts.Interval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := read()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(opts.ReadAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

func pollErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrPollTimeout
	}
	return fmt.Errorf("polling stopped: %w", ctx.Err())
}
