package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rustsentry/internal/events"
	"rustsentry/internal/logging"
	"rustsentry/internal/queue"
)

// Dequeuer is the consumer side of the job queue.
type Dequeuer interface {
	Dequeue(ctx context.Context) (string, error)
	Len() int
}

// Pool runs a fixed number of workers, each in a blocking dequeue/process loop.
type Pool struct {
	queue   Dequeuer
	workers []*Worker
	events  events.Emitter
	log     zerolog.Logger
}

func NewPool(size int, q Dequeuer, deps Deps) *Pool {
	if size < 1 {
		size = 1
	}
	if deps.Events == nil {
		deps.Events = events.Noop
	}
	p := &Pool{queue: q, events: deps.Events, log: logging.Component("pool")}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, NewWorker(i, deps))
	}
	return p
}

func (p *Pool) Size() int { return len(p.workers) }

// Run blocks until ctx is cancelled or the queue is closed and drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return p.loop(ctx, w)
		})
	}
	p.log.Info().Int("workers", len(p.workers)).Msg("worker pool started")
	err := g.Wait()
	p.log.Info().Msg("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, w *Worker) error {
	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.events.Emit(ctx, events.NewQueueDepth(p.queue.Len()))

		if err := w.Process(ctx, id); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error().Err(err).Str("session_id", id).Int("worker_id", w.id).Msg("session processing error")
		}
	}
}
