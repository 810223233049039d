package events

import "context"

// Emitter receives pipeline events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, evt Event)

func (f EmitterFunc) Emit(ctx context.Context, evt Event) { f(ctx, evt) }

// Noop discards every event.
var Noop Emitter = EmitterFunc(func(context.Context, Event) {})

type multi []Emitter

func (m multi) Emit(ctx context.Context, evt Event) {
	for _, e := range m {
		e.Emit(ctx, evt)
	}
}

// Multi fans an event out to every non-nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	var out multi
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
