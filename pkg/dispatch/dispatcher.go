// Package dispatch serializes inference calls onto a single background
// worker, enforcing at most one in-flight request per session.
package dispatch

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/inference"
)

// ErrBusy is returned by Submit while a request is already in flight.
// Recoverable: callers disable input while busy and retry after completion.
var ErrBusy = errors.New("a request is already in flight")

type State int

const (
	StateIdle State = iota
	StateBusy
)

func (s State) String() string {
	if s == StateBusy {
		return "busy"
	}
	return "idle"
}

// Dispatcher owns the two-state Idle/Busy machine. There is no cancelled
// state: an in-flight request runs to completion or failure, bounded by the
// engine's own timeout.
type Dispatcher struct {
	engine   inference.Engine
	executor Executor

	mu    sync.Mutex
	state State
}

func NewDispatcher(engine inference.Engine, executor Executor) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		executor: executor,
		state:    StateIdle,
	}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Submit hands the messages to the background worker and returns
// immediately. While busy it returns ErrBusy with no side effect. The
// completion callback receives the reply or the error, delivered on the
// executor after the dispatcher has returned to idle, so results within one
// session arrive in submit order.
func (d *Dispatcher) Submit(
	ctx context.Context,
	msgs conversation.Conversation,
	opts inference.Options,
	onComplete func(reply string, err error),
) error {
	d.mu.Lock()
	if d.state == StateBusy {
		d.mu.Unlock()
		return ErrBusy
	}
	d.state = StateBusy
	d.mu.Unlock()

	log.Debug().Int("messages", len(msgs)).Msg("submitting inference request")

	go func() {
		reply, err := d.engine.Complete(ctx, msgs, opts)

		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()

		if err != nil {
			log.Debug().Err(err).Msg("inference request failed")
		}

		d.executor.Do(func() {
			onComplete(reply, err)
		})
	}()

	return nil
}
