// Package keybind maps input events and terminal keys to actions on the TV.
package keybind

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"cecbridge/internal/cec"

	"github.com/rs/zerolog"
)

// Action is a unit of work started by a key
type Action func(ctx context.Context) error

// Binding is an action with a name for logging
type Binding struct {
	Name string
	Run  Action
}

// Controller is what bindings act on
type Controller interface {
	Press(code cec.UserControl) bool
	Hold(code cec.UserControl) bool
	PressOperands(ops ...byte) bool
}

// Press returns a binding that presses code on c
func Press(c Controller, code cec.UserControl) Binding {
	return Binding{
		Name: "press " + code.String(),
		Run: func(context.Context) error {
			if !c.Press(code) {
				return ErrIncomplete
			}
			return nil
		},
	}
}

// PressScancode returns a binding that presses a keymap scancode on c.
// One byte scancodes go through Press so the TV corrections apply.
func PressScancode(c Controller, sc Scancode) Binding {
	if !sc.Wide() {
		return Press(c, sc.Control())
	}
	ops := sc.Operands()
	return Binding{
		Name: fmt.Sprintf("press %s %X", sc.Control(), ops[1:]),
		Run: func(context.Context) error {
			if !c.PressOperands(ops...) {
				return ErrIncomplete
			}
			return nil
		},
	}
}

// Hold returns a binding that holds code on c
func Hold(c Controller, code cec.UserControl) Binding {
	return Binding{
		Name: "hold " + code.String(),
		Run: func(context.Context) error {
			if !c.Hold(code) {
				return ErrIncomplete
			}
			return nil
		},
	}
}

// Runner starts actions without waiting for them. Errors and panics are logged and
// never reach the loop that started the action.
type Runner struct {
	log zerolog.Logger
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a Runner
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{log: logger}
}

// Go runs b on its own goroutine. Cancelling ctx does not stop an action that already started.
// After Shutdown, b is dropped.
func (r *Runner) Go(ctx context.Context, source string, b Binding) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn().Msgf("%s: Shutting down, not running %q", source, b.Name)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("binding", b.Name).Msgf("%s: Action %q panicked: %v\n%s", source, b.Name, p, debug.Stack())
			}
		}()

		err := b.Run(ctx)
		switch {
		case err == nil:
			r.log.Debug().Msgf("%s: Action %q finished", source, b.Name)
		case errors.Is(err, ErrIncomplete):
			r.log.Warn().Msgf("%s: Action %q: %v", source, b.Name, err)
		default:
			r.log.Error().Err(err).Msgf("%s: Action %q failed", source, b.Name)
		}
	}()
}

// Shutdown stops accepting actions and waits for the running ones like Wait
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Wait(ctx)
}

// Wait blocks until every started action finished or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
