// Package terminal turns keystrokes on a terminal into bound actions.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cecbridge/internal/keybind"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ErrEndOfInput is returned when the user ends input with Ctrl-D or the input closes.
// Unlike a device removal it stops the whole bridge.
var ErrEndOfInput = errors.New("end of terminal input")

const eot = "\x04"

// Loop reads keys from a terminal
type Loop struct {
	in     io.Reader
	table  *keybind.TerminalTable
	runner *keybind.Runner
	log    zerolog.Logger
}

// New creates a loop reading from in. When in is a terminal it is switched to
// non-canonical mode without echo while the loop runs.
func New(in io.Reader, table *keybind.TerminalTable, runner *keybind.Runner, logger zerolog.Logger) *Loop {
	return &Loop{
		in:     in,
		table:  table,
		runner: runner,
		log:    logger,
	}
}

type chunk struct {
	key string
	err error
}

// Run dispatches keys until ctx is cancelled (nil) or input ends (ErrEndOfInput).
// Each read is one key, so escape sequences like the arrows arrive whole.
func (l *Loop) Run(ctx context.Context) error {
	if f, ok := l.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		restore, err := keyMode(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("configure terminal: %w", err)
		}
		defer func() {
			l.log.Debug().Msg("STDIN: Restoring terminal config")
			if err := restore(); err != nil {
				l.log.Error().Err(err).Msg("STDIN: Failed to restore terminal")
			}
		}()
	}

	// A pending read cannot be interrupted; the reader exits after it once Run returned.
	chunks := make(chan chunk, 16)
	done := make(chan struct{})
	defer close(done)
	go l.read(chunks, done)

	l.log.Info().Msg("STDIN: Ready")
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-chunks:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					l.log.Info().Msg("STDIN: Input closed, cleaning up")
					return ErrEndOfInput
				}
				return fmt.Errorf("read terminal: %w", c.err)
			}
			if c.key == eot {
				l.log.Info().Msg("STDIN: EOF received, cleaning up")
				return ErrEndOfInput
			}
			l.dispatch(ctx, c.key)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, key string) {
	b, ok := l.table.Lookup(key)
	if !ok {
		l.log.Warn().Msgf("STDIN: Unrecognised key: %q", key)
		return
	}
	l.log.Info().Msgf("STDIN: Triggered %q -> %s", key, b.Name)
	l.runner.Go(ctx, "STDIN", b)
}

func (l *Loop) read(out chan<- chunk, done <-chan struct{}) {
	buf := make([]byte, 256)
	send := func(c chunk) bool {
		select {
		case <-done:
			return false
		default:
		}
		select {
		case out <- c:
			return true
		case <-done:
			return false
		}
	}
	for {
		n, err := l.in.Read(buf)
		if n > 0 && !send(chunk{key: string(buf[:n])}) {
			return
		}
		if err != nil {
			send(chunk{err: err})
			return
		}
	}
}
