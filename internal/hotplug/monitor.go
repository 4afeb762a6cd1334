package hotplug

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Listener delivers device events. Events that occur after Open returns are not lost.
type Listener interface {
	Open() error

	// Run delivers events until ctx is cancelled (returning nil) or the source fails
	Run(ctx context.Context, events chan<- Uevent) error

	Close() error
}

// Monitor yields the evdev nodes present at startup, then every node that arrives
type Monitor struct {
	listener  Listener
	enumerate func() ([]string, error)
	log       zerolog.Logger

	started atomic.Bool

	mu  sync.Mutex
	err error
}

// NewMonitor creates a monitor. enumerate lists the nodes that already exist.
func NewMonitor(listener Listener, enumerate func() ([]string, error), logger zerolog.Logger) *Monitor {
	return &Monitor{
		listener:  listener,
		enumerate: enumerate,
		log:       logger,
	}
}

// Start opens the listener, takes the snapshot and streams paths on the returned channel.
// The channel is closed when ctx is cancelled or the listener fails; Err then reports why.
func (m *Monitor) Start(ctx context.Context) (<-chan string, error) {
	if !m.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	// Listen first so nothing that appears during enumeration is missed.
	if err := m.listener.Open(); err != nil {
		return nil, fmt.Errorf("open hotplug listener: %w", err)
	}
	existing, err := m.enumerate()
	if err != nil {
		m.listener.Close()
		return nil, fmt.Errorf("enumerate input devices: %w", err)
	}
	m.log.Debug().Msgf("HOTPLUG: %d input devices present", len(existing))

	out := make(chan string)
	go m.run(ctx, existing, out)
	return out, nil
}

func (m *Monitor) run(ctx context.Context, existing []string, out chan<- string) {
	defer close(out)
	defer m.listener.Close()

	for _, p := range existing {
		select {
		case out <- p:
		case <-ctx.Done():
			return
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Uevent, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- m.listener.Run(runCtx, events)
	}()

	for {
		select {
		case err := <-errc:
			if err == nil && ctx.Err() == nil {
				err = ErrListenerClosed
			}
			if err != nil {
				m.log.Error().Err(err).Msg("HOTPLUG: Listener stopped")
				m.setErr(err)
			}
			return
		case u := <-events:
			p, ok := Accept(u)
			if !ok {
				continue
			}
			m.log.Debug().Msgf("HOTPLUG: %s %s", u.Action, p)
			select {
			case out <- p:
			case <-ctx.Done():
				cancel()
				<-errc
				return
			}
		case <-ctx.Done():
			<-errc
			return
		}
	}
}

func (m *Monitor) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Err returns the error that closed the channel, nil after cancellation
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
