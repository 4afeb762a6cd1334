// Package service runs the bridge: it starts a loop for every matching input device,
// the terminal loop and the remote API, and stops them together.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"cecbridge/internal/input"
	"cecbridge/internal/keybind"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInterrupted is the shutdown cause for SIGINT and SIGTERM
var ErrInterrupted = errors.New("interrupted by signal")

// DefaultShutdownTimeout bounds the wait for in-flight actions
const DefaultShutdownTimeout = 5 * time.Second

// Monitor streams device paths, see hotplug.Monitor
type Monitor interface {
	Start(ctx context.Context) (<-chan string, error)
	Err() error
}

// Loop is a long running input source such as the terminal
type Loop interface {
	Run(ctx context.Context) error
}

// APIServer is the optional remote-control server
type APIServer interface {
	Serve(ctx context.Context, addr string) error
}

// Options configures a Service. A nil Monitor, Terminal or API disables that part.
type Options struct {
	Monitor     Monitor
	Open        func(path string) (input.Device, error)
	Table       *keybind.DeviceTable
	Runner      *keybind.Runner
	ExcludePhys []string

	Terminal Loop

	API    APIServer
	Listen string

	// Ready is called once every source is running
	Ready func()

	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Service supervises the input sources
type Service struct {
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	active map[string]input.Device
	loops  sync.WaitGroup
}

// New creates a service
func New(opts Options) *Service {
	if opts.Open == nil {
		opts.Open = input.Open
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{
		opts:   opts,
		log:    opts.Logger,
		active: make(map[string]input.Device),
	}
}

// Run blocks until ctx is cancelled or a source ends the service. Device removal
// only ends that device's loop; end of terminal input ends everything.
// The returned error is the reason: context.Cause(ctx) on cancellation,
// terminal.ErrEndOfInput, or the failure of a source.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.opts.Monitor != nil {
		paths, err := s.opts.Monitor.Start(gctx)
		if err != nil {
			return fmt.Errorf("start device monitor: %w", err)
		}
		g.Go(func() error {
			return s.consume(gctx, paths)
		})
	}
	if s.opts.Terminal != nil {
		g.Go(func() error {
			return s.opts.Terminal.Run(gctx)
		})
	}
	if s.opts.API != nil && s.opts.Listen != "" {
		g.Go(func() error {
			return s.opts.API.Serve(gctx, s.opts.Listen)
		})
	}

	if s.opts.Ready != nil {
		s.opts.Ready()
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	s.log.Info().Msgf("Service: Stopping (%v)", err)

	waitCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	// Device loops watch gctx, which is done once g.Wait returns.
	if !wait(waitCtx, &s.loops) {
		s.log.Warn().Msgf("Service: Device loops still running after %s: %v", s.opts.ShutdownTimeout, s.Active())
	}
	if werr := s.opts.Runner.Shutdown(waitCtx); werr != nil {
		s.log.Warn().Msg("Service: Gave up waiting for running actions")
	}
	return err
}

// wait reports whether wg finished before ctx was done
func wait(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) consume(ctx context.Context, paths <-chan string) error {
	for p := range paths {
		s.startDevice(ctx, p)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.opts.Monitor.Err(); err != nil {
		return fmt.Errorf("device monitor: %w", err)
	}
	return nil
}

// startDevice opens path and starts its loop unless it is running, excluded or has
// none of the bound keys.
func (s *Service) startDevice(ctx context.Context, path string) {
	s.mu.Lock()
	_, running := s.active[path]
	s.mu.Unlock()
	if running {
		s.log.Debug().Msgf("EVDEV: %s already has a loop", path)
		return
	}

	dev, err := s.opts.Open(path)
	if err != nil {
		s.log.Warn().Err(err).Msgf("EVDEV: Cannot open %s", path)
		return
	}
	if slices.Contains(s.opts.ExcludePhys, dev.Phys()) {
		s.log.Debug().Msgf("EVDEV: Ignoring %s (%q), phys %q is excluded", path, dev.Name(), dev.Phys())
		dev.Close()
		return
	}
	if !s.opts.Table.Matches(dev.Capabilities()) {
		s.log.Debug().Msgf("EVDEV: Ignoring %s (%q), no bound keys", path, dev.Name())
		dev.Close()
		return
	}

	s.mu.Lock()
	if _, running := s.active[path]; running {
		s.mu.Unlock()
		dev.Close()
		return
	}
	s.active[path] = dev
	s.mu.Unlock()

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, path)
			s.mu.Unlock()
			dev.Close()
		}()

		err := input.Run(ctx, dev, s.opts.Table, s.opts.Runner, s.log)
		if err != nil && !errors.Is(err, input.ErrDeviceRemoved) {
			s.log.Error().Err(err).Msgf("EVDEV: Device loop for %s stopped", path)
		}
	}()
}

// Active returns the paths that have a running loop
func (s *Service) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.active))
	for p := range s.active {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
