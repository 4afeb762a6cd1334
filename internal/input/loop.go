package input

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"cecbridge/internal/keybind"

	evdev "github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
)

// Run reads events from dev until it disappears or ctx is cancelled. Bound events with a
// non-zero value (press and auto-repeat) start their action without waiting for it.
//
// Removal returns ErrDeviceRemoved; cancellation closes the device and returns nil. Any
// other read error is returned wrapped and ends only this loop.
func Run(ctx context.Context, dev Device, table *keybind.DeviceTable, runner *keybind.Runner, logger zerolog.Logger) error {
	logger.Info().Msgf("EVDEV: Registering %s (%q, phys %q)", dev.Path(), dev.Name(), dev.Phys())

	// ReadEvent cannot be interrupted, closing the device makes it return.
	stop := context.AfterFunc(ctx, func() {
		dev.Close()
	})
	defer stop()

	for {
		ev, err := dev.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, syscall.ENODEV) {
				logger.Info().Msgf("EVDEV: Looks like %s was removed, stopping device loop", dev.Path())
				return ErrDeviceRemoved
			}
			return fmt.Errorf("read %s: %w", dev.Path(), err)
		}

		if ev.Value == ValueRelease {
			continue
		}
		if b, ok := table.Lookup(ev.Type, ev.Code); ok {
			logger.Info().Msgf("EVDEV: Triggered %s (value %d) -> %s", evdev.CodeName(ev.Type, ev.Code), ev.Value, b.Name)
			runner.Go(ctx, "EVDEV", b)
		} else if ev.Type == evdev.EV_KEY {
			logger.Debug().Msgf("EVDEV: Unrecognised key: %s (value %d) on %s", evdev.CodeName(ev.Type, ev.Code), ev.Value, dev.Path())
		}
	}
}
