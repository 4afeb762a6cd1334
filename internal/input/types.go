// Package input reads key events from evdev input devices and dispatches the bound actions.
package input

import (
	"errors"

	evdev "github.com/holoplot/go-evdev"
)

// ErrDeviceRemoved ends a device loop when its node disappears. It never stops the process.
var ErrDeviceRemoved = errors.New("input device removed")

// Event values reported for EV_KEY
const (
	ValueRelease = 0
	ValuePress   = 1
	ValueRepeat  = 2
)

// Event is a single input event
type Event struct {
	Type  evdev.EvType
	Code  evdev.EvCode
	Value int32
}

// Device is an input node
type Device interface {
	// Path is the device node, e.g. /dev/input/event3
	Path() string

	// Name is the name reported by the driver
	Name() string

	// Phys is the physical location reported by the driver, e.g. "vc4-hdmi/input0"
	Phys() string

	// Capabilities maps event types to the codes the device can report
	Capabilities() map[evdev.EvType][]evdev.EvCode

	// ReadEvent blocks until the next event
	ReadEvent() (Event, error)

	Close() error
}
