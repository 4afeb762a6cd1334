//go:build linux

package input

import (
	"fmt"

	evdev "github.com/holoplot/go-evdev"
)

type evdevDevice struct {
	dev  *evdev.InputDevice
	path string
	name string
	phys string
	caps map[evdev.EvType][]evdev.EvCode
}

// Open opens an evdev node and reads its identity and capabilities
func Open(path string) (Device, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &evdevDevice{dev: dev, path: path, caps: make(map[evdev.EvType][]evdev.EvCode)}
	// Name and phys are informational, some virtual devices have neither.
	d.name, _ = dev.Name()
	d.phys, _ = dev.PhysicalLocation()
	for _, t := range dev.CapableTypes() {
		d.caps[t] = dev.CapableEvents(t)
	}

	// The ioctls above call Fd(), which leaves the file in blocking mode. Without
	// going back to non-blocking reads Close cannot interrupt a pending ReadOne.
	if err := dev.NonBlock(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("set %s non-blocking: %w", path, err)
	}
	return d, nil
}

// ListPaths returns the evdev nodes currently present
func ListPaths() ([]string, error) {
	inputs, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(inputs))
	for _, in := range inputs {
		paths = append(paths, in.Path)
	}
	return paths, nil
}

func (d *evdevDevice) Path() string { return d.path }
func (d *evdevDevice) Name() string { return d.name }
func (d *evdevDevice) Phys() string { return d.phys }

func (d *evdevDevice) Capabilities() map[evdev.EvType][]evdev.EvCode {
	return d.caps
}

func (d *evdevDevice) ReadEvent() (Event, error) {
	ev, err := d.dev.ReadOne()
	if err != nil {
		return Event{}, err
	}
	return Event{Type: ev.Type, Code: ev.Code, Value: ev.Value}, nil
}

func (d *evdevDevice) Close() error {
	return d.dev.Close()
}

func (d *evdevDevice) String() string {
	return fmt.Sprintf("device %s, name %q, phys %q", d.path, d.name, d.phys)
}
