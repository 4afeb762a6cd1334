// Package tv translates remote-control intents into CEC commands for one endpoint,
// correcting for controls the television does not implement the standard way.
package tv

import (
	"time"

	"cecbridge/internal/cec"

	"github.com/rs/zerolog"
)

// DefaultHoldDelay is how long Hold keeps a control pressed
const DefaultHoldDelay = 500 * time.Millisecond

// Bus is the part of the transmitter a Device needs
type Bus interface {
	Send(dst cec.LogicalAddress, op cec.Opcode, params ...byte) bool
	PowerStatus(addr cec.LogicalAddress) cec.PowerStatus
}

// Handler replaces the default press/release sequence for one control
type Handler func() bool

// Device represents a controlled endpoint on the bus
type Device struct {
	bus        Bus
	addr       cec.LogicalAddress
	holdDelay  time.Duration
	exceptions map[cec.UserControl]Handler
	log        zerolog.Logger

	// sleep is swapped in tests
	sleep func(time.Duration)
}

// Option configures a Device
type Option func(*Device)

// WithHoldDelay overrides DefaultHoldDelay
func WithHoldDelay(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.holdDelay = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(dev *Device) {
		dev.log = logger
	}
}

// WithException adds or replaces the handler for a control
func WithException(code cec.UserControl, fn func(d *Device) bool) Option {
	return func(dev *Device) {
		dev.exceptions[code] = func() bool { return fn(dev) }
	}
}

// New creates the proxy for the endpoint at addr
func New(bus Bus, addr cec.LogicalAddress, opts ...Option) *Device {
	d := &Device{
		bus:       bus,
		addr:      addr,
		holdDelay: DefaultHoldDelay,
		log:       zerolog.Nop(),
		sleep:     time.Sleep,
	}

	// The TV accepts <User Control Pressed> POWER for power on but ignores it for
	// power off and has no working toggle. Standby and the power status query do work.
	d.exceptions = map[cec.UserControl]Handler{
		cec.PowerOffFunction:    func() bool { return d.SendCommand(cec.OpStandby) },
		cec.PowerOnFunction:     func() bool { return d.pressRelease(cec.Power) },
		cec.PowerToggleFunction: d.powerToggle,
		// No context menu control exists, holding select does the same on the TV.
		cec.ContentsMenu: func() bool { return d.Hold(cec.Select) },
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Address returns the logical address of the endpoint
func (d *Device) Address() cec.LogicalAddress {
	return d.addr
}

// SendCommand sends a command addressed to this endpoint
func (d *Device) SendCommand(op cec.Opcode, params ...byte) bool {
	return d.bus.Send(d.addr, op, params...)
}

// Press sends a press and a release for code, unless code has an exception handler.
// Both frames are always sent; the result is false if either failed.
func (d *Device) Press(code cec.UserControl) bool {
	if handler, ok := d.exceptions[code]; ok {
		d.log.Debug().Msgf("TV: Using exception handler for %s", code)
		return handler()
	}
	return d.pressRelease(code)
}

func (d *Device) pressRelease(code cec.UserControl) bool {
	pressed := d.SendCommand(cec.OpUserControlPressed, byte(code))
	released := d.SendCommand(cec.OpUserControlRelease)
	return pressed && released
}

// PressOperands presses a control with extra operands, such as Play Function with a
// play mode, then releases it. A single operand is a plain Press.
func (d *Device) PressOperands(ops ...byte) bool {
	switch len(ops) {
	case 0:
		return false
	case 1:
		return d.Press(cec.UserControl(ops[0]))
	}
	pressed := d.SendCommand(cec.OpUserControlPressed, ops...)
	released := d.SendCommand(cec.OpUserControlRelease)
	return pressed && released
}

// Hold presses code, waits the hold delay and releases it.
// If the press is not acknowledged nothing else is sent.
func (d *Device) Hold(code cec.UserControl) bool {
	if !d.SendCommand(cec.OpUserControlPressed, byte(code)) {
		return false
	}
	d.sleep(d.holdDelay)
	return d.SendCommand(cec.OpUserControlRelease)
}

// IsOn queries the endpoint. Standby, transition to standby and unknown all count as off.
func (d *Device) IsOn() bool {
	status := d.bus.PowerStatus(d.addr)
	d.log.Debug().Msgf("CEC: Device %X power status: %s", uint8(d.addr), status)
	return status == cec.PowerOn || status == cec.PowerInTransitionStandbyToOn
}

func (d *Device) powerToggle() bool {
	if d.IsOn() {
		return d.SendCommand(cec.OpStandby)
	}
	return d.pressRelease(cec.Power)
}
