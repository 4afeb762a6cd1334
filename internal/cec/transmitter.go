package cec

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const maxOSDNameLen = 14

// Transmitter owns the adapter and the logical address of this process.
type Transmitter struct {
	mu      sync.Mutex
	adapter Adapter
	own     LogicalAddress
	phys    uint16
	name    string
	log     zerolog.Logger

	// onSend, when set, observes every transmitted command and its outcome
	onSend func(cmd Command, ok bool)
}

// Open detects the single adapter, opens it and verifies the configuration it reports.
// Any error is fatal for the caller: there is no partially opened state.
func Open(adapter Adapter, cfg Config, logger zerolog.Logger) (*Transmitter, error) {
	adapter.SetLogCallback(bridgeLog(logger))
	cfg.DeviceName = TruncateOSDName(cfg.DeviceName)

	adapters, err := adapter.Detect()
	if err != nil {
		return nil, fmt.Errorf("detect adapters: %w", err)
	}
	if len(adapters) != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrAdapterCount, len(adapters))
	}

	logger.Info().Msgf("CEC: Opening adapter %s (%s)", adapters[0].Path, adapters[0].Driver)
	if err := adapter.Open(adapters[0], cfg); err != nil {
		return nil, fmt.Errorf("open %s: %w", adapters[0].Path, err)
	}

	t, err := verify(adapter, cfg, logger)
	if err != nil {
		adapter.Close()
		return nil, err
	}
	return t, nil
}

func verify(adapter Adapter, cfg Config, logger zerolog.Logger) (*Transmitter, error) {
	conf, err := adapter.Configuration()
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	phys, err := adapter.PhysicalAddress(conf.LogicalAddress)
	if err != nil {
		return nil, fmt.Errorf("read physical address: %w", err)
	}
	if phys != conf.PhysicalAddress {
		return nil, fmt.Errorf("%w: physical address %s, configuration says %s",
			ErrConfigMismatch, FormatPhysicalAddress(phys), FormatPhysicalAddress(conf.PhysicalAddress))
	}

	name, err := adapter.OSDName(conf.LogicalAddress)
	if err != nil {
		return nil, fmt.Errorf("read OSD name: %w", err)
	}
	if name != cfg.DeviceName || conf.DeviceName != cfg.DeviceName {
		return nil, fmt.Errorf("%w: OSD name %q, requested %q", ErrConfigMismatch, name, cfg.DeviceName)
	}

	logger.Info().Msgf("CEC: Claimed logical address %X (%s), physical address %s as %q",
		uint8(conf.LogicalAddress), conf.LogicalAddress, FormatPhysicalAddress(phys), name)

	return &Transmitter{
		adapter: adapter,
		own:     conf.LogicalAddress,
		phys:    phys,
		name:    name,
		log:     logger,
	}, nil
}

// OwnAddress returns the logical address claimed at startup
func (t *Transmitter) OwnAddress() LogicalAddress {
	return t.own
}

// PhysicalAddress returns the physical address of this process on the bus
func (t *Transmitter) PhysicalAddress() uint16 {
	return t.phys
}

// OSDName returns the name the adapter announces
func (t *Transmitter) OSDName() string {
	return t.name
}

// SetOnSend registers an observer for transmitted commands
func (t *Transmitter) SetOnSend(fn func(cmd Command, ok bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSend = fn
}

// Send transmits a command from our own address to dst.
// Transmission failures are expected on a shared bus and are reported as false, never as errors.
func (t *Transmitter) Send(dst LogicalAddress, op Opcode, params ...byte) bool {
	return t.SendCommand(NewCommand(t.own, dst, op, params...))
}

// SendCommand transmits a fully built command
func (t *Transmitter) SendCommand(cmd Command) bool {
	t.log.Info().Msgf("CEC: Sending command: %s", cmd)

	ok := true
	if err := cmd.Validate(); err != nil {
		t.log.Warn().Err(err).Msgf("CEC: Not sending %s", cmd)
		ok = false
	}

	t.mu.Lock()
	if ok {
		if err := t.adapter.Transmit(cmd); err != nil {
			t.log.Warn().Err(err).Msgf("CEC: Transmit %s failed", cmd)
			ok = false
		}
	}
	onSend := t.onSend
	t.mu.Unlock()

	if onSend != nil {
		onSend(cmd, ok)
	}
	return ok
}

// PowerStatus queries the current power status of addr. Errors yield PowerUnknown.
func (t *Transmitter) PowerStatus(addr LogicalAddress) PowerStatus {
	t.mu.Lock()
	status, err := t.adapter.PowerStatus(t.own, addr)
	t.mu.Unlock()

	if err != nil {
		t.log.Warn().Err(err).Msgf("CEC: Power status query for %s failed", addr)
		return PowerUnknown
	}
	return status
}

// Close releases the adapter
func (t *Transmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adapter.Close()
}

// TruncateOSDName cuts name to the 14 bytes an OSD name may carry, never inside a rune
func TruncateOSDName(name string) string {
	if len(name) <= maxOSDNameLen {
		return name
	}
	end := maxOSDNameLen
	for end > 0 && !utf8.RuneStart(name[end]) {
		end--
	}
	return name[:end]
}

// FormatPhysicalAddress renders a physical address as a.b.c.d
func FormatPhysicalAddress(pa uint16) string {
	return fmt.Sprintf("%d.%d.%d.%d", pa>>12, (pa>>8)&0xF, (pa>>4)&0xF, pa&0xF)
}
