package keybind

import (
	"cecbridge/internal/cec"

	evdev "github.com/holoplot/go-evdev"
)

// EventKey identifies an input event by type and code
type EventKey struct {
	Type evdev.EvType
	Code evdev.EvCode
}

// DeviceTable maps input events to bindings. It is not modified after construction.
type DeviceTable struct {
	bindings map[EventKey]Binding
}

// NewDeviceTable binds every keymap entry to a press of its scancode, then adds
// the bindings the keymap does not provide.
func NewDeviceTable(km *Keymap, c Controller) *DeviceTable {
	bindings := make(map[EventKey]Binding, len(km.Entries)+3)
	for _, e := range km.Entries {
		key := EventKey{Type: evdev.EV_KEY, Code: e.Code}
		if _, exists := bindings[key]; exists {
			// Entries are sorted, the lowest scancode keeps the key.
			continue
		}
		bindings[key] = PressScancode(c, e.Scancode)
	}

	// KEY_POWER would make logind shut the host down, so the remote uses KEY_CLOSE for power.
	addDefault(bindings, evdev.KEY_CLOSE, Press(c, cec.PowerToggleFunction))
	addDefault(bindings, evdev.KEY_INFO, Press(c, cec.DisplayInformation))
	addDefault(bindings, evdev.KEY_MENU, Hold(c, cec.Select))

	return &DeviceTable{bindings: bindings}
}

// NewDeviceTableWith builds a table from explicit bindings
func NewDeviceTableWith(bindings map[EventKey]Binding) *DeviceTable {
	copied := make(map[EventKey]Binding, len(bindings))
	for k, b := range bindings {
		copied[k] = b
	}
	return &DeviceTable{bindings: copied}
}

func addDefault(bindings map[EventKey]Binding, code evdev.EvCode, b Binding) {
	key := EventKey{Type: evdev.EV_KEY, Code: code}
	if _, exists := bindings[key]; !exists {
		bindings[key] = b
	}
}

// Lookup returns the binding for an event
func (t *DeviceTable) Lookup(typ evdev.EvType, code evdev.EvCode) (Binding, bool) {
	b, ok := t.bindings[EventKey{Type: typ, Code: code}]
	return b, ok
}

// Len returns the number of bindings
func (t *DeviceTable) Len() int {
	return len(t.bindings)
}

// Matches reports whether a device with the given capabilities can produce at least one bound event
func (t *DeviceTable) Matches(caps map[evdev.EvType][]evdev.EvCode) bool {
	for typ, codes := range caps {
		for _, code := range codes {
			if _, ok := t.bindings[EventKey{Type: typ, Code: code}]; ok {
				return true
			}
		}
	}
	return false
}

// TerminalTable maps raw terminal input to bindings
type TerminalTable struct {
	bindings map[string]Binding
}

// NewTerminalTable returns the fixed terminal bindings
func NewTerminalTable(c Controller) *TerminalTable {
	return &TerminalTable{bindings: map[string]Binding{
		"\x1b[A": Press(c, cec.Up),
		"\x1b[B": Press(c, cec.Down),
		"\x1b[C": Press(c, cec.Right),
		"\x1b[D": Press(c, cec.Left),
		"\x1b":   Press(c, cec.Exit),
		"\n":     Press(c, cec.Select),

		"p": Press(c, cec.Pause),
		"P": Press(c, cec.Play),
		"S": Press(c, cec.Stop),

		// settings, same as the gear button on the TV remote
		"~": Press(c, cec.SetupMenu),
		// HDMI/AV/tuner selector
		"I": Press(c, cec.InputSelect),
		"i": Press(c, cec.DisplayInformation),

		// context menu
		"m": Hold(c, cec.Select),
	}}
}

// Lookup returns the binding for a key string
func (t *TerminalTable) Lookup(key string) (Binding, bool) {
	b, ok := t.bindings[key]
	return b, ok
}

// Len returns the number of bindings
func (t *TerminalTable) Len() int {
	return len(t.bindings)
}
