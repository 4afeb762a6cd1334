package keybind

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"cecbridge/internal/cec"

	evdev "github.com/holoplot/go-evdev"
	"github.com/pelletier/go-toml/v2"
)

// DefaultKeymapPath is where ir-keytable installs the CEC remote keymap
const DefaultKeymapPath = "/usr/lib/udev/rc_keymaps/cec.toml"

// Scancode is a user control code as found in rc_keymaps. Codes wider than one byte
// carry their operands after the control ("Play Function" 0x60 + play mode 0x05 is 0x6005).
type Scancode uint32

// Operands returns the scancode as big-endian <User Control Pressed> operand bytes
func (s Scancode) Operands() []byte {
	ops := []byte{byte(s)}
	for v := s >> 8; v != 0; v >>= 8 {
		ops = append([]byte{byte(v)}, ops...)
	}
	return ops
}

// Control returns the user control code, the first operand
func (s Scancode) Control() cec.UserControl {
	return cec.UserControl(s.Operands()[0])
}

// Wide reports whether the scancode has operands beyond the control
func (s Scancode) Wide() bool {
	return s > 0xFF
}

// KeymapEntry maps one scancode to an evdev key code
type KeymapEntry struct {
	Scancode Scancode
	KeyName  string
	Code     evdev.EvCode
}

// Keymap is the resolved content of an rc_keymaps file
type Keymap struct {
	Name     string
	Protocol string
	Entries  []KeymapEntry // ordered by scancode
}

// rcKeymapFile follows the ir-keytable rc_keymaps TOML layout
type rcKeymapFile struct {
	Protocols []struct {
		Name      string            `toml:"name"`
		Protocol  string            `toml:"protocol"`
		Scancodes map[string]string `toml:"scancodes"`
	} `toml:"protocols"`
}

// LoadKeymap reads and resolves an rc_keymaps file. Every failure is fatal for startup.
func LoadKeymap(path string) (*Keymap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keymap %s: %w", path, err)
	}
	km, err := ParseKeymap(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return km, nil
}

// ParseKeymap resolves rc_keymaps TOML. Only the first protocol is used.
func ParseKeymap(data []byte) (*Keymap, error) {
	var file rcKeymapFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeymap, err)
	}
	if len(file.Protocols) == 0 {
		return nil, fmt.Errorf("%w: no protocols", ErrKeymap)
	}

	proto := file.Protocols[0]
	km := &Keymap{Name: proto.Name, Protocol: proto.Protocol}
	for scancode, keyName := range proto.Scancodes {
		sc, err := parseScancode(scancode)
		if err != nil {
			return nil, err
		}
		code, ok := evdev.KEYFromString[keyName]
		if !ok {
			return nil, fmt.Errorf("%w: unknown key name %q for scancode %s", ErrKeymap, keyName, scancode)
		}
		km.Entries = append(km.Entries, KeymapEntry{Scancode: sc, KeyName: keyName, Code: code})
	}

	sort.Slice(km.Entries, func(i, j int) bool {
		return km.Entries[i].Scancode < km.Entries[j].Scancode
	})
	return km, nil
}

func parseScancode(s string) (Scancode, error) {
	hex := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: scancode %q is not a hex value", ErrKeymap, s)
	}
	return Scancode(v), nil
}
