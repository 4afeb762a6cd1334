package keybind

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cecbridge/internal/cec"

	evdev "github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	hold bool
	code cec.UserControl
	ops  []byte
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
	ok    bool
}

func (f *fakeController) Press(code cec.UserControl) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{code: code})
	return f.ok
}

func (f *fakeController) Hold(code cec.UserControl) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{hold: true, code: code})
	return f.ok
}

func (f *fakeController) PressOperands(ops ...byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{code: cec.UserControl(ops[0]), ops: ops})
	return f.ok
}

func run(t *testing.T, b Binding) error {
	t.Helper()
	return b.Run(context.Background())
}

func TestLoadKeymap(t *testing.T) {
	km, err := LoadKeymap(filepath.Join("testdata", "cec.toml"))
	require.NoError(t, err)

	assert.Equal(t, "cec", km.Name)
	assert.Equal(t, "cec", km.Protocol)
	require.NotEmpty(t, km.Entries)

	for i := 1; i < len(km.Entries); i++ {
		assert.Less(t, km.Entries[i-1].Scancode, km.Entries[i].Scancode)
	}

	var found bool
	for _, e := range km.Entries {
		if e.KeyName == "KEY_VOLUMEUP" {
			found = true
			assert.Equal(t, Scancode(cec.VolumeUp), e.Scancode)
			assert.Equal(t, evdev.EvCode(evdev.KEY_VOLUMEUP), e.Code)
		}
	}
	assert.True(t, found)
}

func TestLoadKeymapMissingFile(t *testing.T) {
	_, err := LoadKeymap(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseKeymapErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"NotTOML", "[[protocols]\nname ="},
		{"NoProtocols", "name = \"cec\"\n"},
		{"UnknownKey", "[[protocols]]\nname = \"cec\"\n[protocols.scancodes]\n0x01 = \"KEY_DOES_NOT_EXIST\"\n"},
		{"ScancodeTooLarge", "[[protocols]]\nname = \"cec\"\n[protocols.scancodes]\n0x123456789 = \"KEY_UP\"\n"},
		{"ScancodeNotHex", "[[protocols]]\nname = \"cec\"\n[protocols.scancodes]\nzz = \"KEY_UP\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeymap([]byte(tt.data))
			assert.ErrorIs(t, err, ErrKeymap)
		})
	}
}

func TestDeviceTable(t *testing.T) {
	km, err := LoadKeymap(filepath.Join("testdata", "cec.toml"))
	require.NoError(t, err)
	c := &fakeController{ok: true}
	table := NewDeviceTable(km, c)

	b, ok := table.Lookup(evdev.EV_KEY, evdev.KEY_VOLUMEUP)
	require.True(t, ok)
	assert.Equal(t, "press VOLUME_UP", b.Name)
	require.NoError(t, run(t, b))
	assert.Equal(t, []call{{code: cec.VolumeUp}}, c.calls)

	_, ok = table.Lookup(evdev.EV_REL, evdev.EvCode(evdev.REL_X))
	assert.False(t, ok)
}

func TestDeviceTableDefaults(t *testing.T) {
	km, err := LoadKeymap(filepath.Join("testdata", "cec.toml"))
	require.NoError(t, err)
	c := &fakeController{ok: true}
	table := NewDeviceTable(km, c)

	b, ok := table.Lookup(evdev.EV_KEY, evdev.KEY_CLOSE)
	require.True(t, ok)
	assert.Equal(t, "press POWER_TOGGLE_FUNCTION", b.Name)

	b, ok = table.Lookup(evdev.EV_KEY, evdev.KEY_INFO)
	require.True(t, ok)
	assert.Equal(t, "press DISPLAY_INFORMATION", b.Name)

	// KEY_MENU is in the keymap, so the hold default must not replace it
	b, ok = table.Lookup(evdev.EV_KEY, evdev.KEY_MENU)
	require.True(t, ok)
	assert.Equal(t, "press CONTENTS_MENU", b.Name)

	// KEY_REWIND and KEY_FASTFORWARD appear twice in the keymap
	assert.Equal(t, len(km.Entries)+2-2, table.Len())
}

func TestDeviceTableDefaultMenuIsHold(t *testing.T) {
	c := &fakeController{ok: true}
	table := NewDeviceTable(&Keymap{}, c)

	b, ok := table.Lookup(evdev.EV_KEY, evdev.KEY_MENU)
	require.True(t, ok)
	require.NoError(t, run(t, b))
	assert.Equal(t, []call{{hold: true, code: cec.Select}}, c.calls)
	assert.Equal(t, 3, table.Len())
}

func TestDeviceTableLowestScancodeWins(t *testing.T) {
	km, err := ParseKeymap([]byte("[[protocols]]\nname = \"cec\"\n[protocols.scancodes]\n0x2b = \"KEY_OK\"\n0x00 = \"KEY_OK\"\n"))
	require.NoError(t, err)

	table := NewDeviceTable(km, &fakeController{})
	b, ok := table.Lookup(evdev.EV_KEY, evdev.KEY_OK)
	require.True(t, ok)
	assert.Equal(t, "press SELECT", b.Name)
}

func TestParseKeymapWideScancodes(t *testing.T) {
	km, err := ParseKeymap([]byte("[[protocols]]\nname = \"cec\"\n[protocols.scancodes]\n0x41 = \"KEY_VOLUMEUP\"\n0x6005 = \"KEY_FASTFORWARD\"\n0x6024 = \"KEY_PLAY\"\n"))
	require.NoError(t, err)
	require.Len(t, km.Entries, 3)
	assert.Equal(t, Scancode(0x6005), km.Entries[1].Scancode)
	assert.Equal(t, []byte{0x60, 0x05}, km.Entries[1].Scancode.Operands())
	assert.Equal(t, cec.PlayFunction, km.Entries[1].Scancode.Control())

	c := &fakeController{ok: true}
	table := NewDeviceTable(km, c)
	b, ok := table.Lookup(evdev.EV_KEY, evdev.KEY_PLAY)
	require.True(t, ok)
	assert.Equal(t, "press PLAY_FUNCTION 24", b.Name)
	require.NoError(t, run(t, b))
	assert.Equal(t, []call{{code: cec.PlayFunction, ops: []byte{0x60, 0x24}}}, c.calls)
}

func TestScancodeOperands(t *testing.T) {
	assert.Equal(t, []byte{0x00}, Scancode(0).Operands())
	assert.Equal(t, []byte{0x41}, Scancode(0x41).Operands())
	assert.Equal(t, []byte{0x60, 0x05}, Scancode(0x6005).Operands())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, Scancode(0x010203).Operands())
	assert.False(t, Scancode(0xFF).Wide())
	assert.True(t, Scancode(0x100).Wide())
}

func TestDeviceTableWideScancodeLosesToLowest(t *testing.T) {
	km, err := LoadKeymap(filepath.Join("testdata", "cec.toml"))
	require.NoError(t, err)
	c := &fakeController{ok: true}
	table := NewDeviceTable(km, c)

	b, ok := table.Lookup(evdev.EV_KEY, evdev.KEY_FASTFORWARD)
	require.True(t, ok)
	require.NoError(t, run(t, b))
	assert.Equal(t, []call{{code: cec.FastForward}}, c.calls)
}

func TestDeviceTableMatches(t *testing.T) {
	table := NewDeviceTable(&Keymap{}, &fakeController{})

	assert.True(t, table.Matches(map[evdev.EvType][]evdev.EvCode{
		evdev.EV_SYN: {0},
		evdev.EV_KEY: {evdev.KEY_A, evdev.KEY_CLOSE},
	}))
	assert.False(t, table.Matches(map[evdev.EvType][]evdev.EvCode{
		evdev.EV_KEY: {evdev.KEY_A, evdev.KEY_B},
	}))
	assert.False(t, table.Matches(map[evdev.EvType][]evdev.EvCode{
		evdev.EV_REL: {evdev.EvCode(evdev.KEY_CLOSE)},
	}))
	assert.False(t, table.Matches(nil))
}

func TestTerminalTable(t *testing.T) {
	c := &fakeController{ok: true}
	table := NewTerminalTable(c)

	tests := []struct {
		key  string
		want call
	}{
		{"\x1b[A", call{code: cec.Up}},
		{"\x1b[B", call{code: cec.Down}},
		{"\x1b[C", call{code: cec.Right}},
		{"\x1b[D", call{code: cec.Left}},
		{"\x1b", call{code: cec.Exit}},
		{"\n", call{code: cec.Select}},
		{"p", call{code: cec.Pause}},
		{"P", call{code: cec.Play}},
		{"S", call{code: cec.Stop}},
		{"~", call{code: cec.SetupMenu}},
		{"I", call{code: cec.InputSelect}},
		{"i", call{code: cec.DisplayInformation}},
		{"m", call{hold: true, code: cec.Select}},
	}

	for _, tt := range tests {
		b, ok := table.Lookup(tt.key)
		require.True(t, ok, "%q", tt.key)
		c.calls = nil
		require.NoError(t, run(t, b))
		assert.Equal(t, []call{tt.want}, c.calls, "%q", tt.key)
	}

	_, ok := table.Lookup("x")
	assert.False(t, ok)
	assert.Equal(t, len(tests), table.Len())
}

func TestBindingReportsIncomplete(t *testing.T) {
	c := &fakeController{ok: false}
	assert.ErrorIs(t, run(t, Press(c, cec.Up)), ErrIncomplete)
	assert.ErrorIs(t, run(t, Hold(c, cec.Select)), ErrIncomplete)
}

func TestRunnerRecoversAndLogs(t *testing.T) {
	var buf syncBuffer
	r := NewRunner(zerolog.New(&buf))

	r.Go(context.Background(), "EVDEV", Binding{Name: "boom", Run: func(context.Context) error {
		panic("kaboom")
	}})
	r.Go(context.Background(), "EVDEV", Binding{Name: "fails", Run: func(context.Context) error {
		return errors.New("broken")
	}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))

	out := buf.String()
	assert.Contains(t, out, `Action \"boom\" panicked: kaboom`)
	assert.Contains(t, out, `Action \"fails\" failed`)
}

func TestRunnerDetachesCancellation(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var actionErr error
	r.Go(ctx, "STDIN", Binding{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-release
		actionErr = ctx.Err()
		return nil
	}})

	<-started
	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, r.Wait(waitCtx))
	assert.NoError(t, actionErr)
}

func TestRunnerRefusesWorkAfterShutdown(t *testing.T) {
	var buf syncBuffer
	r := NewRunner(zerolog.New(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	var ran atomic.Bool
	r.Go(context.Background(), "WS", Binding{Name: "late", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}})
	require.NoError(t, r.Wait(ctx))
	assert.False(t, ran.Load())
	assert.Contains(t, buf.String(), `not running \"late\"`)
}

func TestRunnerShutdownWhileDispatching(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Go(context.Background(), "WS", Binding{Name: "noop", Run: func(context.Context) error { return nil }})
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	close(stop)
	wg.Wait()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
