package cec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	adapters   []AdapterInfo
	conf       Configuration
	phys       uint16
	osdName    string
	power      PowerStatus
	powerErr   error
	failOpcode map[Opcode]bool

	opened *Config
	sent   []Command
	logf   LogFunc
	closed bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		adapters: []AdapterInfo{{Path: "/dev/cec0", Driver: "vc4_hdmi"}},
		conf:     Configuration{LogicalAddress: AddrTuner1, PhysicalAddress: 0x1000, DeviceName: "mediabox"},
		phys:     0x1000,
		osdName:  "mediabox",
		power:    PowerOn,
	}
}

func (f *fakeAdapter) Detect() ([]AdapterInfo, error) { return f.adapters, nil }

func (f *fakeAdapter) Open(info AdapterInfo, cfg Config) error {
	f.opened = &cfg
	if f.logf != nil {
		f.logf(LogNotice, time.Unix(0, 0), "opened "+info.Path)
	}
	return nil
}

func (f *fakeAdapter) Configuration() (Configuration, error)          { return f.conf, nil }
func (f *fakeAdapter) PhysicalAddress(LogicalAddress) (uint16, error) { return f.phys, nil }
func (f *fakeAdapter) OSDName(LogicalAddress) (string, error)         { return f.osdName, nil }
func (f *fakeAdapter) SetLogCallback(fn LogFunc)                      { f.logf = fn }
func (f *fakeAdapter) Close() error                                   { f.closed = true; return nil }
func (f *fakeAdapter) PowerStatus(_, _ LogicalAddress) (PowerStatus, error) {
	return f.power, f.powerErr
}

func (f *fakeAdapter) Transmit(cmd Command) error {
	f.sent = append(f.sent, cmd)
	if f.failOpcode[cmd.Opcode] {
		return ErrNotAcknowledged
	}
	return nil
}

func TestOpen(t *testing.T) {
	adapter := newFakeAdapter()

	tx, err := Open(adapter, Config{DeviceName: "mediabox", DeviceType: DeviceTypeTuner}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, AddrTuner1, tx.OwnAddress())
	assert.Equal(t, uint16(0x1000), tx.PhysicalAddress())
	require.NotNil(t, adapter.opened)
	assert.False(t, adapter.opened.ActivateSource)
}

func TestOpenAdapterCount(t *testing.T) {
	for _, n := range []int{0, 2} {
		adapter := newFakeAdapter()
		adapter.adapters = make([]AdapterInfo, n)

		_, err := Open(adapter, Config{DeviceName: "mediabox"}, zerolog.Nop())
		assert.ErrorIs(t, err, ErrAdapterCount)
		assert.Nil(t, adapter.opened, "adapter must not be opened with %d adapters", n)
	}
}

func TestOpenConfigMismatch(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.phys = 0x2000
	_, err := Open(adapter, Config{DeviceName: "mediabox"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfigMismatch)
	assert.True(t, adapter.closed)

	adapter = newFakeAdapter()
	adapter.osdName = "someone-else"
	_, err = Open(adapter, Config{DeviceName: "mediabox"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestOpenTruncatesOSDName(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.conf.DeviceName = "living-room-pi"
	adapter.osdName = "living-room-pi"

	_, err := Open(adapter, Config{DeviceName: "living-room-pi-4b"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "living-room-pi", adapter.opened.DeviceName)
}

func TestTruncateOSDNameKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"mediabox", "mediabox"},
		{"exactly14bytes", "exactly14bytes"},
		{"living-room-pi-4b", "living-room-pi"},
		// "ä" is two bytes and would straddle byte 14
		{"wohnzimmer-xpää", "wohnzimmer-xp"},
		{"ääääääää", "äääääää"},
	}
	for _, tt := range tests {
		got := TruncateOSDName(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.True(t, utf8.ValidString(got), tt.in)
		assert.LessOrEqual(t, len(got), maxOSDNameLen, tt.in)
	}
}

func TestSend(t *testing.T) {
	adapter := newFakeAdapter()
	var buf bytes.Buffer
	tx, err := Open(adapter, Config{DeviceName: "mediabox"}, zerolog.New(&buf))
	require.NoError(t, err)

	var observed []string
	tx.SetOnSend(func(cmd Command, ok bool) {
		observed = append(observed, cmd.String())
	})

	assert.True(t, tx.Send(AddrTV, OpUserControlPressed, byte(VolumeUp)))
	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "30:44:41", adapter.sent[0].String())
	assert.Equal(t, []string{"30:44:41"}, observed)
	assert.Contains(t, buf.String(), "CEC: Sending command: 30:44:41")
}

func TestSendFailureIsReportedNotRaised(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failOpcode = map[Opcode]bool{OpStandby: true}
	tx, err := Open(adapter, Config{DeviceName: "mediabox"}, zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, tx.Send(AddrTV, OpStandby))
	assert.False(t, tx.Send(AddrTV, OpSetOSDName, make([]byte, 20)...))
	assert.Len(t, adapter.sent, 1, "oversized frames never reach the adapter")
}

func TestPowerStatus(t *testing.T) {
	adapter := newFakeAdapter()
	tx, err := Open(adapter, Config{DeviceName: "mediabox"}, zerolog.Nop())
	require.NoError(t, err)

	adapter.power = PowerStandby
	assert.Equal(t, PowerStandby, tx.PowerStatus(AddrTV))

	adapter.powerErr = errors.New("timeout")
	assert.Equal(t, PowerUnknown, tx.PowerStatus(AddrTV))
}

func TestLogBridge(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	logf := bridgeLog(logger)

	logf(LogTraffic, time.Unix(0, 0), ">> 30:44:41")
	logf(LogNotice, time.Unix(0, 0), "opened")
	logf(LogError, time.Unix(0, 0), "oops")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"level":"debug"`)
	assert.Contains(t, lines[0], "CEC(traffic): >> 30:44:41")
	assert.Contains(t, lines[1], `"level":"info"`)
	assert.Contains(t, lines[2], `"level":"error"`)
}

func TestLogLevelMapping(t *testing.T) {
	assert.Equal(t, zerolog.ErrorLevel, LogError.Level())
	assert.Equal(t, zerolog.WarnLevel, LogWarning.Level())
	assert.Equal(t, zerolog.InfoLevel, LogNotice.Level())
	assert.Equal(t, zerolog.DebugLevel, LogDebug.Level())
	assert.Equal(t, zerolog.DebugLevel, LogTraffic.Level())
}
