package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cecbridge/internal/cec"
	"cecbridge/internal/keybind"
	"cecbridge/internal/protocol"

	"github.com/gorilla/websocket"
	evdev "github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTV struct {
	mu      sync.Mutex
	pressed []cec.UserControl
	held    []cec.UserControl
	fail    bool
	on      bool
}

func (f *fakeTV) Press(code cec.UserControl) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressed = append(f.pressed, code)
	return !f.fail
}

func (f *fakeTV) Hold(code cec.UserControl) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = append(f.held, code)
	return !f.fail
}

func (f *fakeTV) PressOperands(ops ...byte) bool {
	return f.Press(cec.UserControl(ops[0]))
}

func (f *fakeTV) IsOn() bool                  { return f.on }
func (f *fakeTV) Address() cec.LogicalAddress { return cec.AddrTV }

func (f *fakeTV) snapshot() ([]cec.UserControl, []cec.UserControl) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cec.UserControl(nil), f.pressed...), append([]cec.UserControl(nil), f.held...)
}

func newTestServer(t *testing.T, tv *fakeTV, token string) (*Server, *keybind.Runner) {
	t.Helper()
	runner := keybind.NewRunner(zerolog.Nop())
	keys := keybind.NewDeviceTableWith(map[keybind.EventKey]keybind.Binding{
		{Type: evdev.EV_KEY, Code: evdev.KEY_VOLUMEUP}: keybind.Press(tv, cec.VolumeUp),
	})
	info := Info{OwnAddress: cec.AddrTuner1, PhysicalAddress: 0x1000, OSDName: "livingroom"}
	return NewServer(tv, keys, runner, info, token, zerolog.Nop()), runner
}

func waitRunner(t *testing.T, r *keybind.Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestPressEndpoint(t *testing.T) {
	tv := &fakeTV{}
	s, _ := newTestServer(t, tv, "")
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/press?control=volume_up", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VOLUME_UP", body["control"])
	assert.Equal(t, true, body["ok"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/press?control=select&hold=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	pressed, held := tv.snapshot()
	assert.Equal(t, []cec.UserControl{cec.VolumeUp}, pressed)
	assert.Equal(t, []cec.UserControl{cec.Select}, held)
}

func TestPressEndpointErrors(t *testing.T) {
	tv := &fakeTV{fail: true}
	s, _ := newTestServer(t, tv, "")
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"WrongMethod", http.MethodGet, "/api/press?control=up", http.StatusMethodNotAllowed},
		{"UnknownControl", http.MethodPost, "/api/press?control=warp_drive", http.StatusBadRequest},
		{"MissingControl", http.MethodPost, "/api/press", http.StatusBadRequest},
		{"BadHold", http.MethodPost, "/api/press?control=up&hold=maybe", http.StatusBadRequest},
		{"NotAcknowledged", http.MethodPost, "/api/press?control=0x41", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeTV{on: true}, "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, cec.AddrTuner1.String(), body["own_address"])
	assert.Equal(t, "1.0.0.0", body["physical_address"])
	assert.Equal(t, "livingroom", body["osd_name"])
	assert.Equal(t, true, body["tv_on"])
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, &fakeTV{}, "secret")
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?token=secret", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query token is only accepted for /ws")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func startServing(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errc)
	})
	return "ws://" + ln.Addr().String() + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketPressAndKey(t *testing.T) {
	tv := &fakeTV{}
	s, runner := newTestServer(t, tv, "secret")
	conn := dial(t, startServing(t, s)+"?token=secret")

	press, err := protocol.New(protocol.TypePress, protocol.ControlPayload{Control: "mute"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(press))

	key, err := protocol.New(protocol.TypeKey, protocol.KeyPayload{Key: "KEY_VOLUMEUP"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(key))

	// ping replies are ordered after the requests above
	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypePing}))
	assert.Equal(t, protocol.TypePing, readMessage(t, conn).Type)

	waitRunner(t, runner)
	pressed, _ := tv.snapshot()
	assert.ElementsMatch(t, []cec.UserControl{cec.Mute, cec.VolumeUp}, pressed)
}

func TestWebSocketErrors(t *testing.T) {
	s, _ := newTestServer(t, &fakeTV{}, "")
	conn := dial(t, startServing(t, s))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, protocol.TypeError, readMessage(t, conn).Type)

	key, err := protocol.New(protocol.TypeKey, protocol.KeyPayload{Key: "KEY_A"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(key))
	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeError, msg.Type)
	var payload protocol.ErrorPayload
	require.NoError(t, msg.Decode(&payload))
	assert.True(t, strings.Contains(payload.Message, "not bound"))
}

func TestWebSocketBroadcastsSent(t *testing.T) {
	s, _ := newTestServer(t, &fakeTV{}, "")
	conn := dial(t, startServing(t, s))

	// make sure the client is registered before broadcasting
	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypePing}))
	readMessage(t, conn)

	s.BroadcastSent(cec.NewCommand(cec.AddrTuner1, cec.AddrTV, cec.OpUserControlPressed, byte(cec.VolumeUp)), true)

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeSent, msg.Type)
	var payload protocol.SentPayload
	require.NoError(t, msg.Decode(&payload))
	assert.Equal(t, "30:44:41", payload.Command)
	assert.True(t, payload.OK)
}
