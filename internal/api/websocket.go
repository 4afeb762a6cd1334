package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cecbridge/internal/cec"
	"cecbridge/internal/keybind"
	"cecbridge/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 5 / 6
	maxRequestSize = 4096
	remoteQueue    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Remotes are phones and scripts without an Origin worth checking; the token guards access
	CheckOrigin: func(*http.Request) bool { return true },
}

// hub tracks connected remotes and fans out "sent" notifications
type hub struct {
	server  *Server
	mu      sync.Mutex
	remotes map[*remote]struct{}
	events  chan []byte
	join    chan *remote
	leave   chan *remote
	done    chan struct{}
}

// remote is one websocket connection
type remote struct {
	hub   *hub
	conn  *websocket.Conn
	queue chan []byte
	addr  string
}

func newHub(s *Server) *hub {
	return &hub{
		server:  s,
		remotes: make(map[*remote]struct{}),
		events:  make(chan []byte, 64),
		join:    make(chan *remote),
		leave:   make(chan *remote),
		done:    make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	log := h.server.log
	defer close(h.done)
	for {
		select {
		case r := <-h.join:
			h.mu.Lock()
			h.remotes[r] = struct{}{}
			n := len(h.remotes)
			h.mu.Unlock()
			log.Info().Msgf("WS: Remote %s connected (%d connected)", r.addr, n)

		case r := <-h.leave:
			h.mu.Lock()
			if h.drop(r) {
				log.Info().Msgf("WS: Remote %s disconnected (%d connected)", r.addr, len(h.remotes))
			}
			h.mu.Unlock()

		case data := <-h.events:
			h.fanout(data)

		case <-ctx.Done():
			h.mu.Lock()
			for r := range h.remotes {
				h.drop(r)
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop forgets r and closes its queue; h.mu must be held
func (h *hub) drop(r *remote) bool {
	if _, ok := h.remotes[r]; !ok {
		return false
	}
	delete(h.remotes, r)
	close(r.queue)
	return true
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.remotes)
}

func (h *hub) fanout(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for r := range h.remotes {
		select {
		case r.queue <- data:
		default:
			h.server.log.Warn().Msgf("WS: Remote %s is not keeping up, disconnecting", r.addr)
			h.drop(r)
		}
	}
}

func (h *hub) serveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.server.log.Warn().Err(err).Msg("WS: Upgrade failed")
		return
	}

	r := &remote{
		hub:   h,
		conn:  conn,
		queue: make(chan []byte, remoteQueue),
		addr:  req.RemoteAddr,
	}

	select {
	case h.join <- r:
	case <-h.done:
		conn.Close()
		return
	}

	go r.writeLoop()
	go r.readLoop()
}

// publishSent tells every remote about a command put on the bus
func (h *hub) publishSent(cmd cec.Command, ok bool) {
	data, err := encode(protocol.TypeSent, protocol.SentPayload{Command: cmd.String(), OK: ok})
	if err != nil {
		return
	}
	select {
	case h.events <- data:
	case <-h.done:
	default:
		h.server.log.Debug().Msgf("WS: Event queue full, dropping %s", cmd)
	}
}

func (r *remote) readLoop() {
	defer func() {
		select {
		case r.hub.leave <- r:
		case <-r.hub.done:
		}
		r.conn.Close()
	}()

	r.conn.SetReadLimit(maxRequestSize)
	r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.hub.server.log.Warn().Err(err).Msgf("WS: Remote %s read failed", r.addr)
			}
			return
		}
		r.handle(data)
	}
}

func (r *remote) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		r.conn.Close()
	}()

	for {
		select {
		case data, open := <-r.queue:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ping.C:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *remote) handle(data []byte) {
	s := r.hub.server

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn().Err(err).Msgf("WS: Malformed request from %s", r.addr)
		r.fail("invalid message")
		return
	}

	switch msg.Type {
	case protocol.TypePress, protocol.TypeHold:
		var payload protocol.ControlPayload
		if err := msg.Decode(&payload); err != nil {
			r.fail(err.Error())
			return
		}
		code, err := cec.ParseUserControl(payload.Control)
		if err != nil {
			r.fail(err.Error())
			return
		}

		s.log.Info().Msgf("WS: %s %s from %s", msg.Type, code, r.addr)

		// Results come back to every remote as "sent" events.
		b := keybind.Press(s.tv, code)
		if msg.Type == protocol.TypeHold {
			b = keybind.Hold(s.tv, code)
		}
		s.runner.Go(context.Background(), "WS", b)

	case protocol.TypeKey:
		var payload protocol.KeyPayload
		if err := msg.Decode(&payload); err != nil {
			r.fail(err.Error())
			return
		}
		if err := s.triggerKey(context.Background(), payload.Key); err != nil {
			r.fail(err.Error())
		}

	case protocol.TypePing:
		r.reply(protocol.TypePing, nil)

	default:
		r.fail("unknown message type " + string(msg.Type))
	}
}

func (r *remote) fail(reason string) {
	r.reply(protocol.TypeError, protocol.ErrorPayload{Message: reason})
}

// reply queues a message for this remote only
func (r *remote) reply(t protocol.MessageType, payload any) {
	data, err := encode(t, payload)
	if err != nil {
		return
	}

	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	// the queue is closed once the remote is dropped
	if _, ok := r.hub.remotes[r]; !ok {
		return
	}
	select {
	case r.queue <- data:
	default:
	}
}

func encode(t protocol.MessageType, payload any) ([]byte, error) {
	msg, err := protocol.New(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
