// Package api provides an HTTP and websocket surface for controlling the TV remotely.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"cecbridge/internal/cec"
	"cecbridge/internal/keybind"

	evdev "github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
)

// Controller is the TV as seen by the API
type Controller interface {
	keybind.Controller
	IsOn() bool
	Address() cec.LogicalAddress
}

// Info describes the bridge's own place on the bus
type Info struct {
	OwnAddress      cec.LogicalAddress
	PhysicalAddress uint16
	OSDName         string
}

// Server provides HTTP API for remote control
type Server struct {
	tv      Controller
	keys    *keybind.DeviceTable
	runner  *keybind.Runner
	info    Info
	token   string
	log     zerolog.Logger
	remotes *hub
}

// NewServer creates a new API server. An empty token disables authentication.
func NewServer(tv Controller, keys *keybind.DeviceTable, runner *keybind.Runner, info Info, token string, logger zerolog.Logger) *Server {
	s := &Server{
		tv:     tv,
		keys:   keys,
		runner: runner,
		info:   info,
		token:  token,
		log:    logger,
	}
	s.remotes = newHub(s)
	return s
}

// Handler returns the routes wrapped in auth and panic recovery
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/press", s.handlePress)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.remotes.serveWS)
	mux.HandleFunc("/health", s.handleHealth)

	return s.authMiddleware(s.recoverMiddleware(mux))
}

// Serve listens on addr until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	go s.remotes.run(ctx)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info().Msgf("API: Listening on %s", ln.Addr())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// BroadcastSent tells websocket clients about a transmitted command
func (s *Server) BroadcastSent(cmd cec.Command, ok bool) {
	s.remotes.publishSent(cmd, ok)
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error().Msgf("API: Panic serving %s: %v", r.URL.Path, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks API token if configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug().Msgf("API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if s.token != "" && !s.authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if r.Header.Get("Authorization") == "Bearer "+s.token {
		return true
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Path == "/ws" && r.URL.Query().Get("token") == s.token
}

// handlePress handles POST /api/press?control=<name>[&hold=true]
func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code, err := cec.ParseUserControl(r.URL.Query().Get("control"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hold := false
	if v := r.URL.Query().Get("hold"); v != "" {
		if hold, err = strconv.ParseBool(v); err != nil {
			http.Error(w, "Invalid hold parameter", http.StatusBadRequest)
			return
		}
	}

	s.log.Info().Msgf("API: %s %s (request from %s)", pressVerb(hold), code, r.RemoteAddr)

	var ok bool
	if hold {
		ok = s.tv.Hold(code)
	} else {
		ok = s.tv.Press(code)
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"control": code.String(),
		"hold":    hold,
		"ok":      ok,
	})
}

func pressVerb(hold bool) string {
	if hold {
		return "Holding"
	}
	return "Pressing"
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"own_address":      s.info.OwnAddress.String(),
		"physical_address": cec.FormatPhysicalAddress(s.info.PhysicalAddress),
		"osd_name":         s.info.OSDName,
		"tv_address":       s.tv.Address().String(),
		"tv_on":            s.tv.IsOn(),
		"clients":          s.remotes.count(),
	})
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerKey runs the binding of an input key name
func (s *Server) triggerKey(ctx context.Context, name string) error {
	code, ok := evdev.KEYFromString[name]
	if !ok {
		return fmt.Errorf("unknown key %q", name)
	}
	b, ok := s.keys.Lookup(evdev.EV_KEY, code)
	if !ok {
		return fmt.Errorf("key %s is not bound", name)
	}
	s.log.Info().Msgf("API: Triggered %s -> %s", name, b.Name)
	s.runner.Go(ctx, "API", b)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
