// Package wsock serves the lightweight framed protocol over a
// websocket transport: each outbound binary message is one full RGBA
// frame, each inbound binary message is a tagged HID report.
package wsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chassisworks/kvmip/internal/auth"
	"github.com/chassisworks/kvmip/internal/hid"
	"github.com/chassisworks/kvmip/internal/hub"
	"github.com/chassisworks/kvmip/internal/logger"
)

// Inbound message tags. The payload after the tag byte is a verbatim
// boot-protocol HID report.
const (
	tagKeyboard = 0x01
	tagPointer  = 0x02
)

// Server hosts the /kvm/0 websocket endpoint plus health and metrics.
type Server struct {
	router    *mux.Router
	hub       *hub.Hub
	hid       *hid.Manager
	validator auth.Validator
	upgrader  websocket.Upgrader
}

// NewServer creates the HTTP server streaming from h and injecting
// input through mgr.
func NewServer(h *hub.Hub, mgr *hid.Manager, validator auth.Validator) *Server {
	if validator == nil {
		validator = auth.AllowAll{}
	}
	s := &Server{
		router:    mux.NewRouter(),
		hub:       h,
		hid:       mgr,
		validator: validator,
		upgrader: websocket.Upgrader{
			// The browser client is served from the BMC web UI on
			// another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/kvm/0", s.handleKVM)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then
// shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	log := logger.WithComponent("wsock")
	srv := &http.Server{Addr: addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("websocket server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleKVM(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("wsock")

	if !s.validator.Authorize(r.Context(), r.RemoteAddr) {
		log.Warn().Str("remote", r.RemoteAddr).
			Msg("connection rejected by session validator")
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := &session{
		conn: conn,
		sub:  s.hub.Subscribe(),
		hid:  s.hid,
		log:  log.With().Str("remote", r.RemoteAddr).Logger(),
	}
	sess.run(r.Context())
}
