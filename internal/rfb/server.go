package rfb

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/chassisworks/kvmip/internal/auth"
	"github.com/chassisworks/kvmip/internal/hid"
	"github.com/chassisworks/kvmip/internal/hub"
	"github.com/chassisworks/kvmip/internal/logger"
)

// Server accepts RFB connections and runs one session per client.
type Server struct {
	hub       *hub.Hub
	hid       *hid.Manager
	validator auth.Validator

	width  uint16
	height uint16
	name   string

	// tlsConfig, when set, wraps the listener so the whole protocol
	// stream runs over TLS. A failed TLS handshake aborts the
	// connection before any RFB bytes are exchanged.
	tlsConfig *tls.Config
}

// Options configures a Server.
type Options struct {
	Width       int
	Height      int
	DesktopName string
	Validator   auth.Validator
	TLSConfig   *tls.Config
}

// NewServer creates an RFB server streaming from h and injecting input
// through mgr.
func NewServer(h *hub.Hub, mgr *hid.Manager, opts Options) *Server {
	validator := opts.Validator
	if validator == nil {
		validator = auth.AllowAll{}
	}
	return &Server{
		hub:       h,
		hid:       mgr,
		validator: validator,
		width:     uint16(opts.Width),
		height:    uint16(opts.Height),
		name:      opts.DesktopName,
		tlsConfig: opts.TLSConfig,
	}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.WithComponent("rfb")
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.tlsConfig != nil).
		Msg("RFB server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}

		if !s.validator.Authorize(ctx, conn.RemoteAddr().String()) {
			log.Warn().Str("remote", conn.RemoteAddr().String()).
				Msg("connection rejected by session validator")
			conn.Close()
			continue
		}

		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		sess := newSession(conn, s.hub, s.hid, s.width, s.height, s.name)
		go sess.run(ctx)
	}
}
