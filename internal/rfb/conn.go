package rfb

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/chassisworks/kvmip/internal/hid"
	"github.com/chassisworks/kvmip/internal/hub"
	"github.com/chassisworks/kvmip/internal/logger"
	"github.com/chassisworks/kvmip/internal/metrics"
)

// sessionState enumerates the per-connection protocol states. Any
// message not defined for the current state closes the connection.
type sessionState int

const (
	stateVersion sessionState = iota
	stateSecurity
	stateClientInit
	stateRunning
	stateClosed
)

// session drives one RFB connection: the reader goroutine walks the
// state machine over inbound bytes, the sender goroutine answers armed
// update requests with the freshest hub frame.
type session struct {
	conn   net.Conn
	log    zerolog.Logger
	sub    *hub.Subscription
	kb     *hid.Keyboard
	ptr    *hid.Pointer
	width  uint16
	height uint16
	name   string

	state sessionState

	// requested arms the sender; capacity 1 so repeated update requests
	// between frames collapse into one pending send.
	requested chan struct{}

	// clientFormat is stored but never used for sends: the server's raw
	// RGBA format advertised in ServerInit is the only one produced.
	clientFormat PixelFormat
}

func newSession(conn net.Conn, h *hub.Hub, mgr *hid.Manager, width, height uint16, name string) *session {
	return &session{
		conn:      conn,
		log:       logger.WithComponent("rfb").With().Str("remote", conn.RemoteAddr().String()).Logger(),
		sub:       h.Subscribe(),
		kb:        hid.NewKeyboard(mgr),
		ptr:       hid.NewPointer(mgr),
		width:     width,
		height:    height,
		name:      name,
		requested: make(chan struct{}, 1),
	}
}

// run performs the handshake and then serves the connection until the
// peer disconnects, a protocol violation occurs, or ctx is cancelled.
func (s *session) run(ctx context.Context) {
	defer s.conn.Close()
	defer s.kb.Reset()

	metrics.SessionsActive.WithLabelValues("rfb").Inc()
	defer metrics.SessionsActive.WithLabelValues("rfb").Dec()

	if err := s.handshake(); err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		return
	}
	s.state = stateRunning
	s.log.Info().Msg("client initialized")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancellation must interrupt a blocked read.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	go func() {
		defer cancel()
		s.sendLoop(ctx)
	}()

	if err := s.readLoop(); err != nil && err != io.EOF {
		s.log.Warn().Err(err).Msg("connection closed")
	}
	s.state = stateClosed
	cancel()
}

// handshake walks stateVersion -> stateSecurity -> stateClientInit.
func (s *session) handshake() error {
	if _, err := s.conn.Write([]byte(ProtocolVersion)); err != nil {
		return fmt.Errorf("failed to send protocol version: %w", err)
	}

	var version [12]byte
	if _, err := io.ReadFull(s.conn, version[:]); err != nil {
		return fmt.Errorf("failed to read client version: %w", err)
	}
	var major, minor int
	if _, err := fmt.Sscanf(string(version[:]), "RFB %03d.%03d\n", &major, &minor); err != nil {
		return fmt.Errorf("%w: malformed version %q", ErrProtocol, version)
	}
	if major != 3 {
		return fmt.Errorf("%w: unsupported major version %d", ErrProtocol, major)
	}
	s.state = stateSecurity

	// Advertise exactly one security type: None.
	if _, err := s.conn.Write([]byte{1, secTypeNone}); err != nil {
		return fmt.Errorf("failed to send security types: %w", err)
	}
	var choice [1]byte
	if _, err := io.ReadFull(s.conn, choice[:]); err != nil {
		return fmt.Errorf("failed to read security choice: %w", err)
	}
	if choice[0] != secTypeNone {
		return fmt.Errorf("%w: client chose unsupported security type %d", ErrProtocol, choice[0])
	}
	// SecurityResult: OK.
	if _, err := s.conn.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to send security result: %w", err)
	}
	s.state = stateClientInit

	// The shared flag is accepted but unused: every client sees the
	// same frame hub.
	var shared [1]byte
	if _, err := io.ReadFull(s.conn, shared[:]); err != nil {
		return fmt.Errorf("failed to read ClientInit: %w", err)
	}
	return writeServerInit(s.conn, s.width, s.height, s.name)
}

// readLoop dispatches client messages by their 1-byte type tag.
// Malformed or unknown messages end the connection; no protocol-level
// error is sent back.
func (s *session) readLoop() error {
	for {
		var tag [1]byte
		if _, err := io.ReadFull(s.conn, tag[:]); err != nil {
			return err
		}
		var err error
		switch tag[0] {
		case msgSetPixelFormat:
			err = s.onSetPixelFormat()
		case msgSetEncodings:
			err = s.onSetEncodings()
		case msgFramebufferUpdateRequest:
			err = s.onUpdateRequest()
		case msgKeyEvent:
			err = s.onKeyEvent()
		case msgPointerEvent:
			err = s.onPointerEvent()
		case msgClientCutText:
			err = s.onCutText()
		default:
			return fmt.Errorf("%w: unknown message type %d", ErrProtocol, tag[0])
		}
		if err != nil {
			return err
		}
	}
}

func (s *session) onSetPixelFormat() error {
	pf, err := readPixelFormat(s.conn)
	if err != nil {
		return err
	}
	// Stored only: sends always use the format advertised in ServerInit.
	s.clientFormat = pf
	s.log.Debug().Uint8("bpp", pf.BPP).Uint8("depth", pf.Depth).
		Msg("client pixel format stored")
	return nil
}

func (s *session) onSetEncodings() error {
	encs, err := readEncodings(s.conn)
	if err != nil {
		return err
	}
	for _, e := range encs {
		if e == encodingRaw {
			return nil
		}
	}
	// Raw is the only encoder; a client that does not accept it cannot
	// be served.
	return fmt.Errorf("%w: client does not accept raw encoding", ErrProtocol)
}

func (s *session) onUpdateRequest() error {
	var req struct {
		Incremental uint8
		X, Y        uint16
		Width       uint16
		Height      uint16
	}
	if err := binary.Read(s.conn, binary.BigEndian, &req); err != nil {
		return fmt.Errorf("%w: truncated FramebufferUpdateRequest: %v", ErrProtocol, err)
	}
	// The incremental flag and requested region are accepted but the
	// whole framebuffer is always sent: no dirty-rectangle tracking.
	select {
	case s.requested <- struct{}{}:
	default:
	}
	return nil
}

func (s *session) onKeyEvent() error {
	var ev struct {
		Down    uint8
		Padding uint16
		Keysym  uint32
	}
	if err := binary.Read(s.conn, binary.BigEndian, &ev); err != nil {
		return fmt.Errorf("%w: truncated KeyEvent: %v", ErrProtocol, err)
	}
	s.kb.KeyEvent(ev.Keysym, ev.Down != 0)
	return nil
}

func (s *session) onPointerEvent() error {
	var ev struct {
		ButtonMask uint8
		X, Y       uint16
	}
	if err := binary.Read(s.conn, binary.BigEndian, &ev); err != nil {
		return fmt.Errorf("%w: truncated PointerEvent: %v", ErrProtocol, err)
	}
	s.ptr.PointerEvent(ev.ButtonMask, ev.X, ev.Y)
	return nil
}

func (s *session) onCutText() error {
	var head struct {
		Padding [3]uint8
		Length  uint32
	}
	if err := binary.Read(s.conn, binary.BigEndian, &head); err != nil {
		return fmt.Errorf("%w: truncated ClientCutText: %v", ErrProtocol, err)
	}
	if head.Length > maxCutTextLen {
		return fmt.Errorf("%w: cut text of %d bytes", ErrProtocol, head.Length)
	}
	// Clipboard is not implemented; drain and discard.
	if _, err := io.CopyN(io.Discard, s.conn, int64(head.Length)); err != nil {
		return fmt.Errorf("%w: truncated cut text: %v", ErrProtocol, err)
	}
	return nil
}

// sendLoop answers each armed update request with exactly one
// FramebufferUpdate carrying the freshest frame. Frames produced while
// no request is pending are skipped by the subscription's cursor.
func (s *session) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.requested:
		}

		frame, err := s.sub.Next(ctx)
		if err != nil {
			return
		}
		if err := writeFramebufferUpdate(s.conn, uint16(frame.Width), uint16(frame.Height), frame.Data); err != nil {
			s.log.Debug().Err(err).Msg("update send failed")
			s.conn.Close()
			return
		}
		metrics.FramesSent.WithLabelValues("rfb").Inc()
	}
}
