package wsock

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chassisworks/kvmip/internal/hid"
	"github.com/chassisworks/kvmip/internal/hub"
	"github.com/chassisworks/kvmip/internal/metrics"
)

// session is one framed-socket connection: an outbound pump streaming
// frames from its subscription and an inbound pump decoding tagged HID
// reports.
type session struct {
	conn *websocket.Conn
	sub  *hub.Subscription
	hid  *hid.Manager
	log  zerolog.Logger
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	metrics.SessionsActive.WithLabelValues("wsock").Inc()
	defer metrics.SessionsActive.WithLabelValues("wsock").Dec()
	s.log.Info().Msg("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancellation must interrupt a blocked read.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	go func() {
		defer cancel()
		s.writePump(ctx)
	}()

	s.readPump()
	cancel()
	s.log.Info().Msg("client disconnected")
}

// writePump sends every frame available to this session's subscription
// as one binary message. Slow clients skip frames via the lossy
// subscription, never by queueing.
func (s *session) writePump(ctx context.Context) {
	for {
		frame, err := s.sub.Next(ctx)
		if err != nil {
			return
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
			s.log.Debug().Err(err).Msg("frame send failed")
			s.conn.Close()
			return
		}
		metrics.FramesSent.WithLabelValues("wsock").Inc()
	}
}

// readPump decodes inbound binary messages: a tag byte followed by a
// verbatim HID report. Unknown tags and wrong-length payloads are
// logged and ignored; they never end the connection.
func (s *session) readPump() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		tag, payload := data[0], data[1:]
		switch tag {
		case tagKeyboard:
			if len(payload) != hid.KeyboardReportLen {
				s.log.Warn().Int("len", len(payload)).
					Msg("keyboard report of unexpected length ignored")
				continue
			}
			var report [hid.KeyboardReportLen]byte
			copy(report[:], payload)
			s.hid.WriteKeyboard(report)
		case tagPointer:
			if len(payload) != hid.PointerReportLen {
				s.log.Warn().Int("len", len(payload)).
					Msg("pointer report of unexpected length ignored")
				continue
			}
			var report [hid.PointerReportLen]byte
			copy(report[:], payload)
			s.hid.WritePointer(report)
		default:
			s.log.Warn().Uint8("tag", tag).Msg("unknown message tag ignored")
		}
	}
}
