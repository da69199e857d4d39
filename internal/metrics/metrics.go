// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesPublished counts frames pushed into the frame hub.
	FramesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvmip_frames_published_total",
		Help: "Frames published to the frame hub by the capture loop.",
	})

	// FramesDropped counts frames skipped by lossy subscriptions.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvmip_frames_dropped_total",
		Help: "Frames skipped by subscriptions that fell behind the hub.",
	})

	// FramesSent counts frames actually delivered to clients, per protocol.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvmip_frames_sent_total",
		Help: "Frames delivered to connected clients.",
	}, []string{"protocol"})

	// SessionsActive tracks currently connected clients, per protocol.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kvmip_sessions_active",
		Help: "Currently connected client sessions.",
	}, []string{"protocol"})

	// HIDWriteErrors counts dropped input events, per device.
	HIDWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvmip_hid_write_errors_total",
		Help: "Input events dropped because the HID device write failed.",
	}, []string{"device"})

	// InputEvents counts translated input events, per device.
	InputEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvmip_input_events_total",
		Help: "Input events written to HID gadget devices.",
	}, []string{"device"})
)
