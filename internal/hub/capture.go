package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/chassisworks/kvmip/internal/logger"
	"github.com/chassisworks/kvmip/internal/metrics"
	"github.com/chassisworks/kvmip/internal/video"
)

// publishInterval paces framebuffer polling at roughly 30 fps. V4L2
// sources block in the driver until a buffer is ready, so the ticker
// only matters for the polled framebuffer backend.
const publishInterval = 33 * time.Millisecond

// RunCapture drives the capture loop: pull a frame from the source,
// publish it, repeat until the context is cancelled. A capture error is
// fatal to the whole pipeline; the caller is expected to exit non-zero
// so an external supervisor restarts the process.
func RunCapture(ctx context.Context, src video.Source, h *Hub) error {
	log := logger.WithComponent("capture")
	info := src.Info()
	log.Info().Str("backend", info.Backend).Str("device", info.Path).
		Int("width", info.Width).Int("height", info.Height).
		Msg("capture loop started")

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		frame, err := src.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("capture loop stopped")
				return nil
			}
			return fmt.Errorf("capture pipeline failed: %w", err)
		}
		h.Publish(frame)
		metrics.FramesPublished.Inc()

		select {
		case <-ctx.Done():
			log.Info().Msg("capture loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}
