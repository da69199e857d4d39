package video

import (
	"fmt"

	"github.com/chassisworks/kvmip/internal/logger"
)

// SelectConfig carries the source-selection inputs from the CLI layer.
type SelectConfig struct {
	VideoDevice       string
	FramebufferDevice string
	ForceFramebuffer  bool
	Width             int
	Height            int
}

// Backends holds the backend constructors so selection policy can be
// exercised without real devices.
type Backends struct {
	ProbeCapture func(path string) error
	OpenCapture  func(path string, width, height int) (Source, error)
	OpenFB       func(path string) (Source, error)
}

// Select picks and opens a video source. Force-framebuffer bypasses
// probing and fails hard when the framebuffer is unavailable. Otherwise
// the capture device is probed first and the framebuffer is the
// fallback; with neither available startup fails.
func Select(cfg SelectConfig, b Backends) (Source, error) {
	log := logger.WithComponent("video-select")

	if cfg.ForceFramebuffer {
		src, err := b.OpenFB(cfg.FramebufferDevice)
		if err != nil {
			return nil, fmt.Errorf("framebuffer forced but unavailable: %w", err)
		}
		return src, nil
	}

	if err := b.ProbeCapture(cfg.VideoDevice); err != nil {
		log.Warn().Err(err).Str("device", cfg.VideoDevice).
			Msg("capture device probe failed, falling back to framebuffer")
		src, fbErr := b.OpenFB(cfg.FramebufferDevice)
		if fbErr != nil {
			return nil, fmt.Errorf("no usable video source: capture probe: %v; framebuffer: %w",
				err, fbErr)
		}
		return src, nil
	}

	src, err := b.OpenCapture(cfg.VideoDevice, cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("capture device probed OK but failed to open: %w", err)
	}
	return src, nil
}
