// Package video provides the capture-device and framebuffer sources
// behind a single Source interface, plus startup backend selection.
package video

import (
	"context"
	"errors"
)

// Frame is one captured RGBA snapshot. Frames are immutable after
// publication: the capture loop allocates a fresh buffer per frame and
// never writes to it again once it leaves the source.
type Frame struct {
	Width  int
	Height int
	Seq    uint64
	Data   []byte // RGBA8888, len == Width*Height*4
}

// DeviceInfo describes the negotiated capture configuration of a source.
type DeviceInfo struct {
	Path        string
	Backend     string // "v4l2" or "framebuffer"
	PixelFormat string // negotiated device-side format, e.g. "MJPG", "YUYV", "RGBA"
	Width       int
	Height      int
}

// Source is a capability-tagged handle to an opened capture backend.
// Only two backends exist in this domain: the V4L2 capture device and
// the memory-mapped framebuffer.
type Source interface {
	// Info reports the negotiated device configuration.
	Info() DeviceInfo

	// NextFrame captures and returns one RGBA frame. Transient device
	// errors are retried a bounded number of times before surfacing.
	NextFrame(ctx context.Context) (*Frame, error)

	// Close releases the device descriptor and any mapped memory.
	Close() error
}

// ErrNotAvailable is returned by probes when the backend cannot be used
// (device missing, wrong capabilities, permission denied).
var ErrNotAvailable = errors.New("video backend not available")

// transient read failures are retried this many times before the
// capture error becomes fatal to the pipeline.
const captureRetries = 3
