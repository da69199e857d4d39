//go:build !linux

package video

import "fmt"

// DefaultBackends on non-Linux platforms fails on use: V4L2 and the
// framebuffer are Linux device interfaces. Selection policy itself
// stays testable everywhere through injected backends.
func DefaultBackends() Backends {
	open := func(string) (Source, error) {
		return nil, fmt.Errorf("%w: video capture requires linux", ErrNotAvailable)
	}
	return Backends{
		ProbeCapture: func(path string) error {
			_, err := open(path)
			return err
		},
		OpenCapture: func(path string, width, height int) (Source, error) {
			return open(path)
		},
		OpenFB: open,
	}
}
