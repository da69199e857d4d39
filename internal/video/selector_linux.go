//go:build linux

package video

// DefaultBackends wires the selection policy to the real device
// constructors.
func DefaultBackends() Backends {
	return Backends{
		ProbeCapture: ProbeV4L2,
		OpenCapture: func(path string, width, height int) (Source, error) {
			return OpenV4L2(path, width, height)
		},
		OpenFB: func(path string) (Source, error) {
			return OpenFramebuffer(path)
		},
	}
}
