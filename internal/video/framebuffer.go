//go:build linux

package video

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/chassisworks/kvmip/internal/logger"
)

const (
	fbiogetVscreeninfo = 0x4600
	fbiogetFscreeninfo = 0x4602

	// Expected geometry when the device reports nothing usable. BMC
	// framebuffers are normally configured for the host's console mode.
	defaultFBWidth  = 1920
	defaultFBHeight = 1080
	defaultFBDepth  = 32
)

// fbVarScreeninfo mirrors the kernel's fb_var_screeninfo. Only the
// leading fields are consumed; the rest keep the ioctl size honest.
type fbVarScreeninfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          fbBitfield
	Green        fbBitfield
	Blue         fbBitfield
	Transp       fbBitfield
	NonStd       uint32
	Activate     uint32
	HeightMM     uint32
	WidthMM      uint32
	AccelFlags   uint32
	Pixclock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HsyncLen     uint32
	VsyncLen     uint32
	Sync         uint32
	Vmode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MsbRight uint32
}

// fbFixScreeninfo mirrors the kernel's fb_fix_screeninfo on LP64. Only
// LineLength is consumed; drivers may pad each line past the visible
// width.
type fbFixScreeninfo struct {
	ID           [16]byte
	SmemStart    uint64
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	_            uint16
	LineLength   uint32
	_            uint32
	MmioStart    uint64
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
	_            uint16
}

// FramebufferSource re-reads a memory-mapped framebuffer on every
// capture. Framebuffers expose no vsync in this model, so reads are
// simply polled at the capture loop's cadence.
type FramebufferSource struct {
	fd     int
	path   string
	width  int
	height int
	depth  int
	stride int
	mapped []byte
	seq    uint64
}

// OpenFramebuffer maps the framebuffer device at its reported geometry,
// falling back to 1920x1080x32 when the report is unusable.
func OpenFramebuffer(path string) (*FramebufferSource, error) {
	log := logger.WithComponent("framebuffer")

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	width, height, depth := defaultFBWidth, defaultFBHeight, defaultFBDepth
	var info fbVarScreeninfo
	if err := ioctl(fd, fbiogetVscreeninfo, unsafe.Pointer(&info)); err != nil {
		log.Warn().Err(err).Str("device", path).
			Msg("geometry query failed, assuming 1920x1080x32")
	} else if info.XRes > 0 && info.YRes > 0 {
		width, height = int(info.XRes), int(info.YRes)
		switch info.BitsPerPixel {
		case 16, 24, 32:
			depth = int(info.BitsPerPixel)
		default:
			log.Warn().Uint32("bpp", info.BitsPerPixel).
				Msg("unexpected bit depth, assuming 32bpp")
		}
	}

	stride := width * depth / 8
	var fix fbFixScreeninfo
	if err := ioctl(fd, fbiogetFscreeninfo, unsafe.Pointer(&fix)); err != nil {
		log.Warn().Err(err).Str("device", path).
			Msg("fixed info query failed, assuming packed lines")
	} else if int(fix.LineLength) >= stride {
		stride = int(fix.LineLength)
	}

	size := stride * height
	mapped, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to mmap %s (%d bytes): %w", path, size, err)
	}

	log.Info().Str("device", path).Int("width", width).Int("height", height).
		Int("depth", depth).Int("stride", stride).Msg("framebuffer mapped")
	return &FramebufferSource{
		fd:     fd,
		path:   path,
		width:  width,
		height: height,
		depth:  depth,
		stride: stride,
		mapped: mapped,
	}, nil
}

// Info reports the mapped framebuffer configuration.
func (s *FramebufferSource) Info() DeviceInfo {
	return DeviceInfo{
		Path:        s.path,
		Backend:     "framebuffer",
		PixelFormat: "RGBA",
		Width:       s.width,
		Height:      s.height,
	}
}

// NextFrame copies the mapped region into a fresh RGBA buffer.
func (s *FramebufferSource) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.mapped == nil {
		return nil, fmt.Errorf("framebuffer %s is closed", s.path)
	}

	data := make([]byte, s.width*s.height*4)
	fbToRGBA(data, s.mapped, s.width, s.height, s.stride, s.depth)

	s.seq++
	return &Frame{Width: s.width, Height: s.height, Seq: s.seq, Data: data}, nil
}

// Close unmaps the region and releases the descriptor.
func (s *FramebufferSource) Close() error {
	if s.mapped != nil {
		_ = unix.Munmap(s.mapped)
		s.mapped = nil
	}
	return unix.Close(s.fd)
}

// fbToRGBA converts the mapped region row by row, honoring the line
// stride so padded lines never shear the image.
func fbToRGBA(dst, src []byte, width, height, stride, depth int) {
	for y := 0; y < height; y++ {
		row := src[y*stride:]
		out := dst[y*width*4:]
		switch depth {
		case 32:
			copy(out[:width*4], row)
		case 24:
			for x := 0; x < width; x++ {
				out[x*4+0] = row[x*3+0]
				out[x*4+1] = row[x*3+1]
				out[x*4+2] = row[x*3+2]
				out[x*4+3] = 0xff
			}
		case 16:
			rgb565ToRGBA(row, out, width)
		}
	}
}

func rgb565ToRGBA(src, dst []byte, pixels int) {
	for i := 0; i < pixels; i++ {
		v := uint16(src[i*2]) | uint16(src[i*2+1])<<8
		r := byte(v>>11) & 0x1f
		g := byte(v>>5) & 0x3f
		b := byte(v) & 0x1f
		dst[i*4+0] = r<<3 | r>>2
		dst[i*4+1] = g<<2 | g>>4
		dst[i*4+2] = b<<3 | b>>2
		dst[i*4+3] = 0xff
	}
}
