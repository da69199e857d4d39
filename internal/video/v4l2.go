//go:build linux

package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"unsafe"

	"golang.org/x/image/draw"
	"golang.org/x/sys/unix"

	"github.com/chassisworks/kvmip/internal/logger"
)

// V4L2 fourcc pixel formats, in preference order: MJPEG carries more
// resolutions over USB bandwidth, YUYV is the universal raw fallback.
const (
	pixFmtMJPEG = 0x47504a4d // 'MJPG'
	pixFmtYUYV  = 0x56595559 // 'YUYV'
)

const (
	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000

	bufTypeVideoCapture = 1
	memoryMmap          = 1

	requestBufferCount = 4
)

// v4l2 ioctl request numbers, built with the _IOC macro so the struct
// sizes stay in one place.
var (
	vidiocQuerycap  = iocR('V', 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt   = iocRW('V', 2, unsafe.Sizeof(v4l2FmtDesc{}))
	vidiocSetFmt    = iocRW('V', 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = iocRW('V', 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = iocRW('V', 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iocRW('V', 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iocRW('V', 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iocW('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iocW('V', 19, unsafe.Sizeof(int32(0)))
)

func iocR(typ, nr, size uintptr) uintptr  { return 2<<30 | size<<16 | typ<<8 | nr }
func iocW(typ, nr, size uintptr) uintptr  { return 1<<30 | size<<16 | typ<<8 | nr }
func iocRW(typ, nr, size uintptr) uintptr { return 3<<30 | size<<16 | typ<<8 | nr }

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2FmtDesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	PixelFormat uint32
	MbusCode    uint32
	Reserved    [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

type v4l2Format struct {
	Type uint32
	_    uint32 // union alignment
	Pix  v4l2PixFormat
	_    [200 - unsafe.Sizeof(v4l2PixFormat{})]byte // pad union to kernel size
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

// v4l2Buffer mirrors the LP64 kernel layout: an 8-byte-aligned timeval
// at offset 24 and the union m padded to 8 bytes. 32-bit targets use a
// 68-byte variant and would need their own padding.
type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	_         uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	Offset    uint32 // union m: mmap offset
	_         uint32
	Length    uint32
	Reserved2 uint32
	RequestFD uint32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return errno
		}
	}
}

// V4L2Source streams frames from a V4L2 capture device using mmap'd
// kernel buffers.
type V4L2Source struct {
	fd      int
	path    string
	format  uint32
	width   int
	height  int
	buffers [][]byte
	seq     uint64
}

// ProbeV4L2 checks whether the device at path is a streaming-capable
// video capture device. Returns ErrNotAvailable when it is not.
func ProbeV4L2(path string) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrNotAvailable, path, err)
	}
	defer unix.Close(fd)

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		return fmt.Errorf("%w: %s is not a v4l2 device: %v", ErrNotAvailable, path, err)
	}
	if caps.Capabilities&capVideoCapture == 0 || caps.Capabilities&capStreaming == 0 {
		return fmt.Errorf("%w: %s lacks capture/streaming capability", ErrNotAvailable, path)
	}
	return nil
}

// OpenV4L2 opens and configures the capture device: enumerates formats,
// picks MJPEG over YUYV, negotiates geometry and sets up mmap streaming.
func OpenV4L2(path string, width, height int) (*V4L2Source, error) {
	log := logger.WithComponent("v4l2")

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &V4L2Source{fd: fd, path: path}
	if err := s.configure(width, height); err != nil {
		unix.Close(fd)
		return nil, err
	}

	log.Info().
		Str("device", path).
		Str("format", fourccString(s.format)).
		Int("width", s.width).
		Int("height", s.height).
		Msg("capture device opened")
	return s, nil
}

func (s *V4L2Source) configure(width, height int) error {
	format, err := s.pickFormat()
	if err != nil {
		return err
	}

	var fmtReq v4l2Format
	fmtReq.Type = bufTypeVideoCapture
	fmtReq.Pix.Width = uint32(width)
	fmtReq.Pix.Height = uint32(height)
	fmtReq.Pix.PixelFormat = format
	if err := ioctl(s.fd, vidiocSetFmt, unsafe.Pointer(&fmtReq)); err != nil {
		return fmt.Errorf("failed to set format on %s: %w", s.path, err)
	}
	// The driver may adjust geometry; its answer is authoritative.
	s.format = fmtReq.Pix.PixelFormat
	s.width = int(fmtReq.Pix.Width)
	s.height = int(fmtReq.Pix.Height)

	req := v4l2RequestBuffers{
		Count:  requestBufferCount,
		Type:   bufTypeVideoCapture,
		Memory: memoryMmap,
	}
	if err := ioctl(s.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("failed to request buffers on %s: %w", s.path, err)
	}
	if req.Count == 0 {
		return fmt.Errorf("driver on %s granted no buffers", s.path)
	}

	s.buffers = make([][]byte, req.Count)
	for i := range s.buffers {
		buf := v4l2Buffer{Index: uint32(i), Type: bufTypeVideoCapture, Memory: memoryMmap}
		if err := ioctl(s.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("failed to query buffer %d on %s: %w", i, s.path, err)
		}
		mem, err := unix.Mmap(s.fd, int64(buf.Offset), int(buf.Length),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("failed to mmap buffer %d on %s: %w", i, s.path, err)
		}
		s.buffers[i] = mem
		if err := ioctl(s.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("failed to enqueue buffer %d on %s: %w", i, s.path, err)
		}
	}

	streamType := int32(bufTypeVideoCapture)
	if err := ioctl(s.fd, vidiocStreamOn, unsafe.Pointer(&streamType)); err != nil {
		return fmt.Errorf("failed to start streaming on %s: %w", s.path, err)
	}
	return nil
}

func (s *V4L2Source) pickFormat() (uint32, error) {
	supported := map[uint32]bool{}
	for i := uint32(0); ; i++ {
		desc := v4l2FmtDesc{Index: i, Type: bufTypeVideoCapture}
		if err := ioctl(s.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			break // EINVAL past the last format
		}
		supported[desc.PixelFormat] = true
	}
	for _, f := range []uint32{pixFmtMJPEG, pixFmtYUYV} {
		if supported[f] {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%s offers no MJPEG or YUYV format", s.path)
}

// Info reports the negotiated device configuration.
func (s *V4L2Source) Info() DeviceInfo {
	return DeviceInfo{
		Path:        s.path,
		Backend:     "v4l2",
		PixelFormat: fourccString(s.format),
		Width:       s.width,
		Height:      s.height,
	}
}

// NextFrame dequeues one device buffer, decodes it to RGBA and requeues
// the buffer. Transient read failures are retried a bounded number of
// times before the error surfaces as fatal to the pipeline.
func (s *V4L2Source) NextFrame(ctx context.Context) (*Frame, error) {
	var lastErr error
	for attempt := 0; attempt <= captureRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, index, err := s.dequeue(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		frame, err := s.decode(raw)
		qErr := s.requeue(index)
		if err == nil && qErr != nil {
			err = qErr
		}
		if err != nil {
			lastErr = err
			continue
		}
		s.seq++
		frame.Seq = s.seq
		return frame, nil
	}
	return nil, fmt.Errorf("capture failed on %s after %d retries: %w",
		s.path, captureRetries, lastErr)
}

// dequeue waits for the device to fill a buffer, polling the fd so a
// cancelled context can interrupt the wait.
func (s *V4L2Source) dequeue(ctx context.Context) ([]byte, uint32, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		buf := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMmap}
		err := ioctl(s.fd, vidiocDQBuf, unsafe.Pointer(&buf))
		if err == nil {
			return s.buffers[buf.Index][:buf.BytesUsed], buf.Index, nil
		}
		if err != unix.EAGAIN {
			return nil, 0, fmt.Errorf("failed to dequeue buffer: %w", err)
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, 100); err != nil && err != unix.EINTR {
			return nil, 0, fmt.Errorf("failed to poll %s: %w", s.path, err)
		}
	}
}

func (s *V4L2Source) requeue(index uint32) error {
	buf := v4l2Buffer{Index: index, Type: bufTypeVideoCapture, Memory: memoryMmap}
	if err := ioctl(s.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to requeue buffer %d: %w", index, err)
	}
	return nil
}

func (s *V4L2Source) decode(raw []byte) (*Frame, error) {
	switch s.format {
	case pixFmtMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode MJPEG frame: %w", err)
		}
		return imageToFrame(img, s.width, s.height), nil
	case pixFmtYUYV:
		need := s.width * s.height * 2
		if len(raw) < need {
			return nil, fmt.Errorf("short YUYV frame: %d of %d bytes", len(raw), need)
		}
		data := make([]byte, s.width*s.height*4)
		yuyvToRGBA(raw[:need], data, s.width, s.height)
		return &Frame{Width: s.width, Height: s.height, Data: data}, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", fourccString(s.format))
	}
}

// imageToFrame converts a decoded image into an RGBA frame of the target
// geometry, scaling when the encoded size disagrees with the negotiated
// one (some UVC devices emit JPEGs at a different resolution).
func imageToFrame(img image.Image, width, height int) *Frame {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	if bounds.Dx() == width && bounds.Dy() == height {
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), img, bounds, draw.Src, nil)
	}
	return &Frame{Width: width, Height: height, Data: rgba.Pix}
}

// Close stops streaming and releases the mapped buffers and descriptor.
func (s *V4L2Source) Close() error {
	streamType := int32(bufTypeVideoCapture)
	_ = ioctl(s.fd, vidiocStreamOff, unsafe.Pointer(&streamType))
	for _, buf := range s.buffers {
		_ = unix.Munmap(buf)
	}
	s.buffers = nil
	return unix.Close(s.fd)
}

func fourccString(f uint32) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}
