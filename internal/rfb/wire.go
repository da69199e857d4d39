// Package rfb implements a minimal RFB 3.8 (VNC) server: protocol
// version and security handshake, ServerInit, raw-encoded framebuffer
// updates, and key/pointer client messages. Wire layouts follow
// RFC 6143.
package rfb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is the only version this server speaks. Clients with
// a different major version are rejected.
const ProtocolVersion = "RFB 003.008\n"

// Security types offered during the handshake. Only None is supported.
const (
	secTypeNone = 1
)

// Client-to-server message types (RFC 6143 §7.5).
const (
	msgSetPixelFormat           = 0
	msgSetEncodings             = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
	msgClientCutText            = 6
)

// encodingRaw is the only encoding this server produces. Clients must
// offer it in SetEncodings.
const encodingRaw int32 = 0

// maxCutTextLen bounds ClientCutText payloads; anything larger is
// treated as a protocol violation rather than buffered.
const maxCutTextLen = 1 << 20

// ErrProtocol marks malformed or out-of-contract client bytes. The
// connection is closed without sending a protocol-level error back.
var ErrProtocol = errors.New("rfb protocol violation")

// PixelFormat is the 16-byte wire pixel format (RFC 6143 §7.4).
type PixelFormat struct {
	BPP        uint8
	Depth      uint8
	BigEndian  uint8
	TrueColor  uint8
	RedMax     uint16
	GreenMax   uint16
	BlueMax    uint16
	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
	Padding    [3]uint8
}

// rgbaPixelFormat is the server's fixed format: 32 bits per pixel,
// true color, RGBA byte order on a little-endian wire.
func rgbaPixelFormat() PixelFormat {
	return PixelFormat{
		BPP:        32,
		Depth:      24,
		BigEndian:  0,
		TrueColor:  1,
		RedMax:     255,
		GreenMax:   255,
		BlueMax:    255,
		RedShift:   0,
		GreenShift: 8,
		BlueShift:  16,
	}
}

// writeServerInit sends the ServerInit message: framebuffer geometry,
// pixel format, and the desktop name.
func writeServerInit(w io.Writer, width, height uint16, name string) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, width)
	binary.Write(&buf, binary.BigEndian, height)
	binary.Write(&buf, binary.BigEndian, rgbaPixelFormat())
	binary.Write(&buf, binary.BigEndian, uint32(len(name)))
	buf.WriteString(name)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send ServerInit: %w", err)
	}
	return nil
}

// writeFramebufferUpdate sends one FramebufferUpdate containing exactly
// one raw-encoded rectangle covering the whole framebuffer.
func writeFramebufferUpdate(w io.Writer, width, height uint16, pixels []byte) error {
	var head bytes.Buffer
	head.WriteByte(0) // message type: FramebufferUpdate
	head.WriteByte(0) // padding
	binary.Write(&head, binary.BigEndian, uint16(1)) // one rectangle
	binary.Write(&head, binary.BigEndian, uint16(0)) // x
	binary.Write(&head, binary.BigEndian, uint16(0)) // y
	binary.Write(&head, binary.BigEndian, width)
	binary.Write(&head, binary.BigEndian, height)
	binary.Write(&head, binary.BigEndian, encodingRaw)

	if _, err := w.Write(head.Bytes()); err != nil {
		return fmt.Errorf("failed to send update header: %w", err)
	}
	if _, err := w.Write(pixels); err != nil {
		return fmt.Errorf("failed to send update pixels: %w", err)
	}
	return nil
}

// readPixelFormat consumes the 3 padding bytes and 16-byte pixel format
// of a SetPixelFormat message.
func readPixelFormat(r io.Reader) (PixelFormat, error) {
	var pad [3]byte
	if _, err := io.ReadFull(r, pad[:]); err != nil {
		return PixelFormat{}, fmt.Errorf("%w: truncated SetPixelFormat: %v", ErrProtocol, err)
	}
	var pf PixelFormat
	if err := binary.Read(r, binary.BigEndian, &pf); err != nil {
		return PixelFormat{}, fmt.Errorf("%w: truncated pixel format: %v", ErrProtocol, err)
	}
	return pf, nil
}

// readEncodings consumes a SetEncodings payload and returns the
// requested encoding IDs.
func readEncodings(r io.Reader) ([]int32, error) {
	var head struct {
		Padding uint8
		Count   uint16
	}
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, fmt.Errorf("%w: truncated SetEncodings: %v", ErrProtocol, err)
	}
	encs := make([]int32, head.Count)
	if err := binary.Read(r, binary.BigEndian, encs); err != nil {
		return nil, fmt.Errorf("%w: truncated encoding list: %v", ErrProtocol, err)
	}
	return encs, nil
}
