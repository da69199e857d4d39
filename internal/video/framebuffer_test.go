//go:build linux

package video

import (
	"bytes"
	"testing"
)

func TestRGB565Conversion(t *testing.T) {
	cases := []struct {
		name  string
		pixel uint16
		want  []byte
	}{
		{"black", 0x0000, []byte{0, 0, 0, 0xff}},
		{"white", 0xffff, []byte{255, 255, 255, 0xff}},
		{"red", 0xf800, []byte{255, 0, 0, 0xff}},
		{"green", 0x07e0, []byte{0, 255, 0, 0xff}},
		{"blue", 0x001f, []byte{0, 0, 255, 0xff}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := []byte{byte(tc.pixel), byte(tc.pixel >> 8)}
			dst := make([]byte, 4)
			rgb565ToRGBA(src, dst, 1)
			if !bytes.Equal(dst, tc.want) {
				t.Errorf("rgb565(%#04x) = %v, want %v", tc.pixel, dst, tc.want)
			}
		})
	}
}

func TestFBConversionHonorsStride(t *testing.T) {
	// 2x2 image with 4 bytes of per-line padding. The padding bytes are
	// poisoned; a packed-line copy would pull them into row 1.
	const width, height = 2, 2

	cases := []struct {
		name   string
		depth  int
		pixel  []byte // one source pixel, row-constant
		want   []byte // its RGBA rendering
	}{
		{"32bpp", 32, []byte{0x10, 0x20, 0x30, 0xff}, []byte{0x10, 0x20, 0x30, 0xff}},
		{"24bpp", 24, []byte{0x10, 0x20, 0x30}, []byte{0x10, 0x20, 0x30, 0xff}},
		{"16bpp", 16, []byte{0x1f, 0x00}, []byte{0, 0, 255, 0xff}}, // blue in rgb565
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stride := width*tc.depth/8 + 4
			src := bytes.Repeat([]byte{0xee}, stride*height)
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					copy(src[y*stride+x*len(tc.pixel):], tc.pixel)
				}
			}

			dst := make([]byte, width*height*4)
			fbToRGBA(dst, src, width, height, stride, tc.depth)

			for i := 0; i < width*height; i++ {
				got := dst[i*4 : i*4+4]
				if !bytes.Equal(got, tc.want) {
					t.Fatalf("pixel %d = %v, want %v", i, got, tc.want)
				}
			}
		})
	}
}
