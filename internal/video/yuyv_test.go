package video

import "testing"

func convertPair(y0, u, y1, v byte) []byte {
	dst := make([]byte, 8)
	yuyvToRGBA([]byte{y0, u, y1, v}, dst, 2, 1)
	return dst
}

func TestYUYVGrayscale(t *testing.T) {
	cases := []struct {
		name string
		y    byte
		want byte
	}{
		{"black", 0, 0},
		{"gray", 128, 128},
		{"white", 255, 255},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := convertPair(tc.y, 128, tc.y, 128)
			for i := 0; i < 8; i++ {
				if i%4 == 3 {
					if got[i] != 0xff {
						t.Errorf("alpha = %d, want 255", got[i])
					}
					continue
				}
				if got[i] != tc.want {
					t.Errorf("channel %d = %d, want %d", i, got[i], tc.want)
				}
			}
		})
	}
}

func TestYUYVRed(t *testing.T) {
	// Pure red in BT.601: Y=76, U=84, V=255.
	got := convertPair(76, 84, 76, 255)
	r, g, b := int(got[0]), int(got[1]), int(got[2])
	if r < 250 {
		t.Errorf("red channel = %d, want near 255", r)
	}
	if g > 8 || b > 8 {
		t.Errorf("green/blue = %d/%d, want near 0", g, b)
	}
}

func TestYUYVBlue(t *testing.T) {
	// Pure blue in BT.601: Y=29, U=255, V=107.
	got := convertPair(29, 255, 29, 107)
	r, g, b := int(got[0]), int(got[1]), int(got[2])
	if b < 250 {
		t.Errorf("blue channel = %d, want near 255", b)
	}
	if r > 8 || g > 8 {
		t.Errorf("red/green = %d/%d, want near 0", r, g)
	}
}

func TestYUYVPairSharesChroma(t *testing.T) {
	// Two pixels with different luma share the chroma sample.
	got := convertPair(50, 128, 200, 128)
	if got[0] != 50 || got[4] != 200 {
		t.Errorf("luma not applied per pixel: %v", got)
	}
}
