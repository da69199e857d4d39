package video

// yuyvToRGBA converts a packed YUYV (YUV 4:2:2) buffer into dst, which
// must be width*height*4 bytes. BT.601 coefficients, full-range clamp.
func yuyvToRGBA(src []byte, dst []byte, width, height int) {
	// Each 4-byte group encodes two horizontally adjacent pixels.
	groups := width * height / 2
	for i := 0; i < groups; i++ {
		y0 := int32(src[i*4+0])
		u := int32(src[i*4+1]) - 128
		y1 := int32(src[i*4+2])
		v := int32(src[i*4+3]) - 128

		// Fixed-point BT.601: R = Y + 1.402 V, G = Y - 0.344 U - 0.714 V,
		// B = Y + 1.772 U, scaled by 1<<16.
		rOff := 91881 * v
		gOff := -22554*u - 46802*v
		bOff := 116130 * u

		o := i * 8
		dst[o+0] = clampU8((y0 << 16) + rOff)
		dst[o+1] = clampU8((y0 << 16) + gOff)
		dst[o+2] = clampU8((y0 << 16) + bOff)
		dst[o+3] = 0xff
		dst[o+4] = clampU8((y1 << 16) + rOff)
		dst[o+5] = clampU8((y1 << 16) + gOff)
		dst[o+6] = clampU8((y1 << 16) + bOff)
		dst[o+7] = 0xff
	}
}

func clampU8(v int32) byte {
	v >>= 16
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
