package strand

// emitBit is the one place timing matters. The line is already low when it's
// called and is left low. The low phase after a bit can be stretched as far as
// anyone likes, up to the latch time, so the 0 bit's high phase is the only
// tight window there is.
func (s *Strand) emitBit(one bool) {
	if one {
		s.out.High()
		s.delay.Delay(s.cyc.OnOne)
		s.out.Low()
		s.delay.Delay(s.cyc.OffOne)
	} else {
		s.out.High()
		s.delay.Delay(s.cyc.OnZero)
		s.out.Low()
		s.delay.Delay(s.cyc.OffZero)
	}
}

// emitByte sends b highest bit first, which is what the pixels want.
func (s *Strand) emitByte(b uint8) {
	for i := 0; i < 8; i++ {
		s.emitBit(b&0x80 != 0)
		b <<= 1
	}
}

// SendPixel sends one pixel to the string, straight away. The colour is given
// in R-G-B order whatever order the string is wired for.
func (s *Strand) SendPixel(r, g, b uint8) {
	s.startFrame()
	if s.brightness != 0 {
		r = scale(r, s.brightness)
		g = scale(g, s.brightness)
		b = scale(b, s.brightness)
	}
	switch s.mode.Order() {
	case GRB:
		s.emitByte(g)
		s.emitByte(r)
		s.emitByte(b)
	case BRG:
		s.emitByte(b)
		s.emitByte(r)
		s.emitByte(g)
	default:
		s.emitByte(r)
		s.emitByte(g)
		s.emitByte(b)
	}
	s.sent++
}

func scale(c, brightness uint8) uint8 {
	return uint8((uint16(c) * uint16(brightness)) >> 8)
}

// SetPixelColor sends a packed 0xRRGGBB colour. There's no buffer to index,
// so pixel is ignored: pixels are lit in the order they're sent.
func (s *Strand) SetPixelColor(pixel int, color uint32) {
	s.SendPixel(Unpack(color))
}

// SetPixelColorRGB is SetPixelColor for an unpacked colour.
func (s *Strand) SetPixelColorRGB(pixel int, r, g, b uint8) {
	s.SendPixel(r, g, b)
}

// Color packs r, g and b as 0xRRGGBB. Packed colours are always R-G-B,
// regardless of the string's wire order.
func Color(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Unpack is the inverse of Color. The top byte is ignored.
func Unpack(color uint32) (r, g, b uint8) {
	return uint8(color >> 16), uint8(color >> 8), uint8(color)
}

// SetBrightness sets the level pixels sent from now on are scaled to: 0 is
// off, 255 is full. Pixels already sent stay as they are.
//
// The level is stored plus one, wrapping, so that full brightness is stored
// as 0 and needs no multiply at all.
func (s *Strand) SetBrightness(level uint8) {
	s.brightness = level + 1
}

// Brightness returns the level last set. A strand starts at full brightness,
// 255.
func (s *Strand) Brightness() uint8 {
	return s.brightness - 1
}
