package xpass

// MaxSegment returns the largest payload a single data frame can carry.
func (c Config) MaxSegment() int {
	return c.MaxEthernetSize - c.HeaderSize
}

// AvgCreditSize returns the expected size of a credit frame.
func (c Config) AvgCreditSize() float64 {
	return float64(c.MinCreditSize+c.MaxCreditSize) / 2
}

// FrameSize returns the size of a data frame carrying payload bytes. Short
// frames are padded up to the minimum ethernet size.
func (c Config) FrameSize(payload int) int {
	size := c.HeaderSize + payload
	if size < c.MinEthernetSize {
		return c.MinEthernetSize
	}
	return size
}

// WireSize returns the bytes a frame occupies on the link: the frame clamped
// to the link's frame size limits plus the inter-frame gap.
func (c Config) WireSize(p *Packet) int {
	size := p.Size
	if size < c.MinEthernetSize {
		size = c.MinEthernetSize
	}
	if size > c.MaxEthernetSize {
		size = c.MaxEthernetSize
	}
	return size + c.InterFrameGap
}

// Segments returns the number of data frames needed to carry bytes.
func (c Config) Segments(bytes int64) int {
	if bytes <= 0 {
		return 0
	}
	seg := int64(c.MaxSegment())
	return int((bytes + seg - 1) / seg)
}

// PayloadLen returns the payload carried by a data frame of a message of
// msgBytes. A final segment shorter than the minimum ethernet payload was
// padded by the sender, so the padding is removed here.
func (c Config) PayloadLen(frameSize, headerLen, msgBytes int) int {
	n := frameSize - headerLen
	maxPayload := c.MaxSegment()
	if msgBytes <= 0 {
		return n
	}
	last := msgBytes % maxPayload
	if last < c.MinEthernetSize-c.HeaderSize && n < maxPayload {
		n = last
	}
	return n
}
