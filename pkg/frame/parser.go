package frame

// Ring buffer bounds. Sizes outside this range are clamped.
const (
	MinBufferSize     = 16 * 1024
	DefaultBufferSize = 32 * 1024
	MaxBufferSize     = 32 * 1024
)

// ParserConfig tunes a Parser
type ParserConfig struct {
	BufferSize int
	// StrictChecksum drops frames whose trailing byte does not match Checksum.
	// Device firmware does not guarantee the byte, so this is off by default.
	StrictChecksum bool
}

// ParserStats reports parser bookkeeping
type ParserStats struct {
	Frames       int64
	Dropped      int64 // headers that matched the magic but were rejected
	SkippedBytes int64 // bytes discarded while resynchronizing
	Overflowed   int64 // bytes discarded because the ring buffer was full
	NewFormat    bool  // last emitted frame carried the version marker
}

// Parser recovers frames from a raw byte stream. It keeps unconsumed bytes
// between calls to Feed and is not safe for concurrent use.
type Parser struct {
	buf    []byte
	n      int
	strict bool
	stats  ParserStats
}

// NewParser creates a parser with the given configuration
func NewParser(cfg ParserConfig) *Parser {
	size := cfg.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	if size < MinBufferSize {
		size = MinBufferSize
	}
	if size > MaxBufferSize {
		size = MaxBufferSize
	}
	return &Parser{
		buf:    make([]byte, size),
		strict: cfg.StrictChecksum,
	}
}

// Feed appends data to the stream and returns every frame it completes, in
// arrival order.
func (p *Parser) Feed(data []byte) []Frame {
	var frames []Frame
	for len(data) > 0 {
		if p.n == len(p.buf) {
			// Cannot happen while every accepted frame fits the buffer, but
			// never stall: discard the oldest byte and keep going.
			copy(p.buf, p.buf[1:p.n])
			p.n--
			p.stats.Overflowed++
		}
		k := copy(p.buf[p.n:], data)
		p.n += k
		data = data[k:]
		frames = append(frames, p.scan()...)
	}
	return frames
}

// Buffered returns the number of bytes waiting for more input
func (p *Parser) Buffered() int {
	return p.n
}

// Stats returns a copy of the parser counters
func (p *Parser) Stats() ParserStats {
	return p.stats
}

// Reset discards any buffered bytes
func (p *Parser) Reset() {
	p.n = 0
}

// scan consumes as many complete frames as the buffer holds. Positions that
// do not start a valid header are skipped one byte at a time.
func (p *Parser) scan() []Frame {
	var frames []Frame
	buf := p.buf[:p.n]
	i := 0

scan:
	for i < len(buf) {
		hdr := i
		newFormat := false

		if buf[i] == VersionMarker {
			if i+1 >= len(buf) {
				break
			}
			if buf[i+1] != Magic0 {
				i++
				p.stats.SkippedBytes++
				continue
			}
			hdr = i + 1
			newFormat = true
		}

		switch {
		case buf[hdr] != Magic0:
			i++
			p.stats.SkippedBytes++
			continue scan
		case hdr+1 >= len(buf):
			break scan
		case buf[hdr+1] != Magic1:
			i++
			p.stats.SkippedBytes++
			continue scan
		case hdr+headerLen > len(buf):
			break scan
		}

		typ := buf[hdr+2]
		length := int(buf[hdr+3])<<8 | int(buf[hdr+4])
		total := headerLen + length + checksumLen
		if !validHeader(typ, length) || (hdr-i)+total > len(p.buf) {
			i = p.reject(i, hdr)
			continue
		}
		if hdr+total > len(buf) {
			break
		}

		payload := buf[hdr+headerLen : hdr+headerLen+length]
		sum := buf[hdr+headerLen+length]
		if p.strict && Checksum(payload) != sum {
			i = p.reject(i, hdr)
			continue
		}

		f := decodePayload(typ, payload)
		f.NewFormat = newFormat
		f.Checksum = sum
		frames = append(frames, f)
		p.stats.Frames++
		p.stats.NewFormat = newFormat
		i = hdr + total
	}

	if i > 0 {
		copy(p.buf, p.buf[i:p.n])
		p.n -= i
	}
	return frames
}

// reject counts one dropped header and resumes past its magic, so a marker
// and the magic behind it are not rejected twice
func (p *Parser) reject(i, hdr int) int {
	p.stats.Dropped++
	p.stats.SkippedBytes += int64(hdr + 1 - i)
	return hdr + 1
}
