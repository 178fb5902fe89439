package frame

import "fmt"

// Wire constants for the screencast stream
const (
	VersionMarker byte = 0xFF
	Magic0        byte = 0xAA
	Magic1        byte = 0x55

	TypeScreenshot byte = 0x01
	TypeDiff       byte = 0x02

	// header is magic(2) + type(1) + length(2)
	headerLen   = 5
	checksumLen = 1

	FramebufferSize = 1024
	ChunkSize       = 8
	ChunkUnit       = 1 + ChunkSize
	MaxChunks       = FramebufferSize / ChunkSize
)

// Kind identifies the frame variant
type Kind int

const (
	KindScreenshot Kind = iota
	KindDiff
)

// String returns string representation of the frame kind
func (k Kind) String() string {
	switch k {
	case KindScreenshot:
		return "screenshot"
	case KindDiff:
		return "diff"
	default:
		return "unknown"
	}
}

// Chunk is one 8-byte run of the framebuffer addressed by index
type Chunk struct {
	Index int
	Data  [ChunkSize]byte
}

// Frame is a decoded screencast message. Bitmap is set for screenshots,
// Chunks for diffs.
type Frame struct {
	Kind      Kind
	Bitmap    []byte
	Chunks    []Chunk
	NewFormat bool
	Checksum  byte
}

// Screenshot builds a full-frame message from a 1024 byte bitmap
func Screenshot(bitmap []byte) (Frame, error) {
	if len(bitmap) != FramebufferSize {
		return Frame{}, fmt.Errorf("screenshot bitmap must be %d bytes, got %d", FramebufferSize, len(bitmap))
	}
	b := make([]byte, FramebufferSize)
	copy(b, bitmap)
	return Frame{Kind: KindScreenshot, Bitmap: b}, nil
}

// Diff builds an incremental message from chunks
func Diff(chunks ...Chunk) Frame {
	c := make([]Chunk, len(chunks))
	copy(c, chunks)
	return Frame{Kind: KindDiff, Chunks: c}
}

// Payload returns the wire payload of the frame
func (f Frame) Payload() []byte {
	switch f.Kind {
	case KindScreenshot:
		p := make([]byte, FramebufferSize)
		copy(p, f.Bitmap)
		return p
	case KindDiff:
		p := make([]byte, 0, len(f.Chunks)*ChunkUnit)
		for _, c := range f.Chunks {
			p = append(p, byte(c.Index))
			p = append(p, c.Data[:]...)
		}
		return p
	}
	return nil
}

// Checksum computes the trailing check byte: XOR over the payload
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// Encode serializes a frame to its wire form. newFormat prefixes the
// version marker.
func Encode(f Frame, newFormat bool) []byte {
	payload := f.Payload()
	typ := TypeScreenshot
	if f.Kind == KindDiff {
		typ = TypeDiff
	}

	out := make([]byte, 0, len(payload)+headerLen+checksumLen+1)
	if newFormat {
		out = append(out, VersionMarker)
	}
	out = append(out, Magic0, Magic1, typ, byte(len(payload)>>8), byte(len(payload)))
	out = append(out, payload...)
	out = append(out, Checksum(payload))
	return out
}

// decodePayload turns a validated payload into a frame. Diff payloads stop at
// the first chunk whose index is out of range.
func decodePayload(typ byte, payload []byte) Frame {
	if typ == TypeScreenshot {
		b := make([]byte, FramebufferSize)
		copy(b, payload)
		return Frame{Kind: KindScreenshot, Bitmap: b}
	}

	chunks := make([]Chunk, 0, len(payload)/ChunkUnit)
	for off := 0; off+ChunkUnit <= len(payload); off += ChunkUnit {
		idx := int(payload[off])
		if idx >= MaxChunks {
			break
		}
		var c Chunk
		c.Index = idx
		copy(c.Data[:], payload[off+1:off+ChunkUnit])
		chunks = append(chunks, c)
	}
	return Frame{Kind: KindDiff, Chunks: chunks}
}

// validHeader reports whether a type/length pair names a frame we understand
func validHeader(typ byte, length int) bool {
	switch typ {
	case TypeScreenshot:
		return length == FramebufferSize
	case TypeDiff:
		return length > 0 && length%ChunkUnit == 0
	}
	return false
}
