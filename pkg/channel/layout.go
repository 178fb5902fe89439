package channel

// Fixed byte offsets shared by every firmware
const (
	RecordSize = 16
	NameSize   = 16

	offRxFreq    = 0
	offOffset    = 4
	offRxCode    = 8
	offTxCode    = 9
	offStep      = 14
	offScrambler = 15
)

// BitField locates an unsigned value inside a byte buffer. A zero Width means
// the firmware does not store the field.
type BitField struct {
	Byte  int
	Shift uint
	Width uint
}

// Present reports whether the field exists in the layout
func (f BitField) Present() bool {
	return f.Width > 0
}

func (f BitField) mask() byte {
	return byte(1<<f.Width - 1)
}

// Get extracts the field value from b
func (f BitField) Get(b []byte) int {
	if !f.Present() || f.Byte >= len(b) {
		return 0
	}
	return int(b[f.Byte]>>f.Shift) & int(f.mask())
}

// Set stores v into the field, leaving the other bits of the byte untouched
func (f BitField) Set(b []byte, v int) {
	if !f.Present() || f.Byte >= len(b) {
		return
	}
	m := f.mask() << f.Shift
	b[f.Byte] = b[f.Byte]&^m | (byte(v)<<f.Shift)&m
}

// Max returns the largest value the field can hold
func (f BitField) Max() int {
	return int(f.mask())
}

// RecordLayout maps the packed bytes 10..13 of a channel record
type RecordLayout struct {
	RxToneFlag BitField
	TxToneFlag BitField
	Modulation BitField
	Duplex     BitField
	FreqRev    BitField
	Narrow     BitField
	Power      BitField
	BusyLock   BitField
	TxLock     BitField
	DTMFDecode BitField
	PTTID      BitField
}

// AttrLayout maps the per-channel attribute byte. Byte is always 0.
type AttrLayout struct {
	ScanList  [3]BitField
	Compander BitField
	Band      BitField
}

// Options are the enum tables a firmware uses to name field values
type Options struct {
	Modulations []string
	Powers      []string
	Companders  []string
	Steps       []float64
	Scramblers  []string
	PTTIDs      []string
}
