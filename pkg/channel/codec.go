package channel

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	emptyLow  = 0x00000000
	emptyHigh = 0xFFFFFFFF
)

// Codec decodes and encodes channel records for one firmware layout. The
// zero value is not usable; profiles construct codecs from their tables.
type Codec struct {
	Record  RecordLayout
	Attr    AttrLayout
	Options Options
}

// IsEmptyRecord reports whether a raw record holds the empty sentinel
func IsEmptyRecord(rec []byte) bool {
	if len(rec) < 4 {
		return true
	}
	f := binary.LittleEndian.Uint32(rec[offRxFreq:])
	return f == emptyLow || f == emptyHigh
}

// Decode converts a 16 byte record plus optional aux buffers into a Channel
func (c *Codec) Decode(rec []byte, index int, aux Aux) Channel {
	if len(rec) < RecordSize || IsEmptyRecord(rec) {
		return EmptyChannel(index)
	}

	r := c.Record
	o := c.Options
	ch := Channel{
		Index:  index,
		RxFreq: int64(binary.LittleEndian.Uint32(rec[offRxFreq:])) * 10,
		Offset: int64(binary.LittleEndian.Uint32(rec[offOffset:])) * 10,
	}
	if ch.Offset == emptyHigh*10 {
		ch.Offset = 0
	}

	ch.RxTone = decodeTone(r.RxToneFlag.Get(rec), int(rec[offRxCode]))
	ch.TxTone = decodeTone(r.TxToneFlag.Get(rec), int(rec[offTxCode]))

	mod := lookup(o.Modulations, r.Modulation.Get(rec))
	if r.Narrow.Get(rec) == 1 && narrowable[mod] {
		mod = "N" + mod
	}
	ch.Mode = mod
	ch.Duplex = lookup(Duplexes, r.Duplex.Get(rec))

	ch.FreqRev = r.FreqRev.Get(rec) == 1
	ch.Power = lookup(o.Powers, r.Power.Get(rec))
	ch.BusyLock = r.BusyLock.Get(rec) == 1
	ch.TxLock = r.TxLock.Get(rec) == 1
	ch.DTMFDecode = r.DTMFDecode.Get(rec) == 1
	ch.PTTID = lookup(o.PTTIDs, r.PTTID.Get(rec))

	if i := int(rec[offStep]); i < len(o.Steps) {
		ch.Step = o.Steps[i]
	} else if len(o.Steps) > 0 {
		ch.Step = o.Steps[0]
	}
	ch.Scrambler = lookup(o.Scramblers, int(rec[offScrambler]))

	ch.Band = BandFor(ch.RxFreq)
	if len(aux.Attr) > 0 {
		a := c.Attr
		ch.ScanList1 = a.ScanList[0].Get(aux.Attr) == 1
		ch.ScanList2 = a.ScanList[1].Get(aux.Attr) == 1
		ch.ScanList3 = a.ScanList[2].Get(aux.Attr) == 1
		ch.Compander = lookup(o.Companders, a.Compander.Get(aux.Attr))
	} else {
		ch.Compander = lookup(o.Companders, 0)
	}
	if len(aux.Name) > 0 {
		ch.Name = decodeName(aux.Name)
	}

	return ch
}

// Encode writes ch into rec (16 bytes) and any aux buffers provided. Empty
// channels fill every buffer with 0xFF.
func (c *Codec) Encode(ch Channel, rec []byte, aux Aux) error {
	if len(rec) < RecordSize {
		return fmt.Errorf("record buffer too short: %d bytes", len(rec))
	}
	if ch.Empty {
		fill(rec[:RecordSize], 0xFF)
		fill(aux.Attr, 0xFF)
		fill(aux.Name, 0xFF)
		return nil
	}
	if err := c.Validate(ch); err != nil {
		return err
	}

	r := c.Record
	o := c.Options
	fill(rec[:RecordSize], 0x00)

	binary.LittleEndian.PutUint32(rec[offRxFreq:], uint32(ch.RxFreq/10))
	binary.LittleEndian.PutUint32(rec[offOffset:], uint32(ch.Offset/10))

	rxFlag, rxIdx, _ := encodeTone(ch.RxTone)
	txFlag, txIdx, _ := encodeTone(ch.TxTone)
	rec[offRxCode] = byte(rxIdx)
	rec[offTxCode] = byte(txIdx)
	r.RxToneFlag.Set(rec, rxFlag)
	r.TxToneFlag.Set(rec, txFlag)

	mod, narrow := splitMode(ch.Mode)
	r.Modulation.Set(rec, index(o.Modulations, mod))
	r.Narrow.Set(rec, boolBit(narrow))
	r.Duplex.Set(rec, index(Duplexes, ch.Duplex))

	r.FreqRev.Set(rec, boolBit(ch.FreqRev))
	r.Power.Set(rec, index(o.Powers, ch.Power))
	r.BusyLock.Set(rec, boolBit(ch.BusyLock))
	r.TxLock.Set(rec, boolBit(ch.TxLock))
	r.DTMFDecode.Set(rec, boolBit(ch.DTMFDecode))
	r.PTTID.Set(rec, index(o.PTTIDs, ch.PTTID))

	rec[offStep] = byte(stepIndex(o.Steps, ch.Step))
	rec[offScrambler] = byte(index(o.Scramblers, ch.Scrambler))

	if len(aux.Attr) > 0 {
		a := c.Attr
		aux.Attr[0] = 0
		a.ScanList[0].Set(aux.Attr, boolBit(ch.ScanList1))
		a.ScanList[1].Set(aux.Attr, boolBit(ch.ScanList2))
		a.ScanList[2].Set(aux.Attr, boolBit(ch.ScanList3))
		a.Compander.Set(aux.Attr, index(o.Companders, ch.Compander))
		a.Band.Set(aux.Attr, BandFor(ch.RxFreq))
	}
	if len(aux.Name) > 0 {
		encodeName(ch.Name, aux.Name)
	}
	return nil
}

// Validate checks that every field of a non-empty channel can be encoded
func (c *Codec) Validate(ch Channel) error {
	if ch.Empty {
		return nil
	}
	o := c.Options
	r := c.Record

	if ch.RxFreq <= 0 || ch.RxFreq%10 != 0 || ch.RxFreq/10 >= emptyHigh {
		return fmt.Errorf("%w: rx frequency %d", ErrInvalidValue, ch.RxFreq)
	}
	if ch.Offset < 0 || ch.Offset%10 != 0 || ch.Offset/10 >= emptyHigh {
		return fmt.Errorf("%w: offset %d", ErrInvalidValue, ch.Offset)
	}
	if index(Duplexes, ch.Duplex) < 0 {
		return fmt.Errorf("%w: duplex %q", ErrInvalidValue, ch.Duplex)
	}
	if _, _, err := encodeTone(ch.RxTone); err != nil {
		return err
	}
	if _, _, err := encodeTone(ch.TxTone); err != nil {
		return err
	}

	mod, narrow := splitMode(ch.Mode)
	mi := index(o.Modulations, mod)
	if mi < 0 || mi > r.Modulation.Max() || (narrow && !r.Narrow.Present()) {
		return fmt.Errorf("%w: mode %q", ErrInvalidValue, ch.Mode)
	}
	if err := checkEnum("power", o.Powers, ch.Power, r.Power); err != nil {
		return err
	}
	if r.PTTID.Present() {
		if err := checkEnum("ptt id", o.PTTIDs, ch.PTTID, r.PTTID); err != nil {
			return err
		}
	}
	if stepIndex(o.Steps, ch.Step) < 0 {
		return fmt.Errorf("%w: step %g", ErrInvalidValue, ch.Step)
	}
	if index(o.Scramblers, ch.Scrambler) < 0 {
		return fmt.Errorf("%w: scrambler %q", ErrInvalidValue, ch.Scrambler)
	}
	if c.Attr.Compander.Present() {
		if err := checkEnum("compander", o.Companders, ch.Compander, c.Attr.Compander); err != nil {
			return err
		}
	}

	if len(ch.Name) > NameSize {
		return fmt.Errorf("%w: name %q longer than %d characters", ErrInvalidValue, ch.Name, NameSize)
	}
	for i := 0; i < len(ch.Name); i++ {
		if !printable(ch.Name[i]) {
			return fmt.Errorf("%w: name %q has non-printable characters", ErrInvalidValue, ch.Name)
		}
	}
	return nil
}

func checkEnum(field string, table []string, value string, f BitField) error {
	i := index(table, value)
	if i < 0 || i > f.Max() {
		return fmt.Errorf("%w: %s %q", ErrInvalidValue, field, value)
	}
	return nil
}

func splitMode(mode string) (string, bool) {
	if strings.HasPrefix(mode, "N") && narrowable[mode[1:]] {
		return mode[1:], true
	}
	return mode, false
}

func decodeName(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c == 0x00 || c == 0xFF {
			break
		}
		if printable(c) {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

func encodeName(name string, out []byte) {
	fill(out, 0x00)
	copy(out, strings.TrimSpace(name))
}

func printable(c byte) bool {
	return c >= 0x20 && c < 0x7F
}

func lookup(table []string, i int) string {
	if i >= 0 && i < len(table) {
		return table[i]
	}
	if len(table) > 0 {
		return table[0]
	}
	return ""
}

// index finds v in table. The empty string selects the first entry so that
// callers may leave enum fields at their default.
func index(table []string, v string) int {
	if v == "" && len(table) > 0 {
		return 0
	}
	for i, t := range table {
		if t == v {
			return i
		}
	}
	return -1
}

func stepIndex(table []float64, v float64) int {
	if v == 0 && len(table) > 0 {
		return 0
	}
	for i, t := range table {
		if t == v {
			return i
		}
	}
	return -1
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
