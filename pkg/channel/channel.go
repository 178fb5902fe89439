// Package channel converts between the radio's 16 byte channel memory records
// and structured Channel values.
package channel

import "errors"

// ErrInvalidValue is returned when a channel field cannot be encoded
var ErrInvalidValue = errors.New("invalid channel value")

// Channel is one memory channel. All fields except Index are meaningless
// when Empty is set.
type Channel struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	RxFreq     int64   `json:"rx_freq"`
	Offset     int64   `json:"offset"`
	Duplex     string  `json:"duplex"`
	Mode       string  `json:"mode"`
	Power      string  `json:"power"`
	RxTone     string  `json:"rx_tone"`
	TxTone     string  `json:"tx_tone"`
	Step       float64 `json:"step"`
	Scrambler  string  `json:"scrambler"`
	PTTID      string  `json:"ptt_id"`
	DTMFDecode bool    `json:"dtmf_decode"`
	Compander  string  `json:"compander"`
	BusyLock   bool    `json:"busy_lock"`
	TxLock     bool    `json:"tx_lock"`
	FreqRev    bool    `json:"freq_rev"`
	ScanList1  bool    `json:"scan_list1"`
	ScanList2  bool    `json:"scan_list2"`
	ScanList3  bool    `json:"scan_list3"`
	Band       int     `json:"band"`
	Empty      bool    `json:"empty"`
}

// EmptyChannel returns the empty sentinel for a slot
func EmptyChannel(index int) Channel {
	return Channel{Index: index, Empty: true}
}

// TxFreq returns the transmit frequency implied by duplex and offset
func (c Channel) TxFreq() int64 {
	switch c.Duplex {
	case "+":
		return c.RxFreq + c.Offset
	case "-":
		return c.RxFreq - c.Offset
	}
	return c.RxFreq
}

// Aux carries the optional per-channel buffers that live outside the 16 byte
// record. A nil slice means the firmware has no such region.
type Aux struct {
	Attr []byte
	Name []byte
}
