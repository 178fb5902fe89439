package session

import (
	"encoding/binary"
	"fmt"
)

// Command message types
const (
	MsgHello        uint16 = 0x0514
	MsgVersion      uint16 = 0x0515
	MsgReadEEPROM   uint16 = 0x051B
	MsgReadReply    uint16 = 0x051C
	MsgWriteEEPROM  uint16 = 0x051D
	MsgWriteReply   uint16 = 0x051E
	MsgBattery      uint16 = 0x0527
	MsgBatteryReply uint16 = 0x0528
)

var (
	packetHeader = [2]byte{0xAB, 0xCD}
	packetFooter = [2]byte{0xDC, 0xBA}

	obfuscationKey = [16]byte{
		0x16, 0x6C, 0x14, 0xE6, 0x2E, 0x91, 0x0D, 0x40,
		0x21, 0x35, 0xD5, 0x40, 0x13, 0x03, 0xE9, 0x80,
	}
)

const maxMessage = 0x400

// Message is one command or reply carried inside a packet
type Message struct {
	Type uint16
	Data []byte
}

// Bytes serializes the message body: type, data length, data
func (m Message) Bytes() []byte {
	out := make([]byte, 4+len(m.Data))
	binary.LittleEndian.PutUint16(out[0:2], m.Type)
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(m.Data)))
	copy(out[4:], m.Data)
	return out
}

func parseMessage(b []byte) (Message, error) {
	if len(b) < 4 {
		return Message{}, fmt.Errorf("message too short: %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint16(b[2:4]))
	if 4+n > len(b) {
		n = len(b) - 4
	}
	data := make([]byte, n)
	copy(data, b[4:4+n])
	return Message{Type: binary.LittleEndian.Uint16(b[0:2]), Data: data}, nil
}

// obfuscate applies the XOR key in place. It is its own inverse.
func obfuscate(b []byte) {
	for i := range b {
		b[i] ^= obfuscationKey[i%len(obfuscationKey)]
	}
}

// crc16 computes CRC-16/XMODEM
func crc16(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc ^= uint16(v) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodePacket wraps a message for the wire
func EncodePacket(m Message) []byte {
	body := m.Bytes()
	out := make([]byte, 0, len(body)+8)
	out = append(out, packetHeader[0], packetHeader[1])
	out = binary.LittleEndian.AppendUint16(out, uint16(len(body)))

	start := len(out)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint16(out, crc16(body))
	obfuscate(out[start:])

	out = append(out, packetFooter[0], packetFooter[1])
	return out
}

// packetDecoder pulls command packets out of the raw receive stream. Bytes
// that do not belong to a packet (screencast data, noise) are skipped.
type packetDecoder struct {
	buf []byte
}

func (d *packetDecoder) feed(data []byte) []Message {
	d.buf = append(d.buf, data...)

	var msgs []Message
	i := 0
	for i+4 <= len(d.buf) {
		if d.buf[i] != packetHeader[0] || d.buf[i+1] != packetHeader[1] {
			i++
			continue
		}
		n := int(binary.LittleEndian.Uint16(d.buf[i+2 : i+4]))
		if n < 4 || n > maxMessage {
			i++
			continue
		}
		total := 4 + n + 2 + 2
		if i+total > len(d.buf) {
			break
		}
		if d.buf[i+total-2] != packetFooter[0] || d.buf[i+total-1] != packetFooter[1] {
			i++
			continue
		}

		body := make([]byte, n)
		copy(body, d.buf[i+4:i+4+n])
		obfuscate(body)
		// Replies carry no usable CRC, so it is not checked
		if m, err := parseMessage(body); err == nil {
			msgs = append(msgs, m)
		}
		i += total
	}

	d.buf = append(d.buf[:0], d.buf[i:]...)
	if len(d.buf) > 4*maxMessage {
		d.buf = append(d.buf[:0], d.buf[len(d.buf)-maxMessage:]...)
	}
	return msgs
}
