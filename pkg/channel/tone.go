package channel

import (
	"fmt"
	"strconv"
	"strings"
)

// ToneNone is the string form of "no tone"
const ToneNone = "None"

// Tone flag values stored in the nibbles of byte 10
const (
	toneFlagNone = iota
	toneFlagCTCSS
	toneFlagDCSNormal
	toneFlagDCSInverted
)

// FormatCTCSS renders a CTCSS table entry, e.g. "88.5Hz"
func FormatCTCSS(tenths int) string {
	return fmt.Sprintf("%d.%dHz", tenths/10, tenths%10)
}

// FormatDCS renders a DCS table entry, e.g. "D023N" or "D023I"
func FormatDCS(code int, inverted bool) string {
	polarity := "N"
	if inverted {
		polarity = "I"
	}
	return fmt.Sprintf("D%03d%s", code, polarity)
}

// decodeTone turns a flag and table index into the tone string. Indices
// outside the table decode as no tone.
func decodeTone(flag, index int) string {
	switch flag {
	case toneFlagCTCSS:
		if index < len(CTCSSTones) {
			return FormatCTCSS(CTCSSTones[index])
		}
	case toneFlagDCSNormal, toneFlagDCSInverted:
		if index < len(DCSCodes) {
			return FormatDCS(DCSCodes[index], flag == toneFlagDCSInverted)
		}
	}
	return ToneNone
}

// encodeTone is the inverse of decodeTone
func encodeTone(tone string) (flag, index int, err error) {
	t := strings.TrimSpace(tone)
	if t == "" || strings.EqualFold(t, ToneNone) {
		return toneFlagNone, 0, nil
	}

	if strings.HasPrefix(t, "D") || strings.HasPrefix(t, "d") {
		if len(t) != 5 {
			return 0, 0, fmt.Errorf("%w: tone %q", ErrInvalidValue, tone)
		}
		code, err := strconv.Atoi(t[1:4])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: tone %q", ErrInvalidValue, tone)
		}
		switch strings.ToUpper(t[4:]) {
		case "N":
			flag = toneFlagDCSNormal
		case "I":
			flag = toneFlagDCSInverted
		default:
			return 0, 0, fmt.Errorf("%w: tone %q polarity", ErrInvalidValue, tone)
		}
		for i, c := range DCSCodes {
			if c == code {
				return flag, i, nil
			}
		}
		return 0, 0, fmt.Errorf("%w: DCS code %q not in table", ErrInvalidValue, tone)
	}

	hz := strings.TrimSuffix(strings.TrimSuffix(t, "Hz"), " ")
	v, err := strconv.ParseFloat(hz, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: tone %q", ErrInvalidValue, tone)
	}
	tenths := int(v*10 + 0.5)
	for i, c := range CTCSSTones {
		if c == tenths {
			return toneFlagCTCSS, i, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: CTCSS tone %q not in table", ErrInvalidValue, tone)
}

// ParseTone normalizes a user supplied tone ("88.5", "88.5Hz", "d23n",
// "None") to its canonical string form
func ParseTone(tone string) (string, error) {
	flag, index, err := encodeTone(tone)
	if err != nil {
		return "", err
	}
	return decodeTone(flag, index), nil
}
