package channel

// CTCSSTones lists the 50 CTCSS tones in tenths of a hertz, in table order
var CTCSSTones = [50]int{
	670, 693, 719, 744, 770, 797, 825, 854, 885, 915,
	948, 974, 1000, 1035, 1072, 1109, 1148, 1188, 1230, 1273,
	1318, 1365, 1413, 1462, 1514, 1567, 1598, 1622, 1655, 1679,
	1713, 1738, 1773, 1799, 1835, 1862, 1899, 1928, 1966, 1995,
	2035, 2065, 2107, 2181, 2257, 2291, 2336, 2418, 2503, 2541,
}

// DCSCodes lists the 104 DCS codes, written as the decimal digits of the
// octal code (23 means D023), in table order
var DCSCodes = [104]int{
	23, 25, 26, 31, 32, 36, 43, 47, 51, 53,
	54, 65, 71, 72, 73, 74, 114, 115, 116, 122,
	125, 131, 132, 134, 143, 145, 152, 155, 156, 162,
	165, 172, 174, 205, 212, 223, 225, 226, 243, 244,
	245, 246, 251, 252, 255, 261, 263, 265, 266, 271,
	274, 306, 311, 315, 325, 331, 332, 343, 346, 351,
	356, 364, 365, 371, 411, 412, 413, 423, 431, 432,
	445, 446, 452, 454, 455, 462, 464, 465, 466, 503,
	506, 516, 523, 526, 532, 546, 565, 606, 612, 624,
	627, 631, 632, 654, 662, 664, 703, 712, 723, 731,
	732, 734, 743, 754,
}

// Steps lists the channel step sizes in kHz, indexed by the record step byte
var Steps = []float64{
	2.5, 5, 6.25, 10, 12.5, 25, 8.33, 0.01, 0.05, 0.1,
	0.25, 0.5, 1, 1.25, 9, 15, 20, 30, 50, 100,
	125, 200, 250, 500,
}

// Scramblers lists the voice scrambler settings
var Scramblers = []string{
	"OFF", "2600Hz", "2700Hz", "2800Hz", "2900Hz", "3000Hz",
	"3100Hz", "3200Hz", "3300Hz", "3400Hz", "3500Hz",
}

// PTTIDs lists the DTMF PTT-ID modes
var PTTIDs = []string{"OFF", "UP CODE", "DOWN CODE", "UP+DOWN CODE", "APOLLO QUINDAR"}

// Duplex directions indexed by the high nibble of byte 11
var Duplexes = []string{"", "+", "-"}

// bandLower holds the lower edge of each band in Hz. A frequency belongs to
// the highest band whose lower edge it reaches.
var bandLower = [7]int64{
	50_000_000,
	108_000_000,
	136_000_000,
	174_000_000,
	350_000_000,
	400_000_000,
	470_000_000,
}

// BandFor returns the band classification (0..6) of a frequency in Hz
func BandFor(freqHz int64) int {
	for band := len(bandLower) - 1; band > 0; band-- {
		if freqHz >= bandLower[band] {
			return band
		}
	}
	return 0
}

// narrowable modulations get an "N" prefixed mode when the narrow bit is set
var narrowable = map[string]bool{"FM": true, "AM": true}
