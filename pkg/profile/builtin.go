package profile

import "github.com/dougsko/k5link/pkg/channel"

// Built-in profile identifiers
const (
	StockID    = "stock"
	ExtendedID = "extended"
)

const memoryChannels = 200

// Stock returns the profile for the factory firmware
func Stock() Profile {
	return &firmwareProfile{
		id:       StockID,
		name:     "Stock firmware",
		prefixes: []string{"2.01.", "k5_2.01", "k5_v2.01"},
		layout: MemoryLayout{
			Channels:     Region{Start: 0x0000, Size: memoryChannels * channel.RecordSize, Stride: channel.RecordSize},
			Attributes:   Region{Start: 0x0D60, Size: memoryChannels, Stride: 1},
			Names:        Region{Start: 0x0F50, Size: memoryChannels * channel.NameSize, Stride: channel.NameSize},
			Settings:     Region{Start: 0x0E70, Size: 0xB0},
			ChannelCount: memoryChannels,
		},
		codec: &channel.Codec{
			Record: channel.RecordLayout{
				RxToneFlag: channel.BitField{Byte: 10, Shift: 0, Width: 4},
				TxToneFlag: channel.BitField{Byte: 10, Shift: 4, Width: 4},
				Modulation: channel.BitField{Byte: 11, Shift: 0, Width: 4},
				Duplex:     channel.BitField{Byte: 11, Shift: 4, Width: 4},
				FreqRev:    channel.BitField{Byte: 12, Shift: 0, Width: 1},
				Narrow:     channel.BitField{Byte: 12, Shift: 1, Width: 1},
				Power:      channel.BitField{Byte: 12, Shift: 2, Width: 2},
				BusyLock:   channel.BitField{Byte: 12, Shift: 4, Width: 1},
				DTMFDecode: channel.BitField{Byte: 13, Shift: 0, Width: 1},
				PTTID:      channel.BitField{Byte: 13, Shift: 1, Width: 3},
			},
			Attr: channel.AttrLayout{
				ScanList: [3]channel.BitField{
					{Byte: 0, Shift: 7, Width: 1},
					{Byte: 0, Shift: 6, Width: 1},
				},
				Compander: channel.BitField{Byte: 0, Shift: 3, Width: 2},
				Band:      channel.BitField{Byte: 0, Shift: 0, Width: 3},
			},
			Options: channel.Options{
				Modulations: []string{"FM", "AM", "USB"},
				Powers:      []string{"LOW", "MID", "HIGH"},
				Companders:  []string{"OFF", "TX", "RX", "TX/RX"},
				Steps:       channel.Steps,
				Scramblers:  channel.Scramblers,
				PTTIDs:      channel.PTTIDs,
			},
		},
		capabilities: Capabilities{Settings: true, Memories: true, Calibration: true},
	}
}

// Extended returns the profile for custom firmwares with screencast support,
// 3-bit power levels, tx lock and a third scan list
func Extended() Profile {
	return &firmwareProfile{
		id:      ExtendedID,
		name:    "Extended custom firmware",
		markers: []string{"F4HWN", "EXT"},
		layout: MemoryLayout{
			Channels:     Region{Start: 0x0000, Size: memoryChannels * channel.RecordSize, Stride: channel.RecordSize},
			Attributes:   Region{Start: 0x0D60, Size: memoryChannels, Stride: 1},
			Names:        Region{Start: 0x0F50, Size: memoryChannels * channel.NameSize, Stride: channel.NameSize},
			Settings:     Region{Start: 0x0E70, Size: 0xB0},
			SettingsExt:  Region{Start: 0x1FF0, Size: 0x10},
			ChannelCount: memoryChannels,
		},
		codec: &channel.Codec{
			Record: channel.RecordLayout{
				RxToneFlag: channel.BitField{Byte: 10, Shift: 0, Width: 4},
				TxToneFlag: channel.BitField{Byte: 10, Shift: 4, Width: 4},
				Modulation: channel.BitField{Byte: 11, Shift: 0, Width: 4},
				Duplex:     channel.BitField{Byte: 11, Shift: 4, Width: 4},
				FreqRev:    channel.BitField{Byte: 12, Shift: 0, Width: 1},
				Narrow:     channel.BitField{Byte: 12, Shift: 1, Width: 1},
				Power:      channel.BitField{Byte: 12, Shift: 2, Width: 3},
				BusyLock:   channel.BitField{Byte: 12, Shift: 5, Width: 1},
				TxLock:     channel.BitField{Byte: 12, Shift: 6, Width: 1},
				DTMFDecode: channel.BitField{Byte: 13, Shift: 0, Width: 1},
				PTTID:      channel.BitField{Byte: 13, Shift: 1, Width: 3},
			},
			Attr: channel.AttrLayout{
				ScanList: [3]channel.BitField{
					{Byte: 0, Shift: 4, Width: 1},
					{Byte: 0, Shift: 5, Width: 1},
					{Byte: 0, Shift: 6, Width: 1},
				},
				Compander: channel.BitField{Byte: 0, Shift: 3, Width: 1},
				Band:      channel.BitField{Byte: 0, Shift: 0, Width: 3},
			},
			Options: channel.Options{
				Modulations: []string{"FM", "AM", "USB", "BYP", "RAW", "DSB"},
				Powers:      []string{"USER", "LOW1", "LOW2", "LOW3", "LOW4", "LOW5", "MID", "HIGH"},
				Companders:  []string{"OFF", "ON"},
				Steps:       channel.Steps,
				Scramblers:  channel.Scramblers,
				PTTIDs:      channel.PTTIDs,
			},
		},
		capabilities: Capabilities{Settings: true, Memories: true, Screencast: true, Calibration: true},
		rssi:         true,
	}
}

// Builtin returns every shipped profile in match priority order
func Builtin() []Profile {
	return []Profile{Extended(), Stock()}
}
