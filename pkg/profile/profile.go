// Package profile bundles the per-firmware memory layout, channel codec,
// telemetry decoding and capability flags, and selects one by firmware string.
package profile

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dougsko/k5link/pkg/channel"
)

// Region is a contiguous EEPROM area. Stride is the per-channel size for
// channel-indexed regions and zero otherwise.
type Region struct {
	Start  int `json:"start"`
	Size   int `json:"size"`
	Stride int `json:"stride,omitempty"`
}

// Present reports whether the region is defined
func (r Region) Present() bool {
	return r.Size > 0
}

// Count returns how many strided entries the region holds
func (r Region) Count() int {
	if r.Stride <= 0 {
		return 0
	}
	return r.Size / r.Stride
}

// Offset returns the address of the entry for a 1-based channel index
func (r Region) Offset(index int) int {
	return r.Start + (index-1)*r.Stride
}

// MemoryLayout names the EEPROM regions a firmware uses
type MemoryLayout struct {
	Channels     Region `json:"channels"`
	Attributes   Region `json:"attributes"`
	Names        Region `json:"names"`
	Settings     Region `json:"settings"`
	SettingsExt  Region `json:"settings_ext"`
	ChannelCount int    `json:"channel_count"`
}

// Capabilities flags what the host may do with a firmware
type Capabilities struct {
	Settings    bool `json:"settings"`
	Memories    bool `json:"memories"`
	Screencast  bool `json:"screencast"`
	Calibration bool `json:"calibration"`
}

// Telemetry is the decoded battery/receiver status report
type Telemetry struct {
	BatteryVoltage float64 `json:"battery_voltage"`
	BatteryCurrent int     `json:"battery_current"`
	RSSI           int     `json:"rssi,omitempty"`
	HasRSSI        bool    `json:"has_rssi"`
}

// Profile is a firmware-specific strategy bundle
type Profile interface {
	ID() string
	Name() string
	Matches(firmware string) bool
	Layout() MemoryLayout
	ChannelStride() int
	Codec() *channel.Codec
	DecodeTelemetry(payload []byte) (Telemetry, error)
	Capabilities() Capabilities
}

// firmwareProfile is the single concrete Profile; variants differ only in
// their data tables
type firmwareProfile struct {
	id           string
	name         string
	prefixes     []string
	markers      []string
	layout       MemoryLayout
	codec        *channel.Codec
	capabilities Capabilities
	rssi         bool
}

func (p *firmwareProfile) ID() string                 { return p.id }
func (p *firmwareProfile) Name() string               { return p.name }
func (p *firmwareProfile) Layout() MemoryLayout       { return p.layout }
func (p *firmwareProfile) ChannelStride() int         { return p.layout.Channels.Stride }
func (p *firmwareProfile) Codec() *channel.Codec      { return p.codec }
func (p *firmwareProfile) Capabilities() Capabilities { return p.capabilities }

// Matches checks the firmware string against the profile's prefixes and
// case-insensitive markers
func (p *firmwareProfile) Matches(firmware string) bool {
	fw := strings.TrimSpace(firmware)
	if fw == "" {
		return false
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(fw, prefix) {
			return true
		}
	}
	upper := strings.ToUpper(fw)
	for _, marker := range p.markers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// DecodeTelemetry parses a battery report: voltage in 10 mV units and current,
// both u16 little-endian, followed by RSSI on firmwares that report it
func (p *firmwareProfile) DecodeTelemetry(payload []byte) (Telemetry, error) {
	if len(payload) < 4 {
		return Telemetry{}, fmt.Errorf("telemetry payload too short: %d bytes", len(payload))
	}
	t := Telemetry{
		BatteryVoltage: float64(binary.LittleEndian.Uint16(payload[0:2])) / 100,
		BatteryCurrent: int(binary.LittleEndian.Uint16(payload[2:4])),
	}
	if p.rssi && len(payload) >= 6 {
		raw := int(binary.LittleEndian.Uint16(payload[4:6]))
		t.RSSI = raw/2 - 160
		t.HasRSSI = true
	}
	return t, nil
}

// String implements fmt.Stringer
func (p *firmwareProfile) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.id)
}
