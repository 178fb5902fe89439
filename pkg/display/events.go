package display

import (
	"time"

	"github.com/dougsko/k5link/pkg/frame"
)

// Status is the engine connection state reported in status events
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// EventKind tells which field of an Event is populated
type EventKind int

const (
	EventFrame EventKind = iota
	EventStats
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventStats:
		return "stats"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Stats is one closed measurement window
type Stats struct {
	FPS         int           `json:"fps"`
	BPS         int           `json:"bps"`
	Frames      int           `json:"frames"`
	Bytes       int           `json:"bytes"`
	TotalFrames int64         `json:"total_frames"`
	Window      time.Duration `json:"window"`
}

// Event is delivered to every subscriber. Framebuffer is a private copy the
// receiver may keep.
type Event struct {
	Kind        EventKind
	Framebuffer []byte
	FrameKind   frame.Kind
	Stats       Stats
	Status      Status
	Err         error
}
