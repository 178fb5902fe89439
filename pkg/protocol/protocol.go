package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/profile"
)

// Command is a text command accepted by k5ctl, e.g. "READ:nightly"
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response is the envelope of every API reply
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Status represents the current daemon status
type Status struct {
	Connected  bool      `json:"connected"`
	Device     string    `json:"device"`
	Firmware   string    `json:"firmware"`
	Profile    string    `json:"profile"`
	Screencast bool      `json:"screencast"`
	Transfer   string    `json:"transfer"`
	Uptime     string    `json:"uptime"`
	StartTime  time.Time `json:"start_time"`
	Version    string    `json:"version"`
}

// ProfileInfo describes a registered profile
type ProfileInfo struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Active       bool                 `json:"active"`
	Layout       profile.MemoryLayout `json:"layout"`
	Capabilities profile.Capabilities `json:"capabilities"`
	Powers       []string             `json:"powers"`
	Modulations  []string             `json:"modulations"`
}

// NewProfileInfo summarizes p
func NewProfileInfo(p profile.Profile, active bool) ProfileInfo {
	opts := p.Codec().Options
	return ProfileInfo{
		ID:           p.ID(),
		Name:         p.Name(),
		Active:       active,
		Layout:       p.Layout(),
		Capabilities: p.Capabilities(),
		Powers:       opts.Powers,
		Modulations:  opts.Modulations,
	}
}

// Snapshot is a stored copy of a radio's channel table
type Snapshot struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	ProfileID string            `json:"profile_id"`
	Firmware  string            `json:"firmware"`
	CreatedAt time.Time         `json:"created_at"`
	Total     int               `json:"total"`
	Used      int               `json:"used"`
	Channels  []channel.Channel `json:"channels,omitempty"`
}

// Transfer states
const (
	TransferIdle    = "idle"
	TransferReading = "reading"
	TransferWriting = "writing"
	TransferDone    = "done"
	TransferFailed  = "failed"
)

// TransferProgress reports the running or last channel transfer
type TransferProgress struct {
	State      string    `json:"state"`
	Percent    float64   `json:"percent"`
	Channels   int       `json:"channels"`
	SnapshotID int64     `json:"snapshot_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Running reports whether the transfer is still in flight
func (t TransferProgress) Running() bool {
	return t.State == TransferReading || t.State == TransferWriting
}

// ReadRequest starts a channel read that is stored under Name
type ReadRequest struct {
	Name string `json:"name"`
}

// WriteRequest writes either a stored snapshot or explicit channels
type WriteRequest struct {
	SnapshotID int64             `json:"snapshot_id,omitempty"`
	Channels   []channel.Channel `json:"channels,omitempty"`
}

// ProfileRequest selects the active profile
type ProfileRequest struct {
	ID string `json:"id"`
}

// ScreencastState reports the live display mirror
type ScreencastState struct {
	Active      bool  `json:"active"`
	FPS         int   `json:"fps"`
	BPS         int   `json:"bps"`
	TotalFrames int64 `json:"total_frames"`
	Resyncs     int64 `json:"resyncs"`
}

// Websocket message types sent as JSON text frames. Framebuffers go out as
// binary frames.
const (
	WSStats  = "stats"
	WSStatus = "status"
)

// WSMessage is a JSON event on the screen websocket
type WSMessage struct {
	Type   string      `json:"type"`
	Data   interface{} `json:"data,omitempty"`
	Status string      `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(strings.TrimSpace(parts[0])),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := strings.TrimSpace(parts[1])

		switch cmd.Type {
		case CmdRead:
			// READ:before-trip
			cmd.Args["name"] = args

		case CmdWrite, CmdSnapshot, CmdDelete:
			// WRITE:3
			id, err := strconv.ParseInt(args, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid snapshot id %q", args)
			}
			cmd.Args["id"] = id

		case CmdSnapshots:
			// SNAPSHOTS:10
			limit, err := strconv.Atoi(args)
			if err != nil {
				return nil, fmt.Errorf("invalid limit %q", args)
			}
			cmd.Args["limit"] = limit

		case CmdProfile:
			// PROFILE:extended
			cmd.Args["id"] = strings.ToLower(args)

		case CmdScreencast:
			// SCREENCAST:start
			action := strings.ToLower(args)
			if action != "start" && action != "stop" {
				return nil, fmt.Errorf("screencast action must be start or stop, got %q", args)
			}
			cmd.Args["action"] = action
		}
	}

	switch cmd.Type {
	case CmdWrite, CmdSnapshot, CmdDelete:
		if _, ok := cmd.Args["id"]; !ok {
			return nil, fmt.Errorf("%s requires a snapshot id", cmd.Type)
		}
	case CmdScreencast:
		if _, ok := cmd.Args["action"]; !ok {
			return nil, fmt.Errorf("%s requires start or stop", cmd.Type)
		}
	}

	return cmd, nil
}

// String converts a Response to a JSON string
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdStatus     = "STATUS"
	CmdProfiles   = "PROFILES"
	CmdProfile    = "PROFILE"
	CmdTelemetry  = "TELEMETRY"
	CmdRead       = "READ"
	CmdWrite      = "WRITE"
	CmdTransfer   = "TRANSFER"
	CmdSnapshots  = "SNAPSHOTS"
	CmdSnapshot   = "SNAPSHOT"
	CmdDelete     = "DELETE"
	CmdScreencast = "SCREENCAST"
)
