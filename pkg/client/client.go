package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/k5link/pkg/profile"
	"github.com/dougsko/k5link/pkg/protocol"
)

// APIClient talks to the k5d REST API
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for a daemon at baseURL, e.g.
// "http://localhost:8080"
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// do sends a request and decodes the response data into out, if non-nil
func (c *APIClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("parse error (HTTP %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		return fmt.Errorf("%s %s: %s", method, path, env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return nil
}

// GetStatus gets the current daemon status
func (c *APIClient) GetStatus() (*protocol.Status, error) {
	var status protocol.Status
	if err := c.do(http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetProfiles lists the registered profiles
func (c *APIClient) GetProfiles() ([]protocol.ProfileInfo, error) {
	var profiles []protocol.ProfileInfo
	if err := c.do(http.MethodGet, "/profiles", nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// SetProfile selects the active profile by id
func (c *APIClient) SetProfile(id string) (*protocol.ProfileInfo, error) {
	var info protocol.ProfileInfo
	if err := c.do(http.MethodPut, "/profile", protocol.ProfileRequest{ID: id}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTelemetry reads the radio's battery report
func (c *APIClient) GetTelemetry() (*profile.Telemetry, error) {
	var t profile.Telemetry
	if err := c.do(http.MethodGet, "/telemetry", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReadChannels starts a channel read that is stored as a snapshot
func (c *APIClient) ReadChannels(name string) (*protocol.TransferProgress, error) {
	var p protocol.TransferProgress
	if err := c.do(http.MethodPost, "/channels/read", protocol.ReadRequest{Name: name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteSnapshot starts writing a stored snapshot back to the radio
func (c *APIClient) WriteSnapshot(id int64) (*protocol.TransferProgress, error) {
	var p protocol.TransferProgress
	if err := c.do(http.MethodPost, "/channels/write", protocol.WriteRequest{SnapshotID: id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetTransfer reports the running or last transfer
func (c *APIClient) GetTransfer() (*protocol.TransferProgress, error) {
	var p protocol.TransferProgress
	if err := c.do(http.MethodGet, "/transfer", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WaitTransfer polls until the transfer leaves the running states
func (c *APIClient) WaitTransfer(ctx context.Context, interval time.Duration, onProgress func(protocol.TransferProgress)) (*protocol.TransferProgress, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p, err := c.GetTransfer()
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(*p)
		}
		if !p.Running() {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListSnapshots lists stored snapshots, newest first
func (c *APIClient) ListSnapshots(limit int) ([]protocol.Snapshot, error) {
	path := "/snapshots"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var snapshots []protocol.Snapshot
	if err := c.do(http.MethodGet, path, nil, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// GetSnapshot loads a snapshot with its channels
func (c *APIClient) GetSnapshot(id int64) (*protocol.Snapshot, error) {
	var s protocol.Snapshot
	if err := c.do(http.MethodGet, fmt.Sprintf("/snapshots/%d", id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSnapshot removes a stored snapshot
func (c *APIClient) DeleteSnapshot(id int64) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/snapshots/%d", id), nil, nil)
}

// Screencast starts or stops the live display mirror
func (c *APIClient) Screencast(action string) (*protocol.ScreencastState, error) {
	var st protocol.ScreencastState
	if err := c.do(http.MethodPost, "/screencast/"+action, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// IsConnected tests if the daemon is reachable
func (c *APIClient) IsConnected() bool {
	_, err := c.GetStatus()
	return err == nil
}

// Execute runs a parsed text command and returns its result
func (c *APIClient) Execute(cmd *protocol.Command) (interface{}, error) {
	switch cmd.Type {
	case protocol.CmdStatus:
		return c.GetStatus()
	case protocol.CmdProfiles:
		return c.GetProfiles()
	case protocol.CmdProfile:
		if id, ok := cmd.Args["id"].(string); ok && id != "" {
			return c.SetProfile(id)
		}
		profiles, err := c.GetProfiles()
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			if p.Active {
				return p, nil
			}
		}
		return nil, fmt.Errorf("no active profile")
	case protocol.CmdTelemetry:
		return c.GetTelemetry()
	case protocol.CmdRead:
		name, _ := cmd.Args["name"].(string)
		return c.ReadChannels(name)
	case protocol.CmdWrite:
		return c.WriteSnapshot(cmd.Args["id"].(int64))
	case protocol.CmdTransfer:
		return c.GetTransfer()
	case protocol.CmdSnapshots:
		limit, _ := cmd.Args["limit"].(int)
		return c.ListSnapshots(limit)
	case protocol.CmdSnapshot:
		return c.GetSnapshot(cmd.Args["id"].(int64))
	case protocol.CmdDelete:
		id := cmd.Args["id"].(int64)
		if err := c.DeleteSnapshot(id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": id}, nil
	case protocol.CmdScreencast:
		return c.Screencast(cmd.Args["action"].(string))
	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Type)
	}
}
