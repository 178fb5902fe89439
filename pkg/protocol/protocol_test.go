package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dougsko/k5link/pkg/profile"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("STATUS")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdStatus {
			t.Errorf("Expected type STATUS, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for STATUS, got %d", len(cmd.Args))
		}
	})

	t.Run("READ Command with Name", func(t *testing.T) {
		cmd, err := ParseCommand("READ: before trip ")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdRead {
			t.Errorf("Expected type READ, got %s", cmd.Type)
		}
		if cmd.Args["name"] != "before trip" {
			t.Errorf("Expected name 'before trip', got %v", cmd.Args["name"])
		}
	})

	t.Run("WRITE Command", func(t *testing.T) {
		cmd, err := ParseCommand("write:42")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdWrite {
			t.Errorf("Expected type WRITE, got %s", cmd.Type)
		}
		if cmd.Args["id"] != int64(42) {
			t.Errorf("Expected id 42, got %v", cmd.Args["id"])
		}
	})

	t.Run("Snapshot Id Required", func(t *testing.T) {
		for _, text := range []string{"WRITE", "SNAPSHOT", "DELETE", "WRITE:abc", "DELETE:"} {
			if _, err := ParseCommand(text); err == nil {
				t.Errorf("Expected error for %q", text)
			}
		}
	})

	t.Run("SNAPSHOTS Limit", func(t *testing.T) {
		cmd, err := ParseCommand("SNAPSHOTS:5")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["limit"] != 5 {
			t.Errorf("Expected limit 5, got %v", cmd.Args["limit"])
		}

		if _, err := ParseCommand("SNAPSHOTS:many"); err == nil {
			t.Error("Expected error for non-numeric limit")
		}
	})

	t.Run("PROFILE Command", func(t *testing.T) {
		cmd, err := ParseCommand("PROFILE:Extended")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["id"] != "extended" {
			t.Errorf("Expected id extended, got %v", cmd.Args["id"])
		}

		cmd, err = ParseCommand("PROFILE")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if _, ok := cmd.Args["id"]; ok {
			t.Error("Expected no id for bare PROFILE")
		}
	})

	t.Run("SCREENCAST Command", func(t *testing.T) {
		cmd, err := ParseCommand("SCREENCAST:Start")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["action"] != "start" {
			t.Errorf("Expected action start, got %v", cmd.Args["action"])
		}

		for _, text := range []string{"SCREENCAST", "SCREENCAST:pause"} {
			if _, err := ParseCommand(text); err == nil {
				t.Errorf("Expected error for %q", text)
			}
		}
	})

	t.Run("Simple Commands", func(t *testing.T) {
		commands := []string{CmdProfiles, CmdTelemetry, CmdTransfer, CmdSnapshots}
		for _, cmdText := range commands {
			t.Run(cmdText, func(t *testing.T) {
				cmd, err := ParseCommand(cmdText)
				if err != nil {
					t.Fatalf("Expected no error for %s, got: %v", cmdText, err)
				}
				if cmd.Type != cmdText {
					t.Errorf("Expected type %s, got %s", cmdText, cmd.Type)
				}
				if len(cmd.Args) != 0 {
					t.Errorf("Expected no args for %s, got %d", cmdText, len(cmd.Args))
				}
			})
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		cmd, err := ParseCommand("UNKNOWN:test")
		if err != nil {
			t.Fatalf("Expected no error for unknown command, got: %v", err)
		}
		if cmd.Type != "UNKNOWN" {
			t.Errorf("Expected type UNKNOWN, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for unknown command, got %d", len(cmd.Args))
		}
	})

	t.Run("Empty Command", func(t *testing.T) {
		if _, err := ParseCommand("   "); err == nil {
			t.Error("Expected error for empty command")
		}
	})
}

func TestResponse(t *testing.T) {
	t.Run("Success Response JSON", func(t *testing.T) {
		resp := NewSuccessResponse(Snapshot{ID: 7, Name: "field day", Total: 200, Used: 12})

		if !resp.Success {
			t.Error("Expected success to be true")
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["success"] != true {
			t.Error("Expected success true in JSON")
		}
		data, ok := parsed["data"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected object data, got %T", parsed["data"])
		}
		if data["name"] != "field day" {
			t.Errorf("Expected name 'field day', got %v", data["name"])
		}
		if _, present := data["channels"]; present {
			t.Error("Expected channels to be omitted when empty")
		}
	})

	t.Run("Error Response JSON", func(t *testing.T) {
		resp := NewErrorResponse("radio not connected")

		if resp.Success {
			t.Error("Expected success to be false")
		}
		if resp.Data != nil {
			t.Errorf("Expected no data for error response, got %v", resp.Data)
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["error"] != "radio not connected" {
			t.Errorf("Expected error in JSON, got %v", parsed["error"])
		}
	})
}

func TestTransferProgress(t *testing.T) {
	tests := map[string]bool{
		TransferIdle:    false,
		TransferReading: true,
		TransferWriting: true,
		TransferDone:    false,
		TransferFailed:  false,
	}
	for state, running := range tests {
		if got := (TransferProgress{State: state}).Running(); got != running {
			t.Errorf("State %s: expected running=%v, got %v", state, running, got)
		}
	}
}

func TestNewProfileInfo(t *testing.T) {
	info := NewProfileInfo(profile.Extended(), true)

	if info.ID != profile.ExtendedID {
		t.Errorf("Expected id %s, got %s", profile.ExtendedID, info.ID)
	}
	if !info.Active {
		t.Error("Expected active profile")
	}
	if len(info.Powers) != 8 {
		t.Errorf("Expected 8 power levels, got %d", len(info.Powers))
	}
	if !info.Capabilities.Screencast {
		t.Error("Expected screencast capability")
	}
}
