// Package session defines the transport contract the core borrows from its
// caller, plus a serial implementation of the radio's command protocol and an
// in-memory mock.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by sessions
var (
	ErrNotConnected     = errors.New("session not connected")
	ErrPaused           = errors.New("session paused by another consumer")
	ErrHandshakeTimeout = errors.New("identification handshake timed out")
	ErrBadToken         = errors.New("session token rejected")
	ErrWriteRejected    = errors.New("eeprom write rejected")
)

// DefaultHandshakeTimeout bounds the wait for an identification reply
const DefaultHandshakeTimeout = 3000 * time.Millisecond

// MaxTransfer is the largest EEPROM read or write the radio accepts in one
// command
const MaxTransfer = 0x80

// DataListener receives raw bytes as they arrive from the radio. The slice is
// only valid for the duration of the call.
type DataListener func(data []byte)

// Stream is the byte-level side of a connection: raw writes and a single
// listener slot for raw reads
type Stream interface {
	SendRaw(data []byte) error
	SetDataListener(fn DataListener)
}

// Identity is the radio's reply to the identification handshake. Timestamp
// is the session token required by EEPROM access.
type Identity struct {
	Timestamp       uint32 `json:"timestamp"`
	Firmware        string `json:"firmware"`
	HasCustomAESKey bool   `json:"has_custom_aes_key"`
	PasswordLocked  bool   `json:"password_locked"`
}

// Session is everything the core needs from a connected radio. The caller
// owns it; the core never opens or closes it.
type Session interface {
	Stream

	// ReadEEPROM reads size bytes at offset
	ReadEEPROM(ctx context.Context, offset, size int, token uint32) ([]byte, error)
	// WriteEEPROM writes data at offset and reports whether the radio acknowledged it
	WriteEEPROM(ctx context.Context, offset int, data []byte, token uint32) (bool, error)
	// Identify performs the handshake. It returns a nil Identity and nil
	// error when the radio does not answer within the bounded wait.
	Identify(ctx context.Context) (*Identity, error)
	// PauseConnection hands the raw stream to a second consumer. It returns
	// nil when the stream is already handed off.
	PauseConnection() Stream
	// ResumeConnection ends the hand-off and restores the original listener
	ResumeConnection()
}

// TelemetrySource is implemented by sessions that can fetch the battery
// report
type TelemetrySource interface {
	ReadTelemetry(ctx context.Context, token uint32) ([]byte, error)
}

// TransportError records a failed read or write on the underlying stream
type TransportError struct {
	Op     string
	Offset int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at 0x%04X: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
