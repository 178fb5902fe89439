package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dougsko/k5link/pkg/logging"
)

// MockEEPROMSize matches the radio's 8 KiB configuration memory
const MockEEPROMSize = 0x2000

// DefaultMockFirmware is what an unconfigured mock reports
const DefaultMockFirmware = "2.01.32"

// Call is one recorded EEPROM access
type Call struct {
	Op     string
	Offset int
	Size   int
}

// MockSession implements Session in memory for tests and demo mode
type MockSession struct {
	mutex sync.Mutex

	memory    []byte
	firmware  string
	token     uint32
	nextToken uint32
	connected bool
	silent    bool
	telemetry []byte

	failReads  map[int]error
	failWrites map[int]error

	calls []Call
	sent  [][]byte

	listener DataListener
	handle   *mockStream
	log      *logging.ComponentLogger
}

// NewMockSession creates a connected mock with erased memory
func NewMockSession(firmware string) *MockSession {
	if firmware == "" {
		firmware = DefaultMockFirmware
	}
	mem := make([]byte, MockEEPROMSize)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &MockSession{
		memory:     mem,
		firmware:   firmware,
		nextToken:  0x6A000001,
		connected:  true,
		telemetry:  BatteryReport(810, 0),
		failReads:  make(map[int]error),
		failWrites: make(map[int]error),
		log:        logging.For("mock-session"),
	}
}

// SetFirmware changes the firmware string reported by Identify
func (m *MockSession) SetFirmware(fw string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.firmware = fw
}

// SetSilent makes Identify behave like a radio that never answers
func (m *MockSession) SetSilent(silent bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.silent = silent
}

// SetTelemetry sets the raw battery report
func (m *MockSession) SetTelemetry(raw []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.telemetry = append([]byte(nil), raw...)
}

// FailReadAt makes any read covering offset fail with err
func (m *MockSession) FailReadAt(offset int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failReads[offset] = err
}

// FailWriteAt makes any write covering offset fail with err
func (m *MockSession) FailWriteAt(offset int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failWrites[offset] = err
}

// Disconnect makes every later call fail with ErrNotConnected
func (m *MockSession) Disconnect() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connected = false
}

// Load copies data into memory at offset
func (m *MockSession) Load(offset int, data []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	copy(m.memory[offset:], data)
}

// Memory returns a copy of size bytes at offset
func (m *MockSession) Memory(offset, size int) []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]byte(nil), m.memory[offset:offset+size]...)
}

// Calls returns the recorded EEPROM accesses
func (m *MockSession) Calls() []Call {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Call(nil), m.calls...)
}

// Sent returns every buffer passed to SendRaw, on the session or a paused handle
func (m *MockSession) Sent() [][]byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Paused reports whether a handle is currently out
func (m *MockSession) Paused() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.handle != nil
}

// Emit delivers bytes as if the radio had sent them
func (m *MockSession) Emit(data []byte) {
	m.mutex.Lock()
	var fn DataListener
	if m.handle != nil {
		fn = m.handle.listener
	} else {
		fn = m.listener
	}
	m.mutex.Unlock()

	if fn != nil {
		fn(data)
	}
}

// Identify issues a fresh session token and reports the configured firmware.
// A silent mock returns a nil identity.
func (m *MockSession) Identify(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.connected {
		return nil, ErrNotConnected
	}
	if m.handle != nil {
		return nil, ErrPaused
	}
	if m.silent {
		m.log.Warn("Mock radio ignoring identification")
		return nil, nil
	}

	m.token = m.nextToken
	m.nextToken++
	m.log.Debugf("Identified as %q, token 0x%08X", m.firmware, m.token)
	return &Identity{Timestamp: m.token, Firmware: m.firmware}, nil
}

func (m *MockSession) check(ctx context.Context, token uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.connected {
		return ErrNotConnected
	}
	if m.handle != nil {
		return ErrPaused
	}
	if m.token != 0 && token != m.token {
		return ErrBadToken
	}
	return nil
}

func failure(faults map[int]error, offset, size int) (int, error) {
	for at, err := range faults {
		if at >= offset && at < offset+size {
			return at, err
		}
	}
	return 0, nil
}

// ReadEEPROM records the read and returns a copy of the simulated memory
func (m *MockSession) ReadEEPROM(ctx context.Context, offset, size int, token uint32) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(ctx, token); err != nil {
		return nil, err
	}
	if offset < 0 || size < 0 || offset+size > len(m.memory) {
		return nil, fmt.Errorf("invalid eeprom range: offset %d size %d", offset, size)
	}
	m.calls = append(m.calls, Call{Op: "read", Offset: offset, Size: size})
	if at, err := failure(m.failReads, offset, size); err != nil {
		return nil, &TransportError{Op: "eeprom read", Offset: at, Err: err}
	}
	return append([]byte(nil), m.memory[offset:offset+size]...), nil
}

// WriteEEPROM records the write and stores data unless a fault covers it
func (m *MockSession) WriteEEPROM(ctx context.Context, offset int, data []byte, token uint32) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(ctx, token); err != nil {
		return false, err
	}
	if offset < 0 || offset+len(data) > len(m.memory) {
		return false, fmt.Errorf("invalid eeprom range: offset %d size %d", offset, len(data))
	}
	m.calls = append(m.calls, Call{Op: "write", Offset: offset, Size: len(data)})
	if at, err := failure(m.failWrites, offset, len(data)); err != nil {
		return false, &TransportError{Op: "eeprom write", Offset: at, Err: err}
	}
	copy(m.memory[offset:], data)
	return true, nil
}

// ReadTelemetry returns the configured battery report
func (m *MockSession) ReadTelemetry(ctx context.Context, token uint32) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.check(ctx, token); err != nil {
		return nil, err
	}
	return append([]byte(nil), m.telemetry...), nil
}

// SendRaw records data while the session holds the stream
func (m *MockSession) SendRaw(data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	if m.handle != nil {
		return ErrPaused
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	return nil
}

// SetDataListener sets the receiver for Emit while no handle is out
func (m *MockSession) SetDataListener(fn DataListener) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listener = fn
}

// PauseConnection hands out the stream, or nil if it is already out or the
// mock is disconnected
func (m *MockSession) PauseConnection() Stream {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.handle != nil || !m.connected {
		return nil
	}
	m.handle = &mockStream{session: m}
	m.log.Debug("Connection paused")
	return m.handle
}

// ResumeConnection releases the outstanding handle
func (m *MockSession) ResumeConnection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.handle == nil {
		return
	}
	m.handle.released = true
	m.handle.listener = nil
	m.handle = nil
	m.log.Debug("Connection resumed")
}

// mockStream shares the session mutex
type mockStream struct {
	session  *MockSession
	listener DataListener
	released bool
}

// SendRaw records data until the handle is released
func (h *mockStream) SendRaw(data []byte) error {
	m := h.session
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if h.released || !m.connected {
		return ErrNotConnected
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	return nil
}

// SetDataListener is ignored once the handle is released
func (h *mockStream) SetDataListener(fn DataListener) {
	h.session.mutex.Lock()
	defer h.session.mutex.Unlock()
	if !h.released {
		h.listener = fn
	}
}

// BatteryReport builds a raw telemetry payload from voltage in hundredths
// of a volt and current in milliamps
func BatteryReport(centivolts, milliamps uint16) []byte {
	out := binary.LittleEndian.AppendUint16(nil, centivolts)
	return binary.LittleEndian.AppendUint16(out, milliamps)
}
