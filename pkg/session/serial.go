package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/verbose"
	"go.bug.st/serial"
)

// SerialConfig holds the serial session settings
type SerialConfig struct {
	Device           string
	BaudRate         int
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// SerialSession speaks the radio's obfuscated command protocol over a byte
// stream. One command is in flight at a time.
type SerialSession struct {
	port             io.ReadWriteCloser
	handshakeTimeout time.Duration
	now              func() time.Time
	log              *logging.ComponentLogger

	writeMu sync.Mutex
	reqMu   sync.Mutex

	mu       sync.Mutex
	listener DataListener
	handle   *pausedStream
	closed   bool
	loopErr  error
	resync   bool

	decoder packetDecoder
	replies chan Message
	stopped chan struct{}
	wg      sync.WaitGroup
}

// OpenSerial opens the device and starts a session on it
func OpenSerial(cfg SerialConfig) (*SerialSession, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	logging.Info("session", "Serial port opened", map[string]interface{}{
		"device": cfg.Device,
		"baud":   cfg.BaudRate,
	})
	return NewSerialSession(port, cfg.HandshakeTimeout), nil
}

// NewSerialSession starts a session on an already open stream
func NewSerialSession(port io.ReadWriteCloser, handshakeTimeout time.Duration) *SerialSession {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	s := &SerialSession{
		port:             port,
		handshakeTimeout: handshakeTimeout,
		now:              time.Now,
		log:              logging.For("session"),
		replies:          make(chan Message, 16),
		stopped:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// Close stops the read loop and closes the stream
func (s *SerialSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.port.Close()
	s.wg.Wait()
	return err
}

func (s *SerialSession) readLoop() {
	defer s.wg.Done()
	defer close(s.stopped)

	buf := make([]byte, 512)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			s.dispatch(buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			if !closed {
				s.loopErr = err
			}
			s.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				s.log.Error("Serial read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

func (s *SerialSession) dispatch(data []byte) {
	verbose.Bytes("RX", data)

	s.mu.Lock()
	handle := s.handle
	listener := s.listener
	resync := s.resync
	s.resync = false
	s.mu.Unlock()

	if resync {
		s.decoder = packetDecoder{}
	}

	if handle != nil {
		handle.deliver(data)
		return
	}
	if listener != nil {
		listener(data)
	}
	for _, m := range s.decoder.feed(data) {
		select {
		case s.replies <- m:
		default:
			s.log.Warn("Reply queue full, dropping message", map[string]interface{}{
				"type": fmt.Sprintf("0x%04X", m.Type),
			})
		}
	}
}

func (s *SerialSession) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	verbose.Bytes("TX", data)
	_, err := s.port.Write(data)
	return err
}

func (s *SerialSession) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.loopErr != nil {
		return ErrNotConnected
	}
	if s.handle != nil {
		return ErrPaused
	}
	return nil
}

func (s *SerialSession) drainReplies() {
	for {
		select {
		case <-s.replies:
		default:
			return
		}
	}
}

// request sends one command and waits for the matching reply
func (s *SerialSession) request(ctx context.Context, msg Message, want uint16, match func(Message) bool, op string, offset int) (Message, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	if err := s.usable(); err != nil {
		return Message{}, err
	}
	s.drainReplies()

	if err := s.write(EncodePacket(msg)); err != nil {
		return Message{}, &TransportError{Op: op, Offset: offset, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-s.stopped:
			s.mu.Lock()
			err := s.loopErr
			s.mu.Unlock()
			if err == nil {
				err = ErrNotConnected
			}
			return Message{}, &TransportError{Op: op, Offset: offset, Err: err}
		case m := <-s.replies:
			if m.Type == want && (match == nil || match(m)) {
				return m, nil
			}
		}
	}
}

// Identify sends the hello command and waits up to the handshake timeout
func (s *SerialSession) Identify(ctx context.Context) (*Identity, error) {
	ts := uint32(s.now().Unix())
	data := binary.LittleEndian.AppendUint32(nil, ts)

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	reply, err := s.request(hctx, Message{Type: MsgHello, Data: data}, MsgVersion, nil, "identify", -1)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.log.Warn("Radio did not answer identification", map[string]interface{}{
				"timeout_ms": s.handshakeTimeout.Milliseconds(),
			})
			return nil, nil
		}
		return nil, err
	}

	id := parseIdentity(ts, reply.Data)
	s.log.Info("Radio identified", map[string]interface{}{"firmware": id.Firmware})
	return id, nil
}

func parseIdentity(ts uint32, data []byte) *Identity {
	id := &Identity{Timestamp: ts}
	fw := data
	if len(fw) > 16 {
		fw = fw[:16]
	}
	if i := bytes.IndexByte(fw, 0); i >= 0 {
		fw = fw[:i]
	}
	id.Firmware = string(fw)
	if len(data) > 16 {
		id.HasCustomAESKey = data[16] != 0
	}
	if len(data) > 17 {
		id.PasswordLocked = data[17] != 0
	}
	return id
}

// ReadEEPROM reads in chunks of at most MaxTransfer bytes
func (s *SerialSession) ReadEEPROM(ctx context.Context, offset, size int, token uint32) ([]byte, error) {
	if err := checkRange(offset, size); err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for done := 0; done < size; {
		n := size - done
		if n > MaxTransfer {
			n = MaxTransfer
		}
		addr := offset + done

		req := make([]byte, 0, 8)
		req = binary.LittleEndian.AppendUint16(req, uint16(addr))
		req = append(req, byte(n), 0)
		req = binary.LittleEndian.AppendUint32(req, token)

		reply, err := s.request(ctx, Message{Type: MsgReadEEPROM, Data: req}, MsgReadReply, func(m Message) bool {
			return len(m.Data) >= 4 && int(binary.LittleEndian.Uint16(m.Data)) == addr
		}, "eeprom read", addr)
		if err != nil {
			return nil, err
		}

		chunk := reply.Data[4:]
		if len(chunk) < n {
			return nil, &TransportError{Op: "eeprom read", Offset: addr, Err: fmt.Errorf("short reply: %d of %d bytes", len(chunk), n)}
		}
		out = append(out, chunk[:n]...)
		done += n
	}
	return out, nil
}

// WriteEEPROM writes in chunks of at most MaxTransfer bytes
func (s *SerialSession) WriteEEPROM(ctx context.Context, offset int, data []byte, token uint32) (bool, error) {
	if err := checkRange(offset, len(data)); err != nil {
		return false, err
	}

	for done := 0; done < len(data); {
		n := len(data) - done
		if n > MaxTransfer {
			n = MaxTransfer
		}
		addr := offset + done

		req := make([]byte, 0, 8+n)
		req = binary.LittleEndian.AppendUint16(req, uint16(addr))
		req = append(req, byte(n), 1)
		req = binary.LittleEndian.AppendUint32(req, token)
		req = append(req, data[done:done+n]...)

		_, err := s.request(ctx, Message{Type: MsgWriteEEPROM, Data: req}, MsgWriteReply, func(m Message) bool {
			return len(m.Data) >= 2 && int(binary.LittleEndian.Uint16(m.Data)) == addr
		}, "eeprom write", addr)
		if err != nil {
			return false, err
		}
		done += n
	}
	return true, nil
}

// ReadTelemetry fetches the raw battery report
func (s *SerialSession) ReadTelemetry(ctx context.Context, token uint32) ([]byte, error) {
	data := binary.LittleEndian.AppendUint32(nil, token)
	reply, err := s.request(ctx, Message{Type: MsgBattery, Data: data}, MsgBatteryReply, nil, "telemetry", -1)
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// SendRaw writes bytes without packet framing
func (s *SerialSession) SendRaw(data []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.write(data); err != nil {
		return &TransportError{Op: "send", Offset: -1, Err: err}
	}
	return nil
}

// SetDataListener replaces the raw byte listener; nil clears it
func (s *SerialSession) SetDataListener(fn DataListener) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// PauseConnection routes the raw stream to a new handle until resumed
func (s *SerialSession) PauseConnection() Stream {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil || s.closed {
		return nil
	}
	s.handle = &pausedStream{session: s}
	s.log.Debug("Connection paused")
	return s.handle
}

// ResumeConnection invalidates the paused handle
func (s *SerialSession) ResumeConnection() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.resync = true
	s.mu.Unlock()

	if h != nil {
		h.release()
		s.log.Debug("Connection resumed")
	}
}

func checkRange(offset, size int) error {
	if offset < 0 || size < 0 || offset+size > 0x10000 {
		return fmt.Errorf("invalid eeprom range: offset %d size %d", offset, size)
	}
	return nil
}

// pausedStream is the handle given out by PauseConnection
type pausedStream struct {
	session *SerialSession

	mu       sync.Mutex
	listener DataListener
	released bool
}

func (p *pausedStream) SendRaw(data []byte) error {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return ErrNotConnected
	}
	if err := p.session.write(data); err != nil {
		return &TransportError{Op: "send", Offset: -1, Err: err}
	}
	return nil
}

func (p *pausedStream) SetDataListener(fn DataListener) {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
}

func (p *pausedStream) deliver(data []byte) {
	p.mu.Lock()
	fn := p.listener
	if p.released {
		fn = nil
	}
	p.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (p *pausedStream) release() {
	p.mu.Lock()
	p.released = true
	p.listener = nil
	p.mu.Unlock()
}
