// Package display mirrors the radio's LCD from screencast frames. An Engine
// owns the framebuffer, keeps the screencast alive and fans events out to any
// number of subscribers.
package display

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dougsko/k5link/pkg/frame"
	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/session"
)

// ErrAlreadyConnected is returned by Connect while a stream is bound
var ErrAlreadyConnected = errors.New("display engine already connected")

// Keepalive is sent on connect and then every KeepaliveInterval
var Keepalive = []byte{0x55, 0xAA, 0x00, 0x00}

const (
	DefaultKeepaliveInterval = 500 * time.Millisecond
	DefaultStatsWindow       = time.Second
	DefaultSubscriberBuffer  = 16
)

// Config tunes an Engine
type Config struct {
	KeepaliveInterval time.Duration
	StatsWindow       time.Duration
	SubscriberBuffer  int
	Parser            frame.ParserConfig
}

// Engine reconstructs the display from frames fed by a session stream
type Engine struct {
	cfg Config
	log *logging.ComponentLogger
	now func() time.Time

	// connection state
	mu            sync.Mutex
	stream        session.Stream
	stopKeepalive chan struct{}
	keepaliveDone chan struct{}

	// read path state
	stateMu      sync.Mutex
	parser       *frame.Parser
	framebuffer  [frame.FramebufferSize]byte
	windowFrames int
	windowBytes  int
	totalFrames  int64
	windowStart  time.Time
	lastStats    Stats

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	dropped int64
}

// NewEngine creates a disconnected engine with a blank framebuffer
func NewEngine(cfg Config) *Engine {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = DefaultStatsWindow
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	e := &Engine{
		cfg:    cfg,
		log:    logging.For("display"),
		now:    time.Now,
		parser: frame.NewParser(cfg.Parser),
		subs:   make(map[int]chan Event),
	}
	e.windowStart = e.now()
	return e
}

// Subscribe registers a new event consumer. Frame and stats events are
// dropped for a subscriber whose buffer is full; a status event evicts the
// oldest buffered event instead. Call the returned function to stop.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan Event, e.cfg.SubscriberBuffer)
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

func (e *Engine) publish(events ...Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for _, ev := range events {
		for _, ch := range e.subs {
			select {
			case ch <- ev:
				continue
			default:
			}
			if ev.Kind != EventStatus {
				e.dropped++
				continue
			}
			// status changes displace the oldest buffered event
			select {
			case <-ch:
				e.dropped++
			default:
			}
			select {
			case ch <- ev:
			default:
				e.dropped++
			}
		}
	}
}

// Connect binds the engine to a stream, sends the first keepalive and
// starts the keepalive timer
func (e *Engine) Connect(stream session.Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return ErrAlreadyConnected
	}

	e.stateMu.Lock()
	e.parser.Reset()
	e.windowFrames, e.windowBytes = 0, 0
	e.windowStart = e.now()
	e.stateMu.Unlock()

	stream.SetDataListener(e.OnBytes)
	if err := stream.SendRaw(Keepalive); err != nil {
		releaseListener(stream)
		return fmt.Errorf("failed to send keepalive: %w", err)
	}

	e.stream = stream
	e.stopKeepalive = make(chan struct{})
	e.keepaliveDone = make(chan struct{})
	go e.keepaliveLoop(stream, e.stopKeepalive, e.keepaliveDone)

	e.log.Info("Display connected", map[string]interface{}{
		"keepalive_ms": e.cfg.KeepaliveInterval.Milliseconds(),
	})
	e.publish(Event{Kind: EventStatus, Status: StatusConnected})
	return nil
}

func (e *Engine) keepaliveLoop(stream session.Stream, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := stream.SendRaw(Keepalive); err != nil {
				e.log.Error("Keepalive failed", map[string]interface{}{"error": err.Error()})
				// disconnect waits for this loop to exit
				go e.disconnect(stream, err)
				return
			}
		}
	}
}

// Disconnect stops the keepalive, then releases the data listener. It is
// safe to call when not connected.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream != nil {
		e.disconnect(stream, nil)
	}
}

func (e *Engine) disconnect(stream session.Stream, cause error) {
	e.mu.Lock()
	if e.stream == nil || e.stream != stream {
		e.mu.Unlock()
		return
	}
	stop, done := e.stopKeepalive, e.keepaliveDone
	e.stream = nil
	e.stopKeepalive, e.keepaliveDone = nil, nil
	e.mu.Unlock()

	close(stop)
	<-done
	releaseListener(stream)

	ev := Event{Kind: EventStatus, Status: StatusDisconnected}
	if cause != nil {
		ev.Status = StatusError
		ev.Err = cause
		e.log.Warn("Display disconnected on error", map[string]interface{}{"error": cause.Error()})
	} else {
		e.log.Info("Display disconnected")
	}
	e.publish(ev)
}

// releaseListener detaches the engine; the stream may already be gone
func releaseListener(stream session.Stream) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("display", "Releasing data listener panicked: %v", r)
		}
	}()
	stream.SetDataListener(nil)
}

// Connected reports whether a stream is bound
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream != nil
}

// OnBytes feeds raw stream bytes through the parser and applies every
// completed frame in arrival order
func (e *Engine) OnBytes(data []byte) {
	e.stateMu.Lock()
	frames := e.parser.Feed(data)
	e.windowBytes += len(data)

	events := make([]Event, 0, len(frames)+1)
	for _, f := range frames {
		e.apply(f)
		e.windowFrames++
		e.totalFrames++
		events = append(events, Event{
			Kind:        EventFrame,
			FrameKind:   f.Kind,
			Framebuffer: append([]byte(nil), e.framebuffer[:]...),
		})
	}
	if len(frames) > 0 {
		if st, ok := e.rollWindow(); ok {
			events = append(events, Event{Kind: EventStats, Stats: st})
		}
	}
	e.stateMu.Unlock()

	if len(events) > 0 {
		e.publish(events...)
	}
}

func (e *Engine) apply(f frame.Frame) {
	switch f.Kind {
	case frame.KindScreenshot:
		copy(e.framebuffer[:], f.Bitmap)
	case frame.KindDiff:
		for _, c := range f.Chunks {
			if c.Index < 0 || c.Index >= frame.MaxChunks {
				continue
			}
			copy(e.framebuffer[c.Index*frame.ChunkSize:], c.Data[:])
		}
	}
}

// rollWindow closes the stats window once it has run for StatsWindow
func (e *Engine) rollWindow() (Stats, bool) {
	now := e.now()
	elapsed := now.Sub(e.windowStart)
	if elapsed < e.cfg.StatsWindow {
		return Stats{}, false
	}

	secs := elapsed.Seconds()
	st := Stats{
		FPS:         int(math.Ceil(float64(e.windowFrames) / secs)),
		BPS:         int(math.Ceil(float64(e.windowBytes) / secs)),
		Frames:      e.windowFrames,
		Bytes:       e.windowBytes,
		TotalFrames: e.totalFrames,
		Window:      elapsed,
	}
	e.lastStats = st
	e.windowFrames, e.windowBytes = 0, 0
	e.windowStart = now
	return st, true
}

// Framebuffer returns a copy of the current display bitmap
func (e *Engine) Framebuffer() []byte {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return append([]byte(nil), e.framebuffer[:]...)
}

// LastStats returns the most recent closed window
func (e *Engine) LastStats() Stats {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastStats
}

// TotalFrames counts every applied frame since the engine was created
func (e *Engine) TotalFrames() int64 {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.totalFrames
}

// ParserStats exposes the parser's resync bookkeeping
func (e *Engine) ParserStats() frame.ParserStats {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.parser.Stats()
}

// DroppedEvents counts events lost to full subscriber buffers
func (e *Engine) DroppedEvents() int64 {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	return e.dropped
}
