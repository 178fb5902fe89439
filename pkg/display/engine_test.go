package display

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dougsko/k5link/pkg/frame"
	"github.com/dougsko/k5link/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu             sync.Mutex
	ops            []string
	listener       session.DataListener
	sends          int
	failAfter      int
	panicOnRelease bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{failAfter: -1}
}

func (f *fakeStream) SendRaw(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.ops = append(f.ops, "send")
	if f.failAfter >= 0 && f.sends > f.failAfter {
		return errors.New("write failed")
	}
	return nil
}

func (f *fakeStream) SetDataListener(fn session.DataListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = fn
	if fn == nil {
		f.ops = append(f.ops, "release")
		if f.panicOnRelease {
			panic("port already closed")
		}
		return
	}
	f.ops = append(f.ops, "bind")
}

func (f *fakeStream) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertQuiet(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event", ev.Kind)
	default:
	}
}

func screenshot(t *testing.T, fill byte, newFormat bool) []byte {
	t.Helper()
	f, err := frame.Screenshot(bytes.Repeat([]byte{fill}, frame.FramebufferSize))
	require.NoError(t, err)
	return frame.Encode(f, newFormat)
}

func TestZeroScreenshot(t *testing.T) {
	e := NewEngine(Config{})
	events, cancel := e.Subscribe()
	defer cancel()

	e.OnBytes(screenshot(t, 0xFF, true))
	ev := next(t, events)
	require.Equal(t, EventFrame, ev.Kind)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, frame.FramebufferSize), ev.Framebuffer)

	e.OnBytes(screenshot(t, 0x00, false))
	ev = next(t, events)
	assert.Equal(t, EventFrame, ev.Kind)
	assert.Equal(t, frame.KindScreenshot, ev.FrameKind)
	assert.Equal(t, make([]byte, frame.FramebufferSize), ev.Framebuffer)
	assertQuiet(t, events)

	assert.Equal(t, make([]byte, frame.FramebufferSize), e.Framebuffer())
	assert.Equal(t, int64(2), e.TotalFrames())
}

func TestDiffChunk(t *testing.T) {
	e := NewEngine(Config{})

	base := make([]byte, frame.FramebufferSize)
	for i := range base {
		base[i] = byte(i)
	}
	f, err := frame.Screenshot(base)
	require.NoError(t, err)
	e.OnBytes(frame.Encode(f, false))

	var data [frame.ChunkSize]byte
	for i := range data {
		data[i] = 0xFF
	}
	e.OnBytes(frame.Encode(frame.Diff(frame.Chunk{Index: 5, Data: data}), false))

	got := e.Framebuffer()
	for i, b := range got {
		if i >= 40 && i < 48 {
			if b != 0xFF {
				t.Errorf("byte %d = 0x%02X, want 0xFF", i, b)
			}
		} else if b != base[i] {
			t.Errorf("byte %d changed to 0x%02X", i, b)
		}
	}
}

func TestDiffIdempotent(t *testing.T) {
	once := NewEngine(Config{})
	twice := NewEngine(Config{})

	diff := frame.Encode(frame.Diff(
		frame.Chunk{Index: 0, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		frame.Chunk{Index: 127, Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		frame.Chunk{Index: 64, Data: [8]byte{0xAA}},
	), true)

	once.OnBytes(diff)
	twice.OnBytes(diff)
	twice.OnBytes(diff)

	assert.Equal(t, once.Framebuffer(), twice.Framebuffer())
	assert.Equal(t, byte(1), once.Framebuffer()[0])
	assert.Equal(t, byte(1), once.Framebuffer()[1023])
}

func TestScreenshotSupersedesDiffs(t *testing.T) {
	e := NewEngine(Config{})

	var stream []byte
	stream = append(stream, frame.Encode(frame.Diff(frame.Chunk{Index: 3, Data: [8]byte{9, 9, 9, 9, 9, 9, 9, 9}}), false)...)
	stream = append(stream, screenshot(t, 0x11, false)...)
	e.OnBytes(stream)

	assert.Equal(t, bytes.Repeat([]byte{0x11}, frame.FramebufferSize), e.Framebuffer())
}

func TestStatsWindow(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	e := NewEngine(Config{StatsWindow: time.Second})
	e.now = func() time.Time { return clock }
	e.windowStart = clock

	events, cancel := e.Subscribe()
	defer cancel()

	shot := screenshot(t, 0, false)
	e.OnBytes(shot)
	e.OnBytes(shot)
	e.OnBytes(shot)
	for i := 0; i < 3; i++ {
		assert.Equal(t, EventFrame, next(t, events).Kind)
	}
	assertQuiet(t, events)

	clock = clock.Add(1500 * time.Millisecond)
	diff := frame.Encode(frame.Diff(frame.Chunk{Index: 1}), false)
	e.OnBytes(diff)

	assert.Equal(t, EventFrame, next(t, events).Kind)
	ev := next(t, events)
	require.Equal(t, EventStats, ev.Kind)
	assert.Equal(t, 3, ev.Stats.FPS)
	assert.Equal(t, 4, ev.Stats.Frames)
	assert.Equal(t, 3*len(shot)+len(diff), ev.Stats.Bytes)
	assert.Equal(t, 2070, ev.Stats.BPS)
	assert.Equal(t, int64(4), ev.Stats.TotalFrames)
	assert.Equal(t, ev.Stats, e.LastStats())

	clock = clock.Add(100 * time.Millisecond)
	e.OnBytes(diff)
	assert.Equal(t, EventFrame, next(t, events).Kind)
	assertQuiet(t, events)
	assert.Equal(t, int64(5), e.TotalFrames())
}

func TestMultipleSubscribers(t *testing.T) {
	e := NewEngine(Config{})
	a, cancelA := e.Subscribe()
	b, cancelB := e.Subscribe()
	defer cancelB()

	e.OnBytes(screenshot(t, 1, false))
	assert.Equal(t, EventFrame, next(t, a).Kind)
	assert.Equal(t, EventFrame, next(t, b).Kind)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	e.OnBytes(screenshot(t, 2, false))
	assert.Equal(t, EventFrame, next(t, b).Kind)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	e := NewEngine(Config{SubscriberBuffer: 1})
	_, cancel := e.Subscribe()
	defer cancel()

	e.OnBytes(screenshot(t, 1, false))
	e.OnBytes(screenshot(t, 2, false))
	assert.Equal(t, int64(1), e.DroppedEvents())
}

func TestStatusSurvivesFullBuffer(t *testing.T) {
	s := newFakeStream()
	e := NewEngine(Config{SubscriberBuffer: 2, KeepaliveInterval: time.Hour})
	events, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.Connect(s))
	for i := 0; i < 4; i++ {
		e.OnBytes(screenshot(t, byte(i), false))
	}
	e.Disconnect()

	var last Event
	for len(events) > 0 {
		last = <-events
	}
	assert.Equal(t, EventStatus, last.Kind)
	assert.Equal(t, StatusDisconnected, last.Status)
	assert.GreaterOrEqual(t, e.DroppedEvents(), int64(4))
}

func TestConnectWithMockSession(t *testing.T) {
	m := session.NewMockSession("")
	h := m.PauseConnection()
	require.NotNil(t, h)

	e := NewEngine(Config{KeepaliveInterval: 10 * time.Millisecond})
	events, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.Connect(h))
	ev := next(t, events)
	assert.Equal(t, StatusConnected, ev.Status)
	assert.ErrorIs(t, e.Connect(h), ErrAlreadyConnected)

	sent := m.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, Keepalive, sent[0])
	assert.Eventually(t, func() bool { return len(m.Sent()) >= 3 }, time.Second, 5*time.Millisecond)

	m.Emit(screenshot(t, 0x42, true))
	assert.Equal(t, EventFrame, next(t, events).Kind)
	assert.Equal(t, byte(0x42), e.Framebuffer()[100])

	e.Disconnect()
	assert.False(t, e.Connected())
	ev = next(t, events)
	assert.Equal(t, StatusDisconnected, ev.Status)
	assert.NoError(t, ev.Err)

	count := len(m.Sent())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, len(m.Sent()))

	m.Emit(screenshot(t, 0x00, true))
	assert.Equal(t, byte(0x42), e.Framebuffer()[100])

	e.Disconnect()
	assertQuiet(t, events)
}

func TestDisconnectOrdering(t *testing.T) {
	s := newFakeStream()
	s.panicOnRelease = true

	e := NewEngine(Config{KeepaliveInterval: 5 * time.Millisecond})
	require.NoError(t, e.Connect(s))
	time.Sleep(20 * time.Millisecond)

	assert.NotPanics(t, e.Disconnect)

	ops := s.history()
	require.NotEmpty(t, ops)
	assert.Equal(t, "bind", ops[0])
	assert.Equal(t, "release", ops[len(ops)-1])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ops, s.history())
}

func TestKeepaliveFailure(t *testing.T) {
	s := newFakeStream()
	s.failAfter = 2

	e := NewEngine(Config{KeepaliveInterval: 5 * time.Millisecond})
	events, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.Connect(s))
	assert.Equal(t, StatusConnected, next(t, events).Status)

	ev := next(t, events)
	assert.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, StatusError, ev.Status)
	assert.Error(t, ev.Err)
	assert.False(t, e.Connected())

	ops := s.history()
	assert.Equal(t, "release", ops[len(ops)-1])
}

func TestConnectFailsOnFirstKeepalive(t *testing.T) {
	s := newFakeStream()
	s.failAfter = 0

	e := NewEngine(Config{})
	assert.Error(t, e.Connect(s))
	assert.False(t, e.Connected())
	assert.Equal(t, []string{"bind", "send", "release"}, s.history())
}
