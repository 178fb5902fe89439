package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/profile"
	"github.com/dougsko/k5link/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallProfile narrows a builtin profile to a short channel table
type smallProfile struct {
	profile.Profile
	count int
}

func (p smallProfile) Layout() profile.MemoryLayout {
	l := p.Profile.Layout()
	l.Channels.Size = p.count * l.Channels.Stride
	l.Attributes.Size = p.count * l.Attributes.Stride
	l.Names.Size = p.count * l.Names.Stride
	l.ChannelCount = p.count
	return l
}

func sample(index int) channel.Channel {
	rx := 145_000_000 + int64(index)*12_500
	return channel.Channel{
		Index:     index,
		Name:      fmt.Sprintf("CH%02d", index),
		RxFreq:    rx,
		Mode:      "FM",
		Power:     "HIGH",
		RxTone:    "88.5Hz",
		TxTone:    channel.ToneNone,
		Step:      12.5,
		Scrambler: "OFF",
		PTTID:     "OFF",
		Compander: "OFF",
		ScanList1: true,
		Band:      channel.BandFor(rx),
	}
}

// seed writes channels straight into mock memory using the profile codec
func seed(t *testing.T, m *session.MockSession, p profile.Profile, channels ...channel.Channel) {
	t.Helper()
	l := p.Layout()
	for _, ch := range channels {
		rec := make([]byte, l.Channels.Stride)
		aux := channel.Aux{Attr: make([]byte, 1), Name: make([]byte, channel.NameSize)}
		require.NoError(t, p.Codec().Encode(ch, rec, aux))
		m.Load(l.Channels.Offset(ch.Index), rec)
		m.Load(l.Attributes.Offset(ch.Index), aux.Attr)
		m.Load(l.Names.Offset(ch.Index), aux.Name)
	}
}

type recorder struct {
	progress []float64
	batches  [][]channel.Channel
}

func (r *recorder) onProgress(p float64)           { r.progress = append(r.progress, p) }
func (r *recorder) onLive(batch []channel.Channel) { r.batches = append(r.batches, batch) }

func assertProgress(t *testing.T, progress []float64) {
	t.Helper()
	require.NotEmpty(t, progress)
	hundreds := 0
	for i, p := range progress {
		if i > 0 && p < progress[i-1] {
			t.Errorf("progress went backwards at %d: %v -> %v", i, progress[i-1], p)
		}
		if p == 100 {
			hundreds++
		}
	}
	assert.Equal(t, 1, hundreds, "100 reported exactly once")
	assert.Equal(t, float64(100), progress[len(progress)-1])
}

func TestReadChannelsBatches(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 25}
	m := session.NewMockSession("")
	seed(t, m, p, sample(1), sample(12), sample(25))

	var rec recorder
	tr := NewTransfer(p, 10)
	channels, err := tr.ReadChannels(context.Background(), m, rec.onProgress, rec.onLive)
	require.NoError(t, err)
	require.Len(t, channels, 25)

	require.Len(t, rec.batches, 3)
	assert.Len(t, rec.batches[0], 10)
	assert.Len(t, rec.batches[1], 10)
	assert.Len(t, rec.batches[2], 5)

	assert.Len(t, rec.progress, 25)
	assertProgress(t, rec.progress)
	assert.InDelta(t, 4.0, rec.progress[0], 1e-9)

	assert.Equal(t, sample(1), channels[0])
	assert.Equal(t, sample(12), channels[11])
	assert.Equal(t, sample(25), channels[24])
	assert.True(t, channels[1].Empty)
	assert.Equal(t, 2, channels[1].Index)

	calls := m.Calls()
	require.Len(t, calls, 9)
	l := p.Layout()
	assert.Equal(t, session.Call{Op: "read", Offset: l.Channels.Offset(1), Size: 160}, calls[0])
	assert.Equal(t, session.Call{Op: "read", Offset: l.Attributes.Offset(1), Size: 10}, calls[1])
	assert.Equal(t, session.Call{Op: "read", Offset: l.Names.Offset(1), Size: 160}, calls[2])
	assert.Equal(t, session.Call{Op: "read", Offset: l.Channels.Offset(21), Size: 80}, calls[6])
}

func TestReadChannelsNoIdentity(t *testing.T) {
	m := session.NewMockSession("")
	m.SetSilent(true)

	_, err := NewTransfer(profile.Stock(), 0).ReadChannels(context.Background(), m, nil, nil)
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.ErrorIs(t, err, session.ErrHandshakeTimeout)
	assert.Empty(t, m.Calls())
}

func TestReadChannelsFailure(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 25}
	m := session.NewMockSession("")
	boom := errors.New("cable pulled")
	m.FailReadAt(p.Layout().Names.Offset(15), boom)

	var rec recorder
	_, err := NewTransfer(p, 10).ReadChannels(context.Background(), m, rec.onProgress, rec.onLive)

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "read names", be.Op)
	assert.Equal(t, 2, be.Batch)
	assert.Equal(t, p.Layout().Names.Offset(11), be.Offset)
	assert.ErrorIs(t, err, boom)

	var te *session.TransportError
	assert.ErrorAs(t, err, &te)

	assert.Len(t, rec.batches, 1)
	assert.Len(t, rec.progress, 10)
}

func TestReadChannelsEmptyTable(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 0}
	m := session.NewMockSession("")

	var rec recorder
	channels, err := NewTransfer(p, 10).ReadChannels(context.Background(), m, rec.onProgress, rec.onLive)
	require.NoError(t, err)
	assert.Empty(t, channels)
	assert.Equal(t, []float64{100}, rec.progress)
}

// shortSession truncates every read to half its size
type shortSession struct {
	*session.MockSession
}

func (s shortSession) ReadEEPROM(ctx context.Context, offset, size int, token uint32) ([]byte, error) {
	data, err := s.MockSession.ReadEEPROM(ctx, offset, size, token)
	if err != nil {
		return nil, err
	}
	return data[:len(data)/2], nil
}

func TestReadChannelsShortReply(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 4}
	m := session.NewMockSession("")
	seed(t, m, p, sample(1), sample(2), sample(3), sample(4))

	channels, err := NewTransfer(p, 4).ReadChannels(context.Background(), shortSession{m}, nil, nil)
	require.NoError(t, err)
	require.Len(t, channels, 4)
	assert.False(t, channels[0].Empty)
	assert.Equal(t, "CH02", channels[1].Name)
	assert.True(t, channels[2].Empty)
	assert.True(t, channels[3].Empty)
}

func TestWriteThenRead(t *testing.T) {
	for _, p := range profile.Builtin() {
		t.Run(p.ID(), func(t *testing.T) {
			m := session.NewMockSession("")
			ch7 := sample(7)
			ch150 := sample(150)
			ch150.Mode = "AM"
			ch150.Duplex = "-"
			ch150.Offset = 600_000
			ch150.Name = "REPEATER"
			if p.ID() == profile.ExtendedID {
				ch7.Power = "LOW3"
				ch150.TxLock = true
				ch150.ScanList3 = true
			}

			var progress []float64
			tr := NewTransfer(p, 10)
			err := tr.WriteChannels(context.Background(), m, []channel.Channel{ch7, ch150}, func(pct float64) {
				progress = append(progress, pct)
			})
			require.NoError(t, err)
			assert.Equal(t, []float64{50, 100}, progress)

			writes := 0
			for _, c := range m.Calls() {
				if c.Op == "write" {
					writes++
				}
			}
			assert.Equal(t, 6, writes)

			got, err := tr.ReadChannels(context.Background(), m, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, ch7, got[6])
			assert.Equal(t, ch150, got[149])
			assert.True(t, got[0].Empty)
			assert.True(t, got[7].Empty)
		})
	}
}

func TestWriteChannelsKeepsNeighbours(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 25}
	m := session.NewMockSession("")
	seed(t, m, p, sample(3), sample(4), sample(5), sample(12))

	tr := NewTransfer(p, 10)
	edited := sample(5)
	edited.Name = "EDITED"
	require.NoError(t, tr.WriteChannels(context.Background(), m, []channel.Channel{edited}, nil))

	got, err := tr.ReadChannels(context.Background(), m, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, sample(3), got[2])
	assert.Equal(t, sample(4), got[3])
	assert.Equal(t, edited, got[4])
	assert.Equal(t, sample(12), got[11])
	assert.True(t, got[0].Empty)

	t.Run("Explicit Empty Erases", func(t *testing.T) {
		require.NoError(t, tr.WriteChannels(context.Background(), m, []channel.Channel{channel.EmptyChannel(4)}, nil))

		got, err := tr.ReadChannels(context.Background(), m, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, sample(3), got[2])
		assert.True(t, got[3].Empty)
		assert.Equal(t, edited, got[4])
	})

	t.Run("Read Failure Aborts Before Writing", func(t *testing.T) {
		m.FailReadAt(p.Layout().Names.Offset(13), errors.New("read timeout"))
		before := len(m.Calls())

		err := tr.WriteChannels(context.Background(), m, []channel.Channel{sample(14)}, nil)
		var be *BatchError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "read names", be.Op)
		assert.Equal(t, 2, be.Batch)
		for _, c := range m.Calls()[before:] {
			assert.NotEqual(t, "write", c.Op)
		}
	})
}

func TestWriteChannelsPartialFailure(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 30}
	m := session.NewMockSession("")
	boom := errors.New("write timeout")
	m.FailWriteAt(p.Layout().Channels.Offset(15), boom)

	channels := []channel.Channel{sample(1), sample(15), sample(25)}
	var progress []float64
	err := NewTransfer(p, 10).WriteChannels(context.Background(), m, channels, func(pct float64) {
		progress = append(progress, pct)
	})

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "write channels", be.Op)
	assert.Equal(t, 2, be.Batch)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, progress, 1)

	// batch 1 stays written, batch 3 was never attempted
	assert.False(t, channel.IsEmptyRecord(m.Memory(p.Layout().Channels.Offset(1), channel.RecordSize)))
	assert.True(t, channel.IsEmptyRecord(m.Memory(p.Layout().Channels.Offset(25), channel.RecordSize)))
}

func TestWriteChannelsValidation(t *testing.T) {
	m := session.NewMockSession("")
	tr := NewTransfer(profile.Stock(), 10)

	err := tr.WriteChannels(context.Background(), m, []channel.Channel{sample(0)}, nil)
	assert.ErrorIs(t, err, channel.ErrInvalidValue)

	bad := sample(3)
	bad.Power = "WARP"
	err = tr.WriteChannels(context.Background(), m, []channel.Channel{bad}, nil)
	assert.ErrorIs(t, err, channel.ErrInvalidValue)

	assert.Empty(t, m.Calls())
}

func TestWriteChannelsRejected(t *testing.T) {
	p := smallProfile{Profile: profile.Stock(), count: 10}
	err := NewTransfer(p, 10).WriteChannels(context.Background(), rejectingSession{session.NewMockSession("")}, []channel.Channel{sample(2)}, nil)
	assert.ErrorIs(t, err, session.ErrWriteRejected)
}

type rejectingSession struct {
	*session.MockSession
}

func (rejectingSession) WriteEEPROM(context.Context, int, []byte, uint32) (bool, error) {
	return false, nil
}

func TestBatchErrorMessage(t *testing.T) {
	err := &BatchError{Op: "read channels", Batch: 3, Offset: 0x140, Err: session.ErrNotConnected}
	assert.Equal(t, "read channels batch 3 at 0x0140: session not connected", err.Error())
}
