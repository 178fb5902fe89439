// Package memory moves the channel table between the radio's EEPROM and
// Channel values, one batch at a time.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/profile"
	"github.com/dougsko/k5link/pkg/session"
)

// DefaultBatchSize is the number of channels moved per EEPROM command group
const DefaultBatchSize = 10

// ErrNoIdentity is returned when the radio does not answer the handshake
var ErrNoIdentity = errors.New("radio did not identify")

// BatchError names the batch and address where a transfer stopped. Batches
// before it were completed and are not rolled back.
type BatchError struct {
	Op     string
	Batch  int
	Offset int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch %d at 0x%04X: %v", e.Op, e.Batch, e.Offset, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives the completed share of a transfer, 0 to 100
type ProgressFunc func(percent float64)

// LiveUpdateFunc receives each batch of decoded channels as it lands
type LiveUpdateFunc func(batch []channel.Channel)

// Transfer runs channel reads and writes for one profile. Every EEPROM
// command is awaited before the next is issued.
type Transfer struct {
	profile   profile.Profile
	batchSize int
	log       *logging.ComponentLogger
}

// NewTransfer creates a transfer; batchSize <= 0 selects DefaultBatchSize
func NewTransfer(p profile.Profile, batchSize int) *Transfer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Transfer{
		profile:   p,
		batchSize: batchSize,
		log:       logging.For("memory").WithFields(logging.Fields{"profile": p.ID()}),
	}
}

// BatchSize returns the configured batch size
func (t *Transfer) BatchSize() int {
	return t.batchSize
}

func (t *Transfer) channelCount() int {
	layout := t.profile.Layout()
	if layout.ChannelCount > 0 {
		return layout.ChannelCount
	}
	return layout.Channels.Count()
}

// identify obtains the session token required for EEPROM access
func identify(ctx context.Context, s session.Session) (uint32, error) {
	id, err := s.Identify(ctx)
	if err != nil {
		return 0, fmt.Errorf("identify failed: %w", err)
	}
	if id == nil {
		return 0, fmt.Errorf("%w: %w", ErrNoIdentity, session.ErrHandshakeTimeout)
	}
	return id.Timestamp, nil
}

// ReadChannels reads the whole channel table. onProgress is called once per
// channel and onLive once per batch; either may be nil.
func (t *Transfer) ReadChannels(ctx context.Context, s session.Session, onProgress ProgressFunc, onLive LiveUpdateFunc) ([]channel.Channel, error) {
	token, err := identify(ctx, s)
	if err != nil {
		return nil, err
	}

	layout := t.profile.Layout()
	codec := t.profile.Codec()
	total := t.channelCount()
	progress := progressReporter(onProgress)

	t.log.Info("Reading channels", logging.Fields{"channels": total, "batch_size": t.batchSize})

	out := make([]channel.Channel, 0, total)
	batchNo := 0
	for first := 1; first <= total; first += t.batchSize {
		batchNo++
		n := t.batchSize
		if first+n-1 > total {
			n = total - first + 1
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		records, err := t.readRegion(ctx, s, token, "read channels", batchNo, layout.Channels, first, n)
		if err != nil {
			return out, err
		}
		var attrs, names []byte
		if layout.Attributes.Present() {
			if attrs, err = t.readRegion(ctx, s, token, "read attributes", batchNo, layout.Attributes, first, n); err != nil {
				return out, err
			}
		}
		if layout.Names.Present() {
			if names, err = t.readRegion(ctx, s, token, "read names", batchNo, layout.Names, first, n); err != nil {
				return out, err
			}
		}

		batch := make([]channel.Channel, 0, n)
		for i := 0; i < n; i++ {
			aux := channel.Aux{
				Attr: entry(attrs, i, layout.Attributes.Stride),
				Name: entry(names, i, layout.Names.Stride),
			}
			rec := entry(records, i, layout.Channels.Stride)
			batch = append(batch, codec.Decode(rec, first+i, aux))
			progress(len(out)+len(batch), total)
		}
		out = append(out, batch...)
		if onLive != nil {
			onLive(batch)
		}
	}
	if total == 0 {
		progress(0, 0)
	}

	t.log.Info("Channel read complete", logging.Fields{"channels": len(out), "batches": batchNo})
	return out, nil
}

func (t *Transfer) readRegion(ctx context.Context, s session.Session, token uint32, op string, batch int, r profile.Region, first, n int) ([]byte, error) {
	offset := r.Offset(first)
	size := n * r.Stride
	data, err := s.ReadEEPROM(ctx, offset, size, token)
	if err != nil {
		return nil, &BatchError{Op: op, Batch: batch, Offset: offset, Err: err}
	}
	if len(data) < size {
		t.log.Warn("Short EEPROM read, missing entries decode as empty", logging.Fields{
			"op":       op,
			"offset":   fmt.Sprintf("0x%04X", offset),
			"wanted":   size,
			"received": len(data),
		})
	}
	return data, nil
}

// entry slices the i-th stride of buf, or nil if the reply was too short
func entry(buf []byte, i, stride int) []byte {
	if stride <= 0 || (i+1)*stride > len(buf) {
		return nil
	}
	return buf[i*stride : (i+1)*stride]
}

// WriteChannels writes the given channels. Batches that contain none of them
// are skipped. A touched batch is read back first and only the supplied slots
// are re-encoded, so neighbouring channels keep their contents. onProgress
// advances once per batch.
func (t *Transfer) WriteChannels(ctx context.Context, s session.Session, channels []channel.Channel, onProgress ProgressFunc) error {
	total := t.channelCount()
	codec := t.profile.Codec()
	layout := t.profile.Layout()

	byIndex := make(map[int]channel.Channel, len(channels))
	for _, ch := range channels {
		if ch.Index < 1 || ch.Index > total {
			return fmt.Errorf("%w: channel index %d outside 1..%d", channel.ErrInvalidValue, ch.Index, total)
		}
		if !ch.Empty {
			if err := codec.Validate(ch); err != nil {
				return fmt.Errorf("channel %d: %w", ch.Index, err)
			}
		}
		byIndex[ch.Index] = ch
	}

	var plan []int
	for first := 1; first <= total; first += t.batchSize {
		for i := first; i < first+t.batchSize && i <= total; i++ {
			if _, ok := byIndex[i]; ok {
				plan = append(plan, first)
				break
			}
		}
	}

	token, err := identify(ctx, s)
	if err != nil {
		return err
	}
	progress := progressReporter(onProgress)

	t.log.Info("Writing channels", logging.Fields{"channels": len(byIndex), "batches": len(plan)})

	for done, first := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := t.batchSize
		if first+n-1 > total {
			n = total - first + 1
		}
		batchNo := (first-1)/t.batchSize + 1

		records, err := t.readForWrite(ctx, s, token, "read channels", batchNo, layout.Channels, first, n)
		if err != nil {
			return err
		}
		var attrs, names []byte
		if layout.Attributes.Present() {
			if attrs, err = t.readForWrite(ctx, s, token, "read attributes", batchNo, layout.Attributes, first, n); err != nil {
				return err
			}
		}
		if layout.Names.Present() {
			if names, err = t.readForWrite(ctx, s, token, "read names", batchNo, layout.Names, first, n); err != nil {
				return err
			}
		}

		for i := 0; i < n; i++ {
			ch, ok := byIndex[first+i]
			if !ok {
				continue
			}
			aux := channel.Aux{
				Attr: entry(attrs, i, layout.Attributes.Stride),
				Name: entry(names, i, layout.Names.Stride),
			}
			if err := codec.Encode(ch, entry(records, i, layout.Channels.Stride), aux); err != nil {
				return fmt.Errorf("channel %d: %w", ch.Index, err)
			}
		}

		if err := t.writeRegion(ctx, s, token, "write channels", batchNo, layout.Channels, first, records); err != nil {
			return err
		}
		if attrs != nil {
			if err := t.writeRegion(ctx, s, token, "write attributes", batchNo, layout.Attributes, first, attrs); err != nil {
				return err
			}
		}
		if names != nil {
			if err := t.writeRegion(ctx, s, token, "write names", batchNo, layout.Names, first, names); err != nil {
				return err
			}
		}
		progress(done+1, len(plan))
	}
	if len(plan) == 0 {
		progress(0, 0)
	}

	t.log.Info("Channel write complete", logging.Fields{"batches": len(plan)})
	return nil
}

// readForWrite returns the current bytes of n entries, padded with 0xFF when
// the reply is short
func (t *Transfer) readForWrite(ctx context.Context, s session.Session, token uint32, op string, batch int, r profile.Region, first, n int) ([]byte, error) {
	data, err := t.readRegion(ctx, s, token, op, batch, r, first, n)
	if err != nil {
		return nil, err
	}
	buf := filled(n * r.Stride)
	copy(buf, data)
	return buf, nil
}

func (t *Transfer) writeRegion(ctx context.Context, s session.Session, token uint32, op string, batch int, r profile.Region, first int, data []byte) error {
	offset := r.Offset(first)
	ok, err := s.WriteEEPROM(ctx, offset, data, token)
	if err != nil {
		return &BatchError{Op: op, Batch: batch, Offset: offset, Err: err}
	}
	if !ok {
		return &BatchError{Op: op, Batch: batch, Offset: offset, Err: session.ErrWriteRejected}
	}
	return nil
}

func filled(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// progressReporter converts done/total into a percentage. A transfer with
// nothing to do reports 100 once.
func progressReporter(fn ProgressFunc) func(done, total int) {
	return func(done, total int) {
		if fn == nil {
			return
		}
		if total == 0 {
			fn(100)
			return
		}
		fn(float64(done) * 100 / float64(total))
	}
}
