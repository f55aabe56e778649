package shelly

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"shelly-dtu/internal/ringbuffer"
)

const maxDebugLength = 30

// Data records meter, plug and limit samples and the debug texts shown on
// the dashboard. It is safe for concurrent use.
type Data struct {
	mu    sync.Mutex
	buf   *ringbuffer.Buffer
	clock ringbuffer.Clock
	store *Store
	debug [debugKinds]string
}

func NewData(capacity int, clock ringbuffer.Clock, store *Store) *Data {
	if clock == nil {
		clock = ringbuffer.SystemClock{}
	}
	return &Data{
		buf:   ringbuffer.New(capacity, clock),
		clock: clock,
		store: store,
	}
}

func (d *Data) Update(series Series, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.Write(uint16(series), d.clock.Millis(), float32(value))
}

// AppendDebug adds text to a debug channel. A channel that grew beyond 30
// characters is cleared first.
func (d *Data) AppendDebug(kind DebugKind, text string) {
	if kind < 0 || kind >= debugKinds {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.debug[kind]) > maxDebugLength {
		d.debug[kind] = ""
	}
	d.debug[kind] += text
}

// TakeDebug returns the text of a debug channel and clears it.
func (d *Data) TakeDebug(kind DebugKind) string {
	if kind < 0 || kind >= debugKinds {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.debug[kind]
	d.debug[kind] = ""
	return s
}

// Actual returns the newest value of a series, 0 when nothing was recorded.
func (d *Data) Actual(series Series) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.buf.Last(uint16(series)); ok {
		return float64(e.Value)
	}
	return 0
}

// LastTime returns when a series was last written.
func (d *Data) LastTime(series Series) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.buf.Last(uint16(series)); ok {
		return time.UnixMilli(e.Time), true
	}
	return time.Time{}, false
}

func (d *Data) minMax(series Series, window time.Duration) (float64, float64) {
	lo := math.MaxFloat64
	hi := -math.MaxFloat64
	d.buf.EachReverse(uint16(series), window, func(e ringbuffer.Entry) {
		v := float64(e.Value)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	})
	if lo == math.MaxFloat64 {
		lo = 0
	}
	if hi == -math.MaxFloat64 {
		hi = 0
	}
	return lo, hi
}

// Min returns the smallest value within the window, 0 when there is none.
func (d *Data) Min(series Series, window time.Duration) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	lo, _ := d.minMax(series, window)
	return lo
}

// Max returns the largest value within the window, 0 when there is none.
func (d *Data) Max(series Series, window time.Duration) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, hi := d.minMax(series, window)
	return hi
}

// Factored interpolates between the window minimum and maximum by the
// configured feed-in level. The plug series uses the complementary factor.
func (d *Data) Factored(series Series, window time.Duration) float64 {
	factor := 0.0
	if d.store != nil {
		factor = d.store.Get().FeedInLevel / 100
	}
	if series == Plugs {
		factor = 1 - factor
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	lo, hi := d.minMax(series, window)
	return lo + (hi-lo)*factor
}

// SeriesJSON renders the samples of the window as a JSON array of
// {"x": seconds, "y": value} points, oldest first.
func (d *Data) SeriesJSON(series Series, window time.Duration) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	sb.WriteByte('[')
	n := 0
	d.buf.Each(uint16(series), window, func(e ringbuffer.Entry) {
		if n > 0 {
			sb.WriteByte(',')
		}
		n++
		fmt.Fprintf(&sb, `{"x":%s,"y":%s}`,
			strconv.FormatFloat(float64(e.Time)/1000, 'f', 3, 64),
			strconv.FormatFloat(float64(e.Value), 'f', -1, 32))
	})
	sb.WriteByte(']')
	return sb.String()
}

// BackupEntrySize is the encoded size of one sample in a backup stream.
const BackupEntrySize = 2 + 8 + 4

// Backup writes every stored sample, oldest first, as little endian
// (uint16 series, int64 milliseconds, float32 value) records.
func (d *Data) Backup(w io.Writer) (int, error) {
	d.mu.Lock()
	entries := d.buf.Entries()
	d.mu.Unlock()

	for i, e := range entries {
		if err := binary.Write(w, binary.LittleEndian, e); err != nil {
			return i, fmt.Errorf("failed to write backup entry %d: %w", i, err)
		}
	}
	return len(entries), nil
}

// Restore reads a backup stream and records its samples.
func (d *Data) Restore(r io.Reader) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for {
		var e ringbuffer.Entry
		err := binary.Read(r, binary.LittleEndian, &e)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to read backup entry %d: %w", n, err)
		}
		d.buf.Write(e.Series, e.Time, e.Value)
		n++
	}
}
