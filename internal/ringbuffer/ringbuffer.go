// Package ringbuffer keeps a fixed number of timestamped samples of several
// series in one circular buffer. When the buffer is full the oldest sample
// is overwritten. Samples are expected to be written in time order.
//
// A Buffer is not safe for concurrent use.
package ringbuffer

import "time"

// Clock yields the current time in milliseconds.
type Clock interface {
	Millis() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Millis() int64 { return time.Now().UnixMilli() }

type Entry struct {
	Series uint16
	Time   int64 // milliseconds
	Value  float32
}

type Buffer struct {
	entries []Entry
	first   int // index of the oldest entry
	count   int
	clock   Clock
}

func New(capacity int, clock Clock) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		clock:   clock,
	}
}

func (b *Buffer) Cap() int { return len(b.entries) }

// Len returns the number of stored entries.
func (b *Buffer) Len() int { return b.count }

func (b *Buffer) at(i int) *Entry {
	return &b.entries[(b.first+i)%len(b.entries)]
}

func (b *Buffer) Write(series uint16, t int64, value float32) {
	if b.count < len(b.entries) {
		*b.at(b.count) = Entry{Series: series, Time: t, Value: value}
		b.count++
		return
	}
	b.entries[b.first] = Entry{Series: series, Time: t, Value: value}
	b.first = (b.first + 1) % len(b.entries)
}

// Last returns the newest entry of a series.
func (b *Buffer) Last(series uint16) (Entry, bool) {
	for i := b.count - 1; i >= 0; i-- {
		if e := b.at(i); e.Series == series {
			return *e, true
		}
	}
	return Entry{}, false
}

func (b *Buffer) windowStart(window time.Duration) int64 {
	start := b.clock.Millis() - window.Milliseconds()
	if start < 0 {
		start = 0
	}
	return start
}

// EachReverse calls fn for the entries of a series written within the last
// window, newest first.
func (b *Buffer) EachReverse(series uint16, window time.Duration, fn func(Entry)) {
	start := b.windowStart(window)
	for i := b.count - 1; i >= 0; i-- {
		e := b.at(i)
		if e.Time < start {
			return
		}
		if e.Series == series {
			fn(*e)
		}
	}
}

// Each calls fn for the entries of a series written within the last window,
// oldest first.
func (b *Buffer) Each(series uint16, window time.Duration, fn func(Entry)) {
	start := b.windowStart(window)
	first := b.count
	for i := b.count - 1; i >= 0 && b.at(i).Time >= start; i-- {
		first = i
	}
	for i := first; i < b.count; i++ {
		if e := b.at(i); e.Series == series {
			fn(*e)
		}
	}
}

// Entries copies all entries, oldest first.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, *b.at(i))
	}
	return out
}
