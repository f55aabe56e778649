package ringbuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) Millis() int64 { return c.now }

const (
	seriesA uint16 = iota
	seriesB
)

func collect(b *Buffer, series uint16, window time.Duration, reverse bool) []Entry {
	var out []Entry
	fn := func(e Entry) { out = append(out, e) }
	if reverse {
		b.EachReverse(series, window, fn)
	} else {
		b.Each(series, window, fn)
	}
	return out
}

func TestBufferBasic(t *testing.T) {
	clock := &fakeClock{now: 1000}
	b := New(64, clock)
	for i := 0; i < 10; i++ {
		b.Write(seriesA, int64(i*100), float32(100+i))
		b.Write(seriesB, int64(i*100+2), float32(200+i))
	}

	last, ok := b.Last(seriesA)
	require.True(t, ok)
	require.Equal(t, int64(900), last.Time)
	require.Equal(t, float32(109), last.Value)

	last, ok = b.Last(seriesB)
	require.True(t, ok)
	require.Equal(t, int64(902), last.Time)
	require.Equal(t, float32(209), last.Value)

	forward := collect(b, seriesA, time.Second, false)
	require.Len(t, forward, 10)
	for i, e := range forward {
		require.Equal(t, int64(i*100), e.Time)
		require.Equal(t, float32(100+i), e.Value)
	}

	reverse := collect(b, seriesB, time.Second, true)
	require.Len(t, reverse, 10)
	for i, e := range reverse {
		require.Equal(t, int64((9-i)*100+2), e.Time)
	}

	require.Equal(t, 20, b.Len())
	_, ok = b.Last(7)
	require.False(t, ok)
}

func TestBufferOverwritesOldest(t *testing.T) {
	clock := &fakeClock{now: 1000}
	b := New(5, clock)
	for i := 0; i < 10; i++ {
		b.Write(seriesA, int64(i*100), float32(100+i))
	}

	require.Equal(t, 5, b.Len())
	forward := collect(b, seriesA, time.Second, false)
	require.Len(t, forward, 5)
	require.Equal(t, int64(500), forward[0].Time)
	require.Equal(t, int64(900), forward[4].Time)

	reverse := collect(b, seriesA, time.Second, true)
	require.Equal(t, float32(109), reverse[0].Value)
	require.Equal(t, float32(105), reverse[4].Value)

	entries := b.Entries()
	require.Len(t, entries, 5)
	require.Equal(t, int64(500), entries[0].Time)
}

func TestBufferWindow(t *testing.T) {
	clock := &fakeClock{}
	b := New(256, clock)
	for i := 0; i < 10; i++ {
		b.Write(seriesA, clock.now, 0)
		clock.now++
		b.Write(seriesB, clock.now, 0)
		clock.now++
	}
	clock.now += 1000
	for i := 0; i < 10; i++ {
		b.Write(seriesA, clock.now, 1)
		clock.now++
		b.Write(seriesB, clock.now, 1)
		clock.now++
	}

	require.Len(t, collect(b, seriesA, 50*time.Millisecond, false), 10)
	require.Len(t, collect(b, seriesB, 50*time.Millisecond, true), 10)
	require.Len(t, collect(b, seriesA, time.Hour, false), 20)

	for _, e := range collect(b, seriesA, 50*time.Millisecond, false) {
		require.Equal(t, float32(1), e.Value)
	}
}

func TestBufferEmpty(t *testing.T) {
	b := New(0, nil)
	require.Equal(t, 1, b.Cap())
	require.Empty(t, collect(b, seriesA, time.Minute, false))
	require.Empty(t, b.Entries())
}
