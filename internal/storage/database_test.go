package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shelly-dtu/internal/inverter"
	"shelly-dtu/internal/limit"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "shelly-dtu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReadings(t *testing.T) {
	db := openTestDB(t)
	y, m, d := time.Now().Date()
	now := time.Date(y, m, d, 12, 0, 0, 0, time.Local)

	for i, power := range []uint32{400, 1200, 800} {
		r := &inverter.Reading{
			Timestamp:        now.Add(time.Duration(i-3) * time.Minute),
			SerialNumber:     "A2231234567",
			DailyEnergy:      float64(i + 1),
			Temperature:      40 + float64(i),
			TotalActivePower: power,
		}
		require.NoError(t, db.SaveReading(2231234567, r))
	}

	latest, err := db.GetLatestReading()
	require.NoError(t, err)
	require.Equal(t, uint32(800), latest.TotalActivePower)
	require.Equal(t, uint64(2231234567), latest.Serial)

	readings, err := db.GetReadingsWithLimit(2)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	readings, err = db.GetReadingsByRange(now.Add(-150*time.Second), now)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	stats, err := db.GetDailyStats(now)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.ReadingsCount)
	require.Equal(t, uint32(1200), stats.MaxPower)
	require.Equal(t, 3.0, stats.TotalEnergy)
	require.InDelta(t, 41, stats.AvgTemperature, 1e-9)
}

func TestShellyHistoryAndLimitEvents(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.SaveShellyReading(&ShellyReading{
			Timestamp: now.Add(time.Duration(i-5) * time.Second),
			Pro3EM:    float64(100 * i),
			Plugs:     50,
		}))
	}
	history, err := db.GetShellyHistory(now.Add(-time.Minute), now, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, 0.0, history[0].Pro3EM)
	require.Equal(t, 200.0, history[2].Pro3EM)

	require.NoError(t, db.RecordLimit(limit.Event{Time: now.Add(-time.Second), Mode: limit.ModeIncrease, Limit: 300}))
	require.NoError(t, db.RecordLimit(limit.Event{Time: now, Mode: limit.ModeDecrease, Limit: 250, Previous: 300}))

	events, err := db.GetLimitEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "decrease", events[0].Mode)
	require.Equal(t, 300.0, events[0].Previous)
}

func TestCleanOldReadings(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	require.NoError(t, db.SaveShellyReading(&ShellyReading{Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, db.SaveShellyReading(&ShellyReading{Timestamp: now}))
	require.NoError(t, db.RecordLimit(limit.Event{Time: now.Add(-48 * time.Hour)}))

	require.NoError(t, db.CleanOldReadings(24*time.Hour))

	history, err := db.GetShellyHistory(now.Add(-72*time.Hour), now.Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	events, err := db.GetLimitEvents(10)
	require.NoError(t, err)
	require.Empty(t, events)
}
