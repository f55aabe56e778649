package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shelly-dtu/config"
	"shelly-dtu/internal/inverter"
	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
	"shelly-dtu/internal/storage"
)

type fakeInverter struct {
	mu      sync.Mutex
	reading *inverter.Reading
	last    *inverter.Reading
	err     error
	broken  bool
}

func (f *fakeInverter) ReadWithRetry(ctx context.Context) (*inverter.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.last = f.reading
	return f.reading, nil
}

func (f *fakeInverter) Latest() (*inverter.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.last != nil
}

func (f *fakeInverter) Serial(r *inverter.Reading) uint64 { return 4711 }

func (f *fakeInverter) Statistics(r *inverter.Reading, now time.Time) schema.Inverter {
	power := float64(r.TotalActivePower)
	inv := schema.Inverter{
		Serial:        4711,
		Name:          "Garage",
		DataAge:       now.Sub(r.Timestamp).Seconds(),
		Reachable:     true,
		Producing:     power > 0,
		LimitRelative: 100,
		LimitAbsolute: -1,
		AC: []schema.InverterStatistics{{
			Name:  schema.ValueObject{Unit: "AC"},
			Power: &schema.ValueObject{Value: power, Unit: "W", Digits: 1},
		}},
		DC: []schema.InverterStatistics{},
		INV: []schema.InverterStatistics{{
			Name:       schema.ValueObject{Unit: "INV"},
			YieldDay:   &schema.ValueObject{Value: r.DailyEnergy * 1000, Unit: "Wh"},
			YieldTotal: &schema.ValueObject{Value: r.TotalEnergy, Unit: "kWh", Digits: 3},
		}},
	}
	if f.broken {
		inv.AC = nil
	}
	return inv
}

type recordingPublisher struct {
	mu       sync.Mutex
	livedata []*schema.LiveData
	values   []shelly.Values
}

func (p *recordingPublisher) PublishLiveData(d *schema.LiveData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.livedata = append(p.livedata, d)
	return nil
}

func (p *recordingPublisher) PublishShelly(v shelly.Values) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
	return nil
}

var clockNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector(t *testing.T, inv Inverter, cfg schema.ShellyConfig, db *storage.Database) (*Collector, *shelly.Data, *recordingPublisher) {
	t.Helper()
	store := shelly.NewStore(cfg)
	data := shelly.NewData(64, nil, store)
	pub := &recordingPublisher{}
	c := NewCollector(CollectorConfig{
		Inverter:   inv,
		Database:   db,
		Publishers: []Publisher{pub},
		ShellyData: data,
		Store:      store,
		Interval:   time.Second,
		Enabled:    true,
		Password:   "s3cret",
		Now:        func() time.Time { return clockNow },
	})
	return c, data, pub
}

func sampleReading() *inverter.Reading {
	return &inverter.Reading{
		Timestamp:        clockNow.Add(-2 * time.Second),
		SerialNumber:     "A2304711",
		TotalActivePower: 950,
		DailyEnergy:      3.2,
		TotalEnergy:      1234.5,
	}
}

func TestCollectOnceBuildsSnapshot(t *testing.T) {
	inv := &fakeInverter{reading: sampleReading()}
	c, data, pub := newTestCollector(t, inv, schema.ShellyConfig{
		ShellyEnable:   true,
		HostnamePro3EM: "10.0.0.5",
		LimitEnable:    true,
		MaxPower:       800,
		ViewOption:     schema.ViewCompleteInfo,
	}, nil)

	require.Nil(t, c.Latest())
	data.Update(shelly.Pro3EM, 120)
	data.Update(shelly.Limit, 400)

	snap, err := c.CollectOnce(context.Background())
	require.NoError(t, err)
	require.Same(t, snap, c.Latest())

	require.Len(t, snap.Inverters, 1)
	require.Equal(t, 2.0, snap.Inverters[0].DataAge)
	require.Equal(t, 950.0, snap.Total.Power.Value)
	require.Equal(t, 1, snap.Total.Power.Digits)
	require.Equal(t, 3200.0, snap.Total.YieldDay.Value)
	require.Equal(t, 3, snap.Total.YieldTotal.Digits)

	require.False(t, snap.Hints.RadioProblem)
	require.False(t, snap.Hints.TimeSync)
	require.False(t, snap.Hints.DefaultPassword)

	require.Equal(t, 120.0, snap.Shelly.Pro3EMValue)
	require.True(t, snap.Shelly.Pro3EMEnabled)
	require.False(t, snap.Shelly.PlugsEnabled)
	require.False(t, snap.Shelly.CombinedEnabled)
	require.Equal(t, 400.0, snap.Shelly.LimitValue)
	require.True(t, snap.Shelly.LimitEnabled)
	require.NotEmpty(t, snap.Shelly.CombinedDebug)

	require.Len(t, pub.livedata, 1)
}

func TestCollectOnceReadFailure(t *testing.T) {
	inv := &fakeInverter{reading: sampleReading()}
	c, _, _ := newTestCollector(t, inv, schema.ShellyConfig{}, nil)

	_, err := c.CollectOnce(context.Background())
	require.NoError(t, err)

	inv.err = errors.New("connection refused")
	snap, err := c.CollectOnce(context.Background())
	require.Error(t, err)
	require.NotNil(t, snap)
	require.True(t, snap.Hints.RadioProblem)
	require.Len(t, snap.Inverters, 1, "last good reading is kept")
}

func TestCollectOnceNoReadingYet(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeInverter{err: errors.New("timeout")}, schema.ShellyConfig{}, nil)
	snap, err := c.CollectOnce(context.Background())
	require.Error(t, err)
	require.NotNil(t, snap.Inverters)
	require.Empty(t, snap.Inverters)
	require.True(t, snap.Hints.RadioProblem)
}

func TestRejectedSnapshotKeepsPrevious(t *testing.T) {
	inv := &fakeInverter{reading: sampleReading()}
	c, _, pub := newTestCollector(t, inv, schema.ShellyConfig{}, nil)

	first, err := c.CollectOnce(context.Background())
	require.NoError(t, err)

	inv.broken = true
	_, err = c.CollectOnce(context.Background())
	require.Error(t, err)

	se, ok := schema.AsSchemaError(err)
	require.True(t, ok)
	require.Equal(t, "inverters[0].AC", se.Field)
	require.Same(t, first, c.Latest())
	require.Len(t, pub.livedata, 1)
}

func TestHints(t *testing.T) {
	inv := &fakeInverter{reading: sampleReading()}
	c, _, _ := newTestCollector(t, inv, schema.ShellyConfig{}, nil)
	c.password = config.DefaultPassword
	c.now = func() time.Time { return time.Date(1970, 1, 1, 0, 5, 0, 0, time.UTC) }

	snap, err := c.CollectOnce(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Hints.DefaultPassword)
	require.True(t, snap.Hints.TimeSync)
}

func TestRefreshPublishesShellyValues(t *testing.T) {
	c, data, pub := newTestCollector(t, &fakeInverter{reading: sampleReading()}, schema.ShellyConfig{
		ShellyEnable:  true,
		HostnamePlugs: "plug.local",
		DebugEnable:   true,
		ViewOption:    schema.ViewSimpleInfo,
	}, nil)

	data.Update(shelly.Plugs, 210)
	data.AppendDebug(shelly.DebugCalculatedLimit, "42, 210 ")
	c.refresh()

	snap := c.Latest()
	require.NotNil(t, snap)
	require.Equal(t, 210.0, snap.Shelly.PlugsValue)
	require.Equal(t, "42, 210 ", snap.Shelly.Debug)
	require.Empty(t, snap.Shelly.CombinedDebug)
	require.Len(t, pub.values, 1)
	require.Equal(t, 210.0, pub.values[0].PlugsPower)

	c.refresh()
	require.Empty(t, c.Latest().Shelly.Debug, "debug text is taken once")
}

func TestRefreshSkippedWhenShellyDisabled(t *testing.T) {
	c, _, pub := newTestCollector(t, &fakeInverter{reading: sampleReading()}, schema.ShellyConfig{}, nil)
	c.refresh()
	require.Nil(t, c.Latest())
	require.Empty(t, pub.values)
}

func TestCollectPersists(t *testing.T) {
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, data, _ := newTestCollector(t, &fakeInverter{reading: sampleReading()}, schema.ShellyConfig{ShellyEnable: true}, db)
	data.Update(shelly.Pro3EM, -35)

	_, err = c.CollectOnce(context.Background())
	require.NoError(t, err)

	latest, err := db.GetLatestReading()
	require.NoError(t, err)
	require.Equal(t, uint64(4711), latest.Serial)
	require.Equal(t, uint32(950), latest.TotalActivePower)

	history, err := db.GetShellyHistory(clockNow.Add(-time.Minute), clockNow.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, -35.0, history[0].Pro3EM)
}

func TestTotals(t *testing.T) {
	p := func(v float64, d int) *schema.ValueObject { return &schema.ValueObject{Value: v, Unit: "W", Digits: d} }
	total := Totals([]schema.Inverter{
		{AC: []schema.InverterStatistics{{Power: p(100, 0)}}},
		{AC: []schema.InverterStatistics{{Power: p(250.5, 2)}}},
		{},
	})
	require.Equal(t, 350.5, total.Power.Value)
	require.Equal(t, 2, total.Power.Digits)
	require.Equal(t, "Wh", total.YieldDay.Unit)
	require.Zero(t, total.YieldTotal.Value)
}

func TestStartDisabled(t *testing.T) {
	c := NewCollector(CollectorConfig{Enabled: false})
	require.NoError(t, c.Start(context.Background()))
	require.False(t, c.IsCollecting())
}
