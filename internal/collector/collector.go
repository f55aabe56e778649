package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"shelly-dtu/config"
	"shelly-dtu/internal/inverter"
	"shelly-dtu/internal/logging"
	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
	"shelly-dtu/internal/storage"
)

// Inverter is the polled device. *inverter.Sungrow implements it.
type Inverter interface {
	ReadWithRetry(ctx context.Context) (*inverter.Reading, error)
	Latest() (*inverter.Reading, bool)
	Statistics(r *inverter.Reading, now time.Time) schema.Inverter
	Serial(r *inverter.Reading) uint64
}

// Publisher receives every accepted snapshot. The MQTT publisher and the
// NATS bus implement it.
type Publisher interface {
	PublishLiveData(d *schema.LiveData) error
	PublishShelly(v shelly.Values) error
}

// timeSyncEpoch is the earliest wall clock time considered synchronized.
var timeSyncEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	// ShellyInterval is how often the Shelly card is refreshed between
	// inverter reads.
	ShellyInterval = time.Second
	cleanInterval  = time.Hour
)

type Collector struct {
	inv        Inverter
	db         *storage.Database
	publishers []Publisher
	data       *shelly.Data
	store      *shelly.Store
	interval   time.Duration
	enabled    bool
	password   string
	retention  time.Duration
	log        logr.Logger
	now        func() time.Time

	mu           sync.RWMutex
	latest       *schema.LiveData
	inverters    []schema.Inverter
	readFailed   bool
	lastClean    time.Time
	isCollecting bool
}

type CollectorConfig struct {
	Inverter   Inverter
	Database   *storage.Database
	Publishers []Publisher
	ShellyData *shelly.Data
	Store      *shelly.Store
	Interval   time.Duration
	Enabled    bool
	// Password is the API password, checked against the factory default.
	Password  string
	Retention time.Duration
	Logger    logr.Logger
	Now       func() time.Time
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	c := &Collector{
		inv:       cfg.Inverter,
		db:        cfg.Database,
		data:      cfg.ShellyData,
		store:     cfg.Store,
		interval:  cfg.Interval,
		enabled:   cfg.Enabled,
		password:  cfg.Password,
		retention: cfg.Retention,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
	for _, p := range cfg.Publishers {
		if p != nil {
			c.publishers = append(c.publishers, p)
		}
	}
	return c
}

func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		c.log.Info("Collector is disabled")
		return nil
	}

	c.mu.Lock()
	c.isCollecting = true
	c.mu.Unlock()

	c.log.Info("Starting collector", "interval", c.interval)

	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	shellyTicker := time.NewTicker(ShellyInterval)
	defer shellyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Collector stopped")
			c.mu.Lock()
			c.isCollecting = false
			c.mu.Unlock()
			return nil
		case <-ticker.C:
			c.collect(ctx)
		case <-shellyTicker.C:
			c.refresh()
		}
	}
}

// collect reads the inverter, rebuilds the snapshot and persists it.
func (c *Collector) collect(ctx context.Context) {
	if _, err := c.CollectOnce(ctx); err != nil {
		logging.ErrorIfNotCanceled(c.log, err, "Error collecting inverter data")
	}
}

// CollectOnce performs one inverter read and publishes the resulting
// snapshot. A failed read still refreshes the snapshot from the last good
// reading with radio_problem set.
func (c *Collector) CollectOnce(ctx context.Context) (*schema.LiveData, error) {
	if c.inv == nil {
		return nil, fmt.Errorf("collector not initialized: no inverter")
	}

	reading, readErr := c.inv.ReadWithRetry(ctx)
	now := c.now()

	var serial uint64
	var inverters []schema.Inverter
	if reading != nil {
		serial = c.inv.Serial(reading)
		inverters = []schema.Inverter{c.inv.Statistics(reading, now)}
	} else if last, ok := c.inv.Latest(); ok {
		inverters = []schema.Inverter{c.inv.Statistics(last, now)}
	}

	c.mu.Lock()
	c.inverters = inverters
	c.readFailed = readErr != nil
	c.mu.Unlock()

	snapshot, err := c.rebuild()
	if err != nil {
		return nil, err
	}
	for _, p := range c.publishers {
		if err := p.PublishLiveData(snapshot); err != nil {
			c.log.Error(err, "Error publishing snapshot")
		}
	}

	if readErr != nil {
		return snapshot, fmt.Errorf("failed to read inverter: %w", readErr)
	}

	c.persist(serial, reading, now)

	c.log.Info("Collected",
		"power", reading.TotalActivePower,
		"daily_kwh", reading.DailyEnergy,
		"total_kwh", reading.TotalEnergy,
		"temperature", reading.Temperature)
	return snapshot, nil
}

func (c *Collector) persist(serial uint64, reading *inverter.Reading, now time.Time) {
	if c.db == nil {
		return
	}
	if err := c.db.SaveReading(serial, reading); err != nil {
		c.log.Error(err, "Error saving reading")
	}
	if c.data != nil && c.shellyConfig().ShellyEnable {
		err := c.db.SaveShellyReading(&storage.ShellyReading{
			Timestamp:  now,
			Pro3EM:     c.data.Actual(shelly.Pro3EM),
			Plugs:      c.data.Actual(shelly.Plugs),
			Limit:      c.data.Actual(shelly.Limit),
			Calculated: c.data.Actual(shelly.CalculatedLimit),
		})
		if err != nil {
			c.log.Error(err, "Error saving shelly reading")
		}
	}

	if c.retention > 0 && now.Sub(c.lastClean) >= cleanInterval {
		c.lastClean = now
		if err := c.db.CleanOldReadings(c.retention); err != nil {
			c.log.Error(err, "Error cleaning old readings")
		}
	}
}

// refresh rebuilds the snapshot with new Shelly values and hands those to
// the publishers.
func (c *Collector) refresh() {
	if c.data == nil || !c.shellyConfig().ShellyEnable {
		return
	}
	if _, err := c.rebuild(); err != nil {
		c.log.Error(err, "Error refreshing snapshot")
		return
	}
	values := c.data.Values()
	for _, p := range c.publishers {
		if err := p.PublishShelly(values); err != nil {
			c.log.Error(err, "Error publishing shelly values")
		}
	}
}

func (c *Collector) shellyConfig() schema.ShellyConfig {
	if c.store == nil {
		return schema.ShellyConfig{}
	}
	return c.store.Get()
}

// rebuild assembles and validates a snapshot. A rejected snapshot leaves
// the previous one in place.
func (c *Collector) rebuild() (*schema.LiveData, error) {
	c.mu.RLock()
	inverters := c.inverters
	readFailed := c.readFailed
	c.mu.RUnlock()

	d := &schema.LiveData{
		Inverters: inverters,
		Total:     Totals(inverters),
		Hints: schema.Hints{
			TimeSync:        c.now().Before(timeSyncEpoch),
			DefaultPassword: c.password == config.DefaultPassword,
			RadioProblem:    readFailed,
		},
		Shelly: c.shellyCard(),
	}
	if d.Inverters == nil {
		d.Inverters = []schema.Inverter{}
	}

	if _, err := schema.ValidateLiveData(d); err != nil {
		return nil, fmt.Errorf("snapshot rejected: %w", err)
	}

	c.mu.Lock()
	c.latest = d
	c.mu.Unlock()
	return d, nil
}

func (c *Collector) shellyCard() schema.Shelly {
	cfg := c.shellyConfig()
	if c.data == nil || !cfg.ShellyEnable {
		return schema.Shelly{}
	}

	pro3em := c.data.Actual(shelly.Pro3EM)
	plugs := c.data.Actual(shelly.Plugs)
	card := schema.Shelly{
		Pro3EMValue:     pro3em,
		Pro3EMEnabled:   cfg.HostnamePro3EM != "",
		PlugsValue:      plugs,
		PlugsEnabled:    cfg.HostnamePlugs != "",
		CombinedValue:   pro3em + plugs,
		LimitValue:      c.data.Actual(shelly.Limit),
		LimitEnabled:    cfg.LimitEnable,
		MoreInfoEnabled: cfg.ShellyMoreInfoEnable,
		DebugEnabled:    cfg.DebugEnable,
	}
	card.CombinedEnabled = card.Pro3EMEnabled && card.PlugsEnabled

	if cfg.ViewOption >= schema.ViewCompleteInfo {
		grid := c.data.Factored(shelly.Pro3EM, 5*time.Second)
		generated := c.data.Factored(shelly.Plugs, 5*time.Second)
		card.CombinedDebug = fmt.Sprintf("%.1f / %.1f", grid, generated)
	}
	if cfg.DebugEnable {
		card.Pro3EMDebug = c.data.TakeDebug(shelly.DebugPro3EM)
		card.PlugsDebug = c.data.TakeDebug(shelly.DebugPlugs)
		card.Debug = c.data.TakeDebug(shelly.DebugCalculatedLimit)
	}
	return card
}

// Totals sums power and yields over all inverters. Digits are the largest
// any inverter uses.
func Totals(inverters []schema.Inverter) schema.Total {
	t := schema.Total{
		Power:      schema.ValueObject{Unit: "W"},
		YieldDay:   schema.ValueObject{Unit: "Wh"},
		YieldTotal: schema.ValueObject{Unit: "kWh", Digits: 3},
	}
	add := func(dst *schema.ValueObject, src *schema.ValueObject) {
		if src == nil {
			return
		}
		dst.Value += src.Value
		if src.Digits > dst.Digits {
			dst.Digits = src.Digits
		}
	}
	for _, inv := range inverters {
		if len(inv.AC) > 0 {
			add(&t.Power, inv.AC[0].Power)
		}
		if len(inv.INV) > 0 {
			add(&t.YieldDay, inv.INV[0].YieldDay)
			add(&t.YieldTotal, inv.INV[0].YieldTotal)
		}
	}
	return t
}

// Latest returns the current snapshot, nil before the first one.
func (c *Collector) Latest() *schema.LiveData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}
