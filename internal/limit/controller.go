package limit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"shelly-dtu/internal/shelly"
)

const (
	// Window is the span the meter and plug values are evaluated over.
	Window = 20 * time.Second
	// SendInterval is the minimum time between two limit commands.
	SendInterval = 10 * time.Second
	// DefaultInterval is how often the controller steps.
	DefaultInterval = time.Second
)

// Inverter is the device whose output is limited.
type Inverter interface {
	IsReachable() bool
	SendLimit(ctx context.Context, watts float64) error
	// ChannelPower returns the DC power of every producing input.
	ChannelPower(ctx context.Context) ([]float64, error)
}

// Event describes a limit that was sent to the inverter.
type Event struct {
	Time           time.Time
	Mode           Mode
	Limit          float64
	Previous       float64
	GridPower      float64
	GeneratedPower float64
}

// Recorder persists sent limits.
type Recorder interface {
	RecordLimit(ev Event) error
}

// Result summarizes one step.
type Result struct {
	Mode       Mode
	Calculated float64
	Changed    bool
	Sent       bool
}

type CalculatorConfig struct {
	Store    *shelly.Store
	Data     *shelly.Data
	Inverter Inverter
	Recorder Recorder
	Logger   logr.Logger
	Now      func() time.Time
}

// Calculator runs the limit algorithm against the recorded meter data.
type Calculator struct {
	mu       sync.Mutex
	store    *shelly.Store
	data     *shelly.Data
	inv      Inverter
	rec      Recorder
	log      logr.Logger
	now      func() time.Time
	act      float64
	lastSend time.Time
	channels []float64
	streak   [modeCount]int
}

func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Calculator{
		store: cfg.Store,
		data:  cfg.Data,
		inv:   cfg.Inverter,
		rec:   cfg.Recorder,
		log:   cfg.Logger,
		now:   cfg.Now,
	}
}

// Limit returns the last limit the inverter accepted.
func (c *Calculator) Limit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.act
}

// Streak returns how many consecutive steps chose mode.
func (c *Calculator) Streak(mode Mode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode < 0 || mode >= modeCount {
		return 0
	}
	return c.streak[mode]
}

func (c *Calculator) minMax(series, minSeries, maxSeries shelly.Series) string {
	hi := c.data.Max(series, Window)
	lo := c.data.Min(series, Window)
	c.data.Update(maxSeries, hi)
	c.data.Update(minSeries, lo)
	return fmt.Sprintf("[%d,%d]", int(lo), int(hi))
}

// Step evaluates the meter data once and sends a new limit when needed.
func (c *Calculator) Step(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	debugPro3EM := c.minMax(shelly.Pro3EM, shelly.Pro3EMMin, shelly.Pro3EMMax)
	debugPlugs := c.minMax(shelly.Plugs, shelly.PlugsMin, shelly.PlugsMax)

	cfg := c.store.Get()
	if !cfg.ShellyEnable || !cfg.LimitEnable {
		return Result{}, nil
	}

	reachable := c.inv.IsReachable()
	if !reachable {
		c.data.AppendDebug(shelly.DebugCalculatedLimit, "inverter unreachable")
	} else if channels, err := c.inv.ChannelPower(ctx); err != nil {
		c.log.Error(err, "Failed to read channel power")
	} else {
		c.channels = channels
	}

	grid := c.data.Factored(shelly.Pro3EM, Window)
	generated := c.data.Factored(shelly.Plugs, Window)
	seconds := int(Window / time.Second)
	debugPro3EM += fmt.Sprintf("%d, %d ", int(grid), seconds)
	debugPlugs += fmt.Sprintf("%d, %d ", int(generated), seconds)

	mode, limit, changed := Calculate(cfg, c.act, grid, generated, c.channels)
	for m := range c.streak {
		if Mode(m) != mode {
			c.streak[m] = 0
		}
	}
	c.streak[mode]++

	c.data.Update(shelly.Limit, c.act)
	c.data.AppendDebug(shelly.DebugPro3EM, debugPro3EM)
	c.data.AppendDebug(shelly.DebugPlugs, debugPlugs)

	res := Result{Mode: mode, Calculated: limit, Changed: changed}
	if !changed {
		c.data.Update(shelly.CalculatedLimit, c.data.Actual(shelly.CalculatedLimit))
		return res, nil
	}
	c.data.Update(shelly.CalculatedLimit, limit)

	now := c.now()
	if !reachable || now.Sub(c.lastSend) <= SendInterval {
		return res, nil
	}

	if err := c.inv.SendLimit(ctx, limit); err != nil {
		return res, fmt.Errorf("failed to send limit %.0f W: %w", limit, err)
	}
	ev := Event{
		Time:           now,
		Mode:           mode,
		Limit:          limit,
		Previous:       c.act,
		GridPower:      grid,
		GeneratedPower: generated,
	}
	c.act = limit
	c.lastSend = now
	c.data.Update(shelly.Limit, limit)
	res.Sent = true

	c.log.Info("Limit sent", "mode", mode.String(), "limit", limit, "grid", grid, "generated", generated)
	if c.rec != nil {
		if err := c.rec.RecordLimit(ev); err != nil {
			c.log.Error(err, "Failed to record limit")
		}
	}
	return res, nil
}

// Controller steps a Calculator on a fixed interval.
type Controller struct {
	calc     *Calculator
	interval time.Duration
	log      logr.Logger
}

func NewController(calc *Calculator, interval time.Duration, log logr.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{calc: calc, interval: interval, log: log}
}

func (c *Controller) Run(ctx context.Context) {
	c.log.Info("Starting limit control", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Limit control stopped")
			return
		case <-ticker.C:
			if _, err := c.calc.Step(ctx); err != nil {
				c.log.Error(err, "Limit step failed")
			}
		}
	}
}
