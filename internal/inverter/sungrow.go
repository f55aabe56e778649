package inverter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"shelly-dtu/internal/modbus"
)

// Reading is one decoded register snapshot.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`

	SerialNumber   string  `json:"serial_number"`
	DeviceTypeCode uint16  `json:"device_type_code"`
	NominalPower   float64 `json:"nominal_power_kw"`
	OutputType     string  `json:"output_type"`

	DailyEnergy float64 `json:"daily_energy_kwh"`
	TotalEnergy float64 `json:"total_energy_kwh"`
	Temperature float64 `json:"temperature_c"`

	MPPT         [MPPTCount]MPPT `json:"mppt"`
	TotalDCPower uint32          `json:"total_dc_power_w"`

	PhaseVoltage  [3]float64 `json:"phase_voltage_v"`
	PhaseCurrent  [3]float64 `json:"phase_current_a"`
	GridFrequency float64    `json:"grid_frequency_hz"`

	TotalActivePower   uint32  `json:"total_active_power_w"`
	ReactivePower      int32   `json:"reactive_power_var"`
	PowerFactor        float64 `json:"power_factor"`
	TotalApparentPower uint32  `json:"total_apparent_power_va"`

	RunningState       uint16 `json:"running_state"`
	RunningStateString string `json:"running_state_string"`
	FaultCode          uint16 `json:"fault_code"`

	// LimitKnown is false when the limitation registers could not be read.
	LimitKnown   bool    `json:"limit_known"`
	LimitEnabled bool    `json:"limit_enabled"`
	LimitPercent float64 `json:"limit_percent"`
}

type MPPT struct {
	Voltage float64 `json:"voltage_v"`
	Current float64 `json:"current_a"`
}

func (m MPPT) Power() float64 { return m.Voltage * m.Current }

// Registers is the register access the Sungrow needs. *modbus.Client
// implements it.
type Registers interface {
	Connect() error
	Reconnect() error
	ReadInput(address, quantity uint16) ([]uint16, error)
	ReadHolding(address, quantity uint16) ([]uint16, error)
	WriteHolding(address uint16, values ...uint16) error
}

var ErrNoReading = errors.New("no inverter reading yet")

type Config struct {
	// Serial overrides the serial derived from the device.
	Serial uint64
	Name   string
	Order  int
	// MPPTMaxPower is the installed panel power per input in W. Inputs
	// with 0 are not reported to the limit controller.
	MPPTMaxPower []float64
	// StaleAfter marks the inverter unreachable when no read succeeded
	// for that long.
	StaleAfter time.Duration
}

type Sungrow struct {
	regs Registers
	cfg  Config
	now  func() time.Time

	mu      sync.RWMutex
	last    *Reading
	lastErr error
	lastOK  time.Time
}

func NewSungrow(regs Registers, cfg Config) *Sungrow {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Sungrow{regs: regs, cfg: cfg, now: time.Now}
}

func (s *Sungrow) Config() Config { return s.cfg }

// Read fetches and decodes all registers. The limitation registers are
// optional; a failure there only clears LimitKnown.
func (s *Sungrow) Read(ctx context.Context) (*Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regs, err := s.regs.ReadInput(inputBlockStart, inputBlockSize)
	if err != nil {
		s.record(nil, err)
		return nil, fmt.Errorf("failed to read inverter registers: %w", err)
	}
	r := decode(modbus.Words{Start: inputBlockStart, Regs: regs}, s.now())

	if hold, err := s.regs.ReadHolding(RegLimitSwitch, 2); err == nil {
		w := modbus.Words{Start: RegLimitSwitch, Regs: hold}
		r.LimitKnown = true
		r.LimitEnabled = w.Uint16(RegLimitSwitch) == LimitOn
		r.LimitPercent = float64(w.Uint16(RegLimitSetting)) * 0.1
	}

	s.record(r, nil)
	return r, nil
}

// ReadWithRetry connects if needed and retries once after reconnecting.
func (s *Sungrow) ReadWithRetry(ctx context.Context) (*Reading, error) {
	if err := s.regs.Connect(); err != nil {
		s.record(nil, err)
		return nil, err
	}
	r, err := s.Read(ctx)
	if err == nil {
		return r, nil
	}
	if rerr := s.regs.Reconnect(); rerr != nil {
		s.record(nil, rerr)
		return nil, fmt.Errorf("%w (reconnect: %v)", err, rerr)
	}
	return s.Read(ctx)
}

func (s *Sungrow) record(r *Reading, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if r != nil {
		s.last = r
		s.lastOK = r.Timestamp
	}
}

func decode(w modbus.Words, ts time.Time) *Reading {
	r := &Reading{
		Timestamp:      ts,
		SerialNumber:   w.String(RegSerialNumber, 10),
		DeviceTypeCode: w.Uint16(RegDeviceTypeCode),
		NominalPower:   float64(w.Uint16(RegNominalPower)) * 0.1,
		OutputType:     OutputTypeString(w.Uint16(RegOutputType)),
		DailyEnergy:    float64(w.Uint16(RegDailyEnergy)) * 0.1,
		TotalEnergy:    float64(w.Uint32(RegTotalEnergy)) * 0.1,
		Temperature:    float64(w.Int16(RegInsideTemperature)) * 0.1,
		TotalDCPower:   w.Uint32(RegTotalDCPower),
		GridFrequency:  float64(w.Uint16(RegGridFrequency)) * 0.1,

		TotalActivePower:   w.Uint32(RegTotalActivePower),
		ReactivePower:      w.Int32(RegReactivePower),
		PowerFactor:        float64(w.Int16(RegPowerFactor)) * 0.001,
		TotalApparentPower: w.Uint32(RegTotalApparentPower),

		RunningState: w.Uint16(RegRunningState),
		FaultCode:    w.Uint16(RegFaultCode),
	}
	r.RunningStateString = RunningStateString(r.RunningState)

	r.MPPT[0] = MPPT{
		Voltage: float64(w.Uint16(RegMPPT1Voltage)) * 0.1,
		Current: float64(w.Uint16(RegMPPT1Current)) * 0.01,
	}
	r.MPPT[1] = MPPT{
		Voltage: float64(w.Uint16(RegMPPT2Voltage)) * 0.1,
		Current: float64(w.Uint16(RegMPPT2Current)) * 0.01,
	}
	for i, reg := range []uint16{RegPhaseAVoltage, RegPhaseBVoltage, RegPhaseCVoltage} {
		r.PhaseVoltage[i] = float64(w.Uint16(reg)) * 0.1
	}
	for i, reg := range []uint16{RegPhaseACurrent, RegPhaseBCurrent, RegPhaseCCurrent} {
		r.PhaseCurrent[i] = float64(w.Uint16(reg)) * 0.1
	}
	return r
}

// Latest returns the newest successful reading.
func (s *Sungrow) Latest() (*Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != nil
}

// LastError returns the error of the most recent read, nil after a success.
func (s *Sungrow) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Sungrow) IsReachable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last != nil && s.lastErr == nil && s.now().Sub(s.lastOK) < s.cfg.StaleAfter
}

// LimitSetting converts watts into the 0.1 % setting of an inverter with the
// given nominal power in kW.
func LimitSetting(watts, nominalKW float64) (uint16, error) {
	if nominalKW <= 0 {
		return 0, fmt.Errorf("unknown nominal power")
	}
	setting := math.Round(watts / (nominalKW * 1000) * LimitSettingMax)
	return uint16(math.Max(0, math.Min(LimitSettingMax, setting))), nil
}

// SendLimit enables power limitation at the given absolute output.
func (s *Sungrow) SendLimit(ctx context.Context, watts float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, ok := s.Latest()
	if !ok {
		return ErrNoReading
	}
	setting, err := LimitSetting(watts, r.NominalPower)
	if err != nil {
		return err
	}
	if err := s.regs.WriteHolding(RegLimitSwitch, LimitOn, setting); err != nil {
		return err
	}

	s.mu.Lock()
	updated := *s.last
	updated.LimitKnown = true
	updated.LimitEnabled = true
	updated.LimitPercent = float64(setting) * 0.1
	s.last = &updated
	s.mu.Unlock()
	return nil
}

// ChannelPower returns the DC power of every input with installed panels.
func (s *Sungrow) ChannelPower(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := s.Latest()
	if !ok {
		return nil, ErrNoReading
	}
	var out []float64
	for i, m := range r.MPPT {
		if len(s.cfg.MPPTMaxPower) > 0 && (i >= len(s.cfg.MPPTMaxPower) || s.cfg.MPPTMaxPower[i] <= 0) {
			continue
		}
		out = append(out, m.Power())
	}
	return out, nil
}

func (s *Sungrow) TestConnection() error {
	if err := s.regs.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := s.regs.ReadInput(RegSerialNumber, 10); err != nil {
		return fmt.Errorf("failed to read from inverter: %w", err)
	}
	return nil
}
