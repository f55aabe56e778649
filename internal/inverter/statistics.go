package inverter

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"

	"shelly-dtu/internal/schema"
)

// SerialNumber maps a device serial such as "A2231234567" to the numeric
// identity used in snapshots: its digits, or a hash when there are none or
// too many.
func SerialNumber(serial string) uint64 {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, serial)
	if digits != "" {
		if n, err := strconv.ParseUint(digits, 10, 64); err == nil {
			return n
		}
	}
	h := fnv.New64a()
	h.Write([]byte(serial))
	return h.Sum64() >> 16
}

func vo(v float64, unit string, digits int) *schema.ValueObject {
	return &schema.ValueObject{Value: v, Unit: unit, Digits: digits}
}

func label(name string) schema.ValueObject {
	return schema.ValueObject{Unit: name}
}

// Serial returns the snapshot identity of the inverter.
func (s *Sungrow) Serial(r *Reading) uint64 {
	if s.cfg.Serial != 0 {
		return s.cfg.Serial
	}
	return SerialNumber(r.SerialNumber)
}

// Statistics renders a reading as a snapshot inverter entry.
func (s *Sungrow) Statistics(r *Reading, now time.Time) schema.Inverter {
	name := s.cfg.Name
	if name == "" {
		name = "Sungrow " + r.SerialNumber
	}

	var current float64
	for _, c := range r.PhaseCurrent {
		current += c
	}
	acPower := float64(r.TotalActivePower)
	ac := schema.InverterStatistics{
		Name:          label("AC"),
		Power:         vo(acPower, "W", 1),
		Voltage:       vo(r.PhaseVoltage[0], "V", 1),
		Current:       vo(current, "A", 2),
		Frequency:     vo(r.GridFrequency, "Hz", 2),
		PowerFactor:   vo(r.PowerFactor, "", 3),
		ReactivePower: vo(float64(r.ReactivePower), "var", 1),
	}

	dc := make([]schema.InverterStatistics, 0, len(r.MPPT))
	for i, m := range r.MPPT {
		st := schema.InverterStatistics{
			Name:    label(fmt.Sprintf("MPPT%d", i+1)),
			Power:   vo(m.Power(), "W", 1),
			Voltage: vo(m.Voltage, "V", 1),
			Current: vo(m.Current, "A", 2),
		}
		if i < len(s.cfg.MPPTMaxPower) && s.cfg.MPPTMaxPower[i] > 0 {
			peak := s.cfg.MPPTMaxPower[i]
			st.Irradiation = &schema.ValueObject{Value: m.Power() / peak * 100, Unit: "%", Digits: 3, Max: peak}
		}
		dc = append(dc, st)
	}

	dcPower := float64(r.TotalDCPower)
	efficiency := 0.0
	if dcPower > 0 {
		efficiency = acPower / dcPower * 100
	}
	inv := schema.InverterStatistics{
		Name:        label("INV"),
		PowerDC:     vo(dcPower, "W", 1),
		YieldDay:    vo(r.DailyEnergy*1000, "Wh", 0),
		YieldTotal:  vo(r.TotalEnergy, "kWh", 3),
		Temperature: vo(r.Temperature, "°C", 1),
		Efficiency:  vo(efficiency, "%", 3),
	}

	relative := 100.0
	if r.LimitKnown && r.LimitEnabled {
		relative = r.LimitPercent
	}
	absolute := -1.0
	if r.NominalPower > 0 {
		absolute = relative / 100 * r.NominalPower * 1000
	}
	events := 0
	if r.FaultCode != 0 {
		events = 1
	}

	age := now.Sub(r.Timestamp).Seconds()
	if age < 0 {
		age = 0
	}

	return schema.Inverter{
		Serial:        s.Serial(r),
		Name:          name,
		Order:         s.cfg.Order,
		DataAge:       age,
		PollEnabled:   true,
		Reachable:     s.IsReachable(),
		Producing:     r.TotalActivePower > 0,
		LimitRelative: relative,
		LimitAbsolute: absolute,
		Events:        events,
		AC:            []schema.InverterStatistics{ac},
		DC:            dc,
		INV:           []schema.InverterStatistics{inv},
	}
}
