package schema

// ValueObject is a single tagged reading as rendered by the dashboard.
type ValueObject struct {
	Value  float64 `json:"v"`
	Unit   string  `json:"u"`
	Digits int     `json:"d"`
	Max    float64 `json:"max"`
}

// Metric names accepted in an InverterStatistics object besides "name".
const (
	MetricPower         = "Power"
	MetricVoltage       = "Voltage"
	MetricCurrent       = "Current"
	MetricPowerDC       = "Power DC"
	MetricYieldDay      = "YieldDay"
	MetricYieldTotal    = "YieldTotal"
	MetricFrequency     = "Frequency"
	MetricTemperature   = "Temperature"
	MetricPowerFactor   = "PowerFactor"
	MetricReactivePower = "ReactivePower"
	MetricEfficiency    = "Efficiency"
	MetricIrradiation   = "Irradiation"
)

// MetricNames lists the closed metric key set in wire order.
var MetricNames = []string{
	MetricPower,
	MetricVoltage,
	MetricCurrent,
	MetricPowerDC,
	MetricYieldDay,
	MetricYieldTotal,
	MetricFrequency,
	MetricTemperature,
	MetricPowerFactor,
	MetricReactivePower,
	MetricEfficiency,
	MetricIrradiation,
}

// InverterStatistics holds the readings of one channel. A nil metric was
// not measured on that channel.
type InverterStatistics struct {
	Name          ValueObject  `json:"name"`
	Power         *ValueObject `json:"Power,omitempty"`
	Voltage       *ValueObject `json:"Voltage,omitempty"`
	Current       *ValueObject `json:"Current,omitempty"`
	PowerDC       *ValueObject `json:"Power DC,omitempty"`
	YieldDay      *ValueObject `json:"YieldDay,omitempty"`
	YieldTotal    *ValueObject `json:"YieldTotal,omitempty"`
	Frequency     *ValueObject `json:"Frequency,omitempty"`
	Temperature   *ValueObject `json:"Temperature,omitempty"`
	PowerFactor   *ValueObject `json:"PowerFactor,omitempty"`
	ReactivePower *ValueObject `json:"ReactivePower,omitempty"`
	Efficiency    *ValueObject `json:"Efficiency,omitempty"`
	Irradiation   *ValueObject `json:"Irradiation,omitempty"`
}

func (s *InverterStatistics) field(name string) **ValueObject {
	switch name {
	case MetricPower:
		return &s.Power
	case MetricVoltage:
		return &s.Voltage
	case MetricCurrent:
		return &s.Current
	case MetricPowerDC:
		return &s.PowerDC
	case MetricYieldDay:
		return &s.YieldDay
	case MetricYieldTotal:
		return &s.YieldTotal
	case MetricFrequency:
		return &s.Frequency
	case MetricTemperature:
		return &s.Temperature
	case MetricPowerFactor:
		return &s.PowerFactor
	case MetricReactivePower:
		return &s.ReactivePower
	case MetricEfficiency:
		return &s.Efficiency
	case MetricIrradiation:
		return &s.Irradiation
	}
	return nil
}

// Metric returns the reading stored under a metric name, or nil when it is
// absent or the name is unknown.
func (s *InverterStatistics) Metric(name string) *ValueObject {
	if f := s.field(name); f != nil {
		return *f
	}
	return nil
}

// SetMetric stores a reading under a metric name. It reports false for
// names outside the metric set.
func (s *InverterStatistics) SetMetric(name string, v ValueObject) bool {
	f := s.field(name)
	if f == nil {
		return false
	}
	*f = &v
	return true
}

type Inverter struct {
	Serial        uint64               `json:"serial"`
	Name          string               `json:"name"`
	Order         int                  `json:"order"`
	DataAge       float64              `json:"data_age"`
	PollEnabled   bool                 `json:"poll_enabled"`
	Reachable     bool                 `json:"reachable"`
	Producing     bool                 `json:"producing"`
	LimitRelative float64              `json:"limit_relative"`
	LimitAbsolute float64              `json:"limit_absolute"`
	Events        int                  `json:"events"`
	AC            []InverterStatistics `json:"AC"`
	DC            []InverterStatistics `json:"DC"`
	INV           []InverterStatistics `json:"INV"`
}

type Total struct {
	Power      ValueObject `json:"Power"`
	YieldDay   ValueObject `json:"YieldDay"`
	YieldTotal ValueObject `json:"YieldTotal"`
}

// Hints are advisory operator warnings.
type Hints struct {
	TimeSync        bool `json:"time_sync"`
	DefaultPassword bool `json:"default_password"`
	RadioProblem    bool `json:"radio_problem"`
}

// Shelly is the meter/plug card of a snapshot.
type Shelly struct {
	Pro3EMValue     float64 `json:"pro3em_value"`
	Pro3EMEnabled   bool    `json:"pro3em_enabled"`
	Pro3EMDebug     string  `json:"pro3em_debug"`
	PlugsValue      float64 `json:"plugs_value"`
	PlugsEnabled    bool    `json:"plugs_enabled"`
	PlugsDebug      string  `json:"plugs_debug"`
	CombinedValue   float64 `json:"combined_value"`
	CombinedEnabled bool    `json:"combined_enabled"`
	CombinedDebug   string  `json:"combined_debug"`
	LimitValue      float64 `json:"limit_value"`
	LimitEnabled    bool    `json:"limit_enabled"`
	MoreInfoEnabled bool    `json:"moreinfo_enabled"`
	DebugEnabled    bool    `json:"debug_enabled"`
	Debug           string  `json:"debug"`
}

// LiveData is one complete telemetry snapshot. It is replaced as a whole on
// every refresh.
type LiveData struct {
	Inverters []Inverter `json:"inverters"`
	Total     Total      `json:"total"`
	Hints     Hints      `json:"hints"`
	Shelly    Shelly     `json:"shelly"`
}

// Inverter returns the inverter with the given serial.
func (d *LiveData) Inverter(serial uint64) (Inverter, bool) {
	for _, inv := range d.Inverters {
		if inv.Serial == serial {
			return inv, true
		}
	}
	return Inverter{}, false
}

// ShellyConfig is the meter/plug integration configuration.
type ShellyConfig struct {
	ShellyEnable         bool    `json:"shelly_enable" mapstructure:"shelly_enable"`
	ShellyMoreInfoEnable bool    `json:"shelly_moreinfo_enable" mapstructure:"shelly_moreinfo_enable"`
	HostnamePro3EM       string  `json:"shelly_hostname_pro3em" mapstructure:"shelly_hostname_pro3em"`
	HostnamePlugs        string  `json:"shelly_hostname_plugs" mapstructure:"shelly_hostname_plugs"`
	LimitEnable          bool    `json:"limit_enable" mapstructure:"limit_enable"`
	MaxPower             float64 `json:"max_power" mapstructure:"max_power"`
	MinPower             float64 `json:"min_power" mapstructure:"min_power"`
	TargetValue          float64 `json:"target_value" mapstructure:"target_value"`
	FeedInLevel          float64 `json:"feed_in_level" mapstructure:"feed_in_level"`
	DebugEnable          bool    `json:"debug_enable" mapstructure:"debug_enable"`
	ViewOption           int     `json:"view_option" mapstructure:"view_option"`
}

// View options of the Shelly card, in increasing detail.
const (
	ViewNoInfo = iota
	ViewSimpleInfo
	ViewDiagramInfo
	ViewCompleteInfo
)
