// Package schema defines the live telemetry shapes shared by the collector,
// the web API and its consumers, and the guards that turn untrusted JSON
// into those shapes.
//
// Every validator accepts raw JSON bytes, a generic decoded JSON value or a
// typed Go value, and returns either the typed result or a *SchemaError for
// the first offending field. Objects are checked in field declaration order
// and sequences in index order, so the same input always yields the same
// error. InverterStatistics is a closed schema: any key outside "name" and
// the metric set is rejected with ReasonUnknownKey, before the values are
// looked at. The other objects ignore keys they do not know.
package schema

import (
	"sort"
)

const maxHostnameLength = 128

// ValidateValueObject checks a {v, u, d, max} reading.
func ValidateValueObject(input any) (ValueObject, error) {
	v, err := normalize(input)
	if err != nil {
		return ValueObject{}, err
	}
	return valueObject("", v)
}

// ValidateInverterStatistics checks the readings of one channel.
func ValidateInverterStatistics(input any) (InverterStatistics, error) {
	v, err := normalize(input)
	if err != nil {
		return InverterStatistics{}, err
	}
	return inverterStatistics("", v)
}

// ValidateLiveData checks a complete snapshot.
func ValidateLiveData(input any) (LiveData, error) {
	v, err := normalize(input)
	if err != nil {
		return LiveData{}, err
	}
	return liveData("", v)
}

// ValidateLiveDataGraph checks a graph descriptor, including the data name
// of every diagram entry.
func ValidateLiveDataGraph(input any) (LiveDataGraph, error) {
	v, err := normalize(input)
	if err != nil {
		return LiveDataGraph{}, err
	}
	return liveDataGraph("", v)
}

// ValidateShellyConfig checks a configuration record. With limit_enable set
// the setpoints must satisfy min_power <= target_value <= max_power; a
// violation is reported, never clamped.
func ValidateShellyConfig(input any) (ShellyConfig, error) {
	v, err := normalize(input)
	if err != nil {
		return ShellyConfig{}, err
	}
	return shellyConfig("", v)
}

func ParseLiveData(data []byte) (LiveData, error) { return ValidateLiveData(data) }

func ParseLiveDataGraph(data []byte) (LiveDataGraph, error) { return ValidateLiveDataGraph(data) }

func ParseShellyConfig(data []byte) (ShellyConfig, error) { return ValidateShellyConfig(data) }

func valueObject(path string, v any) (ValueObject, error) {
	var out ValueObject
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	if out.Value, err = o.number("v"); err != nil {
		return out, err
	}
	if out.Unit, err = o.str("u"); err != nil {
		return out, err
	}
	d, err := o.integer("d")
	if err != nil {
		return out, err
	}
	if d < 0 {
		return out, fail(join(path, "d"), ReasonInvariantViolated, "digits must not be negative, got %d", d)
	}
	out.Digits = int(d)
	if out.Max, err = o.number("max"); err != nil {
		return out, err
	}
	return out, nil
}

var metricSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(MetricNames))
	for _, n := range MetricNames {
		m[n] = struct{}{}
	}
	return m
}()

func inverterStatistics(path string, v any) (InverterStatistics, error) {
	var out InverterStatistics
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}

	keys := make([]string, 0, len(o.m))
	for k := range o.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "name" {
			continue
		}
		if _, ok := metricSet[k]; !ok {
			return out, fail(join(path, k), ReasonUnknownKey, "not an inverter metric")
		}
	}

	name, err := o.get("name")
	if err != nil {
		return out, err
	}
	if out.Name, err = valueObject(join(path, "name"), name); err != nil {
		return out, err
	}

	for _, metric := range MetricNames {
		raw, ok := o.m[metric]
		if !ok {
			continue
		}
		vo, err := valueObject(join(path, metric), raw)
		if err != nil {
			return out, err
		}
		out.SetMetric(metric, vo)
	}
	return out, nil
}

func statisticsSequence(o object, key string) ([]InverterStatistics, error) {
	items, err := o.array(key)
	if err != nil {
		return nil, err
	}
	out := make([]InverterStatistics, 0, len(items))
	for i, item := range items {
		s, err := inverterStatistics(index(join(o.path, key), i), item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func inverter(path string, v any) (Inverter, error) {
	var out Inverter
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	if out.Serial, err = o.unsigned("serial"); err != nil {
		return out, err
	}
	if out.Name, err = o.str("name"); err != nil {
		return out, err
	}
	order, err := o.integer("order")
	if err != nil {
		return out, err
	}
	out.Order = int(order)
	if out.DataAge, err = o.number("data_age"); err != nil {
		return out, err
	}
	if out.PollEnabled, err = o.boolean("poll_enabled"); err != nil {
		return out, err
	}
	if out.Reachable, err = o.boolean("reachable"); err != nil {
		return out, err
	}
	if out.Producing, err = o.boolean("producing"); err != nil {
		return out, err
	}
	if out.LimitRelative, err = o.number("limit_relative"); err != nil {
		return out, err
	}
	if out.LimitAbsolute, err = o.number("limit_absolute"); err != nil {
		return out, err
	}
	events, err := o.integer("events")
	if err != nil {
		return out, err
	}
	out.Events = int(events)
	if out.AC, err = statisticsSequence(o, "AC"); err != nil {
		return out, err
	}
	if out.DC, err = statisticsSequence(o, "DC"); err != nil {
		return out, err
	}
	if out.INV, err = statisticsSequence(o, "INV"); err != nil {
		return out, err
	}
	return out, nil
}

func total(path string, v any) (Total, error) {
	var out Total
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	fields := []struct {
		key string
		dst *ValueObject
	}{
		{"Power", &out.Power},
		{"YieldDay", &out.YieldDay},
		{"YieldTotal", &out.YieldTotal},
	}
	for _, f := range fields {
		raw, err := o.get(f.key)
		if err != nil {
			return out, err
		}
		if *f.dst, err = valueObject(join(path, f.key), raw); err != nil {
			return out, err
		}
	}
	return out, nil
}

func hints(path string, v any) (Hints, error) {
	var out Hints
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	if out.TimeSync, err = o.boolean("time_sync"); err != nil {
		return out, err
	}
	if out.DefaultPassword, err = o.boolean("default_password"); err != nil {
		return out, err
	}
	if out.RadioProblem, err = o.boolean("radio_problem"); err != nil {
		return out, err
	}
	return out, nil
}

func shelly(path string, v any) (Shelly, error) {
	var out Shelly
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	for _, f := range []struct {
		prefix  string
		value   *float64
		enabled *bool
		debug   *string
	}{
		{"pro3em", &out.Pro3EMValue, &out.Pro3EMEnabled, &out.Pro3EMDebug},
		{"plugs", &out.PlugsValue, &out.PlugsEnabled, &out.PlugsDebug},
		{"combined", &out.CombinedValue, &out.CombinedEnabled, &out.CombinedDebug},
	} {
		if *f.value, err = o.number(f.prefix + "_value"); err != nil {
			return out, err
		}
		if *f.enabled, err = o.boolean(f.prefix + "_enabled"); err != nil {
			return out, err
		}
		if *f.debug, err = o.str(f.prefix + "_debug"); err != nil {
			return out, err
		}
	}
	if out.LimitValue, err = o.number("limit_value"); err != nil {
		return out, err
	}
	if out.LimitEnabled, err = o.boolean("limit_enabled"); err != nil {
		return out, err
	}
	if out.MoreInfoEnabled, err = o.boolean("moreinfo_enabled"); err != nil {
		return out, err
	}
	if out.DebugEnabled, err = o.boolean("debug_enabled"); err != nil {
		return out, err
	}
	if out.Debug, err = o.str("debug"); err != nil {
		return out, err
	}
	return out, nil
}

func liveData(path string, v any) (LiveData, error) {
	var out LiveData
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}

	items, err := o.array("inverters")
	if err != nil {
		return out, err
	}
	seen := make(map[uint64]int, len(items))
	out.Inverters = make([]Inverter, 0, len(items))
	for i, item := range items {
		p := index(join(path, "inverters"), i)
		inv, err := inverter(p, item)
		if err != nil {
			return out, err
		}
		if first, dup := seen[inv.Serial]; dup {
			return out, fail(join(p, "serial"), ReasonInvariantViolated, "serial %d already used by inverters[%d]", inv.Serial, first)
		}
		seen[inv.Serial] = i
		out.Inverters = append(out.Inverters, inv)
	}

	raw, err := o.get("total")
	if err != nil {
		return out, err
	}
	if out.Total, err = total(join(path, "total"), raw); err != nil {
		return out, err
	}
	if raw, err = o.get("hints"); err != nil {
		return out, err
	}
	if out.Hints, err = hints(join(path, "hints"), raw); err != nil {
		return out, err
	}
	if raw, err = o.get("shelly"); err != nil {
		return out, err
	}
	if out.Shelly, err = shelly(join(path, "shelly"), raw); err != nil {
		return out, err
	}
	return out, nil
}

func singleGraph(path string, v any) (SingleGraph, error) {
	var out SingleGraph
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	name, err := o.str("data_name")
	if err != nil {
		return out, err
	}
	if !IsValidDataName(name) {
		return out, fail(join(path, "data_name"), ReasonOutOfEnum, "unknown data name %q", name)
	}
	out.DataName = DataName(name)
	if out.Label, err = o.str("label"); err != nil {
		return out, err
	}
	if out.Color, err = o.str("color"); err != nil {
		return out, err
	}
	return out, nil
}

func liveDataGraph(path string, v any) (LiveDataGraph, error) {
	var out LiveDataGraph
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	if out.Timestamp, err = o.str("timestamp"); err != nil {
		return out, err
	}
	if out.Interval, err = o.number("interval"); err != nil {
		return out, err
	}
	if out.Interval < 0 {
		return out, fail(join(path, "interval"), ReasonInvariantViolated, "interval must not be negative")
	}

	for _, d := range []struct {
		key string
		dst *[]SingleGraph
	}{
		{"diagram_pro3em", &out.DiagramPro3EM},
		{"diagram_plugs", &out.DiagramPlugs},
		{"diagram_limit", &out.DiagramLimit},
		{"diagram_all", &out.DiagramAll},
	} {
		items, err := o.array(d.key)
		if err != nil {
			return out, err
		}
		graphs := make([]SingleGraph, 0, len(items))
		for i, item := range items {
			g, err := singleGraph(index(join(path, d.key), i), item)
			if err != nil {
				return out, err
			}
			graphs = append(graphs, g)
		}
		*d.dst = graphs
	}

	for _, name := range DataNames {
		s, err := o.str(string(name))
		if err != nil {
			return out, err
		}
		out.SetSeries(name, s)
	}
	return out, nil
}

func shellyConfig(path string, v any) (ShellyConfig, error) {
	var out ShellyConfig
	o, err := asObject(path, v)
	if err != nil {
		return out, err
	}
	if out.ShellyEnable, err = o.boolean("shelly_enable"); err != nil {
		return out, err
	}
	if out.ShellyMoreInfoEnable, err = o.boolean("shelly_moreinfo_enable"); err != nil {
		return out, err
	}
	if out.HostnamePro3EM, err = o.str("shelly_hostname_pro3em"); err != nil {
		return out, err
	}
	if out.HostnamePlugs, err = o.str("shelly_hostname_plugs"); err != nil {
		return out, err
	}
	if out.LimitEnable, err = o.boolean("limit_enable"); err != nil {
		return out, err
	}
	if out.MaxPower, err = o.number("max_power"); err != nil {
		return out, err
	}
	if out.MinPower, err = o.number("min_power"); err != nil {
		return out, err
	}
	if out.TargetValue, err = o.number("target_value"); err != nil {
		return out, err
	}
	if out.FeedInLevel, err = o.number("feed_in_level"); err != nil {
		return out, err
	}
	if out.DebugEnable, err = o.boolean("debug_enable"); err != nil {
		return out, err
	}
	if o.has("view_option") {
		view, err := o.integer("view_option")
		if err != nil {
			return out, err
		}
		out.ViewOption = int(view)
	}

	if err := checkShellyConfig(path, out); err != nil {
		return out, err
	}
	return out, nil
}

func checkShellyConfig(path string, c ShellyConfig) error {
	if c.ShellyEnable {
		if len(c.HostnamePro3EM) > maxHostnameLength {
			return fail(join(path, "shelly_hostname_pro3em"), ReasonInvariantViolated, "longer than %d characters", maxHostnameLength)
		}
		if len(c.HostnamePlugs) > maxHostnameLength {
			return fail(join(path, "shelly_hostname_plugs"), ReasonInvariantViolated, "longer than %d characters", maxHostnameLength)
		}
	}
	if c.FeedInLevel < 0 || c.FeedInLevel > 100 {
		return fail(join(path, "feed_in_level"), ReasonInvariantViolated, "must be within 0..100, got %v", c.FeedInLevel)
	}
	if c.ViewOption < ViewNoInfo || c.ViewOption > ViewCompleteInfo {
		return fail(join(path, "view_option"), ReasonInvariantViolated, "must be within %d..%d, got %d", ViewNoInfo, ViewCompleteInfo, c.ViewOption)
	}
	if !c.LimitEnable {
		return nil
	}
	if c.MaxPower <= 0 || c.MaxPower > 3000 {
		return fail(join(path, "max_power"), ReasonInvariantViolated, "must be greater than 0 and at most 3000, got %v", c.MaxPower)
	}
	if c.MinPower < 0 || c.MinPower > 500 {
		return fail(join(path, "min_power"), ReasonInvariantViolated, "must be within 0..500, got %v", c.MinPower)
	}
	if c.TargetValue < -100 || c.TargetValue > 300 {
		return fail(join(path, "target_value"), ReasonInvariantViolated, "must be within -100..300, got %v", c.TargetValue)
	}
	if c.TargetValue < c.MinPower {
		return fail(join(path, "target_value"), ReasonInvariantViolated, "%v is below min_power %v", c.TargetValue, c.MinPower)
	}
	if c.TargetValue > c.MaxPower {
		return fail(join(path, "target_value"), ReasonInvariantViolated, "%v is above max_power %v", c.TargetValue, c.MaxPower)
	}
	return nil
}
