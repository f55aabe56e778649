package shelly

import "shelly-dtu/internal/schema"

// Series identifies one recorded quantity.
type Series uint16

const (
	Pro3EM Series = iota
	Pro3EMMin
	Pro3EMMax
	Plugs
	PlugsMin
	PlugsMax
	CalculatedLimit
	Limit
	seriesCount
)

// AllSeries lists every recorded quantity.
var AllSeries = []Series{Pro3EM, Pro3EMMin, Pro3EMMax, Plugs, PlugsMin, PlugsMax, CalculatedLimit, Limit}

var seriesInfo = [seriesCount]struct {
	name  schema.DataName
	label string
	color string
}{
	Pro3EM:          {schema.DataPro3EM, "Pro3em", "#ff0000"},
	Pro3EMMin:       {schema.DataPro3EMMin, "Min", "#c8c8c8"},
	Pro3EMMax:       {schema.DataPro3EMMax, "Max", "#646464"},
	Plugs:           {schema.DataPlugs, "PlugS", "#0000FF"},
	PlugsMin:        {schema.DataPlugsMin, "Min", "#c8c8c8"},
	PlugsMax:        {schema.DataPlugsMax, "Max", "#646464"},
	CalculatedLimit: {schema.DataCalculatedLimit, "Calc Limit", "#00FF00"},
	Limit:           {schema.DataLimit, "Limit", "#00aa00"},
}

func (s Series) valid() bool { return s < seriesCount }

func (s Series) DataName() schema.DataName {
	if !s.valid() {
		return ""
	}
	return seriesInfo[s].name
}

// Graph returns the diagram descriptor of the series.
func (s Series) Graph() schema.SingleGraph {
	if !s.valid() {
		return schema.SingleGraph{}
	}
	info := seriesInfo[s]
	return schema.SingleGraph{DataName: info.name, Label: info.label, Color: info.color}
}

func (s Series) String() string { return string(s.DataName()) }

// DebugKind selects one of the free-text debug channels.
type DebugKind int

const (
	DebugPro3EM DebugKind = iota
	DebugPlugs
	DebugCalculatedLimit
	debugKinds
)
