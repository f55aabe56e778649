package schema

// DataName identifies one recorded series of the Shelly graph.
type DataName string

const (
	DataPro3EM          DataName = "data_pro3em"
	DataPro3EMMin       DataName = "data_pro3em_min"
	DataPro3EMMax       DataName = "data_pro3em_max"
	DataPlugs           DataName = "data_plugs"
	DataPlugsMin        DataName = "data_plugs_min"
	DataPlugsMax        DataName = "data_plugs_max"
	DataCalculatedLimit DataName = "data_calculated_limit"
	DataLimit           DataName = "data_limit"
)

// DataNames lists the valid series identifiers.
var DataNames = []DataName{
	DataPro3EM,
	DataPro3EMMin,
	DataPro3EMMax,
	DataPlugs,
	DataPlugsMin,
	DataPlugsMax,
	DataCalculatedLimit,
	DataLimit,
}

var dataNameSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(DataNames))
	for _, n := range DataNames {
		m[string(n)] = struct{}{}
	}
	return m
}()

// IsValidDataName reports whether name is one of the eight series
// identifiers.
func IsValidDataName(name string) bool {
	_, ok := dataNameSet[name]
	return ok
}

type SingleGraph struct {
	DataName DataName `json:"data_name"`
	Label    string   `json:"label"`
	Color    string   `json:"color"`
}

// LiveDataGraph describes the Shelly diagrams and carries their series.
type LiveDataGraph struct {
	Timestamp string  `json:"timestamp"`
	Interval  float64 `json:"interval"`

	DiagramPro3EM []SingleGraph `json:"diagram_pro3em"`
	DiagramPlugs  []SingleGraph `json:"diagram_plugs"`
	DiagramLimit  []SingleGraph `json:"diagram_limit"`
	DiagramAll    []SingleGraph `json:"diagram_all"`

	DataPro3EM    string `json:"data_pro3em"`
	DataPro3EMMin string `json:"data_pro3em_min"`
	DataPro3EMMax string `json:"data_pro3em_max"`

	DataPlugs    string `json:"data_plugs"`
	DataPlugsMin string `json:"data_plugs_min"`
	DataPlugsMax string `json:"data_plugs_max"`

	DataCalculatedLimit string `json:"data_calculated_limit"`
	DataLimit           string `json:"data_limit"`
}

// Series returns the data field joined to a data name.
func (g *LiveDataGraph) Series(name DataName) (string, bool) {
	if p := g.series(name); p != nil {
		return *p, true
	}
	return "", false
}

// SetSeries stores the data field joined to a data name.
func (g *LiveDataGraph) SetSeries(name DataName, data string) bool {
	p := g.series(name)
	if p == nil {
		return false
	}
	*p = data
	return true
}

func (g *LiveDataGraph) series(name DataName) *string {
	switch name {
	case DataPro3EM:
		return &g.DataPro3EM
	case DataPro3EMMin:
		return &g.DataPro3EMMin
	case DataPro3EMMax:
		return &g.DataPro3EMMax
	case DataPlugs:
		return &g.DataPlugs
	case DataPlugsMin:
		return &g.DataPlugsMin
	case DataPlugsMax:
		return &g.DataPlugsMax
	case DataCalculatedLimit:
		return &g.DataCalculatedLimit
	case DataLimit:
		return &g.DataLimit
	}
	return nil
}
