package shelly

import "time"

// Values are the newest meter, plug and limit figures as exported to the
// message buses.
type Values struct {
	Limit       float64
	Pro3EMPower float64
	Pro3EMTime  time.Time
	PlugsPower  float64
	PlugsTime   time.Time
}

type Field struct {
	Name  string
	Value float64
}

// Fields lists the values under their topic names. Times are unix seconds,
// 0 when the device never reported.
func (v Values) Fields() []Field {
	return []Field{
		{"limit", v.Limit},
		{"pro3em_power", v.Pro3EMPower},
		{"pro3em_time", unixSeconds(v.Pro3EMTime)},
		{"plugs_power", v.PlugsPower},
		{"plugs_time", unixSeconds(v.PlugsTime)},
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix())
}

func (d *Data) Values() Values {
	v := Values{
		Limit:       d.Actual(Limit),
		Pro3EMPower: d.Actual(Pro3EM),
		PlugsPower:  d.Actual(Plugs),
	}
	v.Pro3EMTime, _ = d.LastTime(Pro3EM)
	v.PlugsTime, _ = d.LastTime(Plugs)
	return v
}
