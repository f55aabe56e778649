package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireSchemaError(t *testing.T, err error, field string, reason Reason) {
	t.Helper()
	require.Error(t, err)
	se, ok := AsSchemaError(err)
	require.True(t, ok, "expected *SchemaError, got %T: %v", err, err)
	require.Equal(t, field, se.Field)
	require.Equal(t, reason, se.Reason)
}

func TestValidateValueObjectRoundTrip(t *testing.T) {
	vo, err := ValidateValueObject([]byte(`{"v": 230.5, "u": "V", "d": 1, "max": 250}`))
	require.NoError(t, err)
	require.Equal(t, ValueObject{Value: 230.5, Unit: "V", Digits: 1, Max: 250}, vo)

	generic := map[string]any{"v": 230.5, "u": "V", "d": 1, "max": 250}
	vo, err = ValidateValueObject(generic)
	require.NoError(t, err)
	require.Equal(t, ValueObject{Value: 230.5, Unit: "V", Digits: 1, Max: 250}, vo)

	typed := ValueObject{Value: -3.25, Unit: "var", Digits: 2, Max: 0}
	vo, err = ValidateValueObject(typed)
	require.NoError(t, err)
	require.Equal(t, typed, vo)
}

func TestValidateValueObjectRejects(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		field  string
		reason Reason
	}{
		{"negative digits", `{"v":1,"u":"W","d":-1,"max":1}`, "d", ReasonInvariantViolated},
		{"fractional digits", `{"v":1,"u":"W","d":1.5,"max":1}`, "d", ReasonWrongType},
		{"digits beyond int64", `{"v":1,"u":"W","d":9223372036854775808,"max":1}`, "d", ReasonWrongType},
		{"digits far beyond int64", `{"v":1,"u":"W","d":1e19,"max":1}`, "d", ReasonWrongType},
		{"missing value", `{"u":"W","d":0,"max":1}`, "v", ReasonMissing},
		{"string value", `{"v":"1","u":"W","d":0,"max":1}`, "v", ReasonWrongType},
		{"numeric unit", `{"v":1,"u":5,"d":0,"max":1}`, "u", ReasonWrongType},
		{"overflowing max", `{"v":1,"u":"W","d":0,"max":1e400}`, "max", ReasonInvariantViolated},
		{"not an object", `[1,2]`, "", ReasonWrongType},
		{"broken json", `{"v":`, "", ReasonWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateValueObject([]byte(tt.input))
			requireSchemaError(t, err, tt.field, tt.reason)
		})
	}
}

func TestValidateInverterStatisticsUnknownKey(t *testing.T) {
	_, err := ValidateInverterStatistics([]byte(`{
		"name": {"v":0,"u":"String 1","d":0,"max":0},
		"Power": {"v":1,"u":"W","d":0,"max":1},
		"Foo": {"v":1,"u":"W","d":0,"max":1}
	}`))
	requireSchemaError(t, err, "Foo", ReasonUnknownKey)
}

func TestValidateInverterStatisticsKeepsAbsence(t *testing.T) {
	s, err := ValidateInverterStatistics([]byte(`{
		"name": {"v":0,"u":"AC","d":0,"max":0},
		"Power": {"v":0,"u":"W","d":1,"max":800},
		"Power DC": {"v":12.5,"u":"W","d":1,"max":0}
	}`))
	require.NoError(t, err)
	require.NotNil(t, s.Power)
	require.Equal(t, 0.0, s.Power.Value)
	require.NotNil(t, s.PowerDC)
	require.Equal(t, 12.5, s.PowerDC.Value)
	require.Nil(t, s.Voltage)
	require.Nil(t, s.Metric(MetricIrradiation))
	require.Equal(t, "AC", s.Name.Unit)
}

func TestValidateInverterStatisticsMissingName(t *testing.T) {
	_, err := ValidateInverterStatistics([]byte(`{"Power":{"v":1,"u":"W","d":0,"max":1}}`))
	requireSchemaError(t, err, "name", ReasonMissing)
}

func TestIsValidDataName(t *testing.T) {
	for _, n := range DataNames {
		require.True(t, IsValidDataName(string(n)), n)
	}
	require.Len(t, DataNames, 8)
	require.False(t, IsValidDataName("data_bogus"))
	require.False(t, IsValidDataName(""))
}

const liveDataPayload = `{
	"inverters": [
		{
			"serial": 116181234567,
			"name": "Garage",
			"order": 0,
			"data_age": 3,
			"poll_enabled": true,
			"reachable": true,
			"producing": true,
			"limit_relative": 100,
			"limit_absolute": 800,
			"events": 2,
			"AC": [{"name":{"v":0,"u":"AC","d":0,"max":0},"Power":{"v":412.3,"u":"W","d":1,"max":800},"Voltage":{"v":231.4,"u":"V","d":1,"max":0}}],
			"DC": [],
			"INV": [{"name":{"v":0,"u":"INV","d":0,"max":0},"Temperature":{"v":38.2,"u":"°C","d":1,"max":0}}]
		},
		{
			"serial": 2,
			"name": "Roof",
			"order": 1,
			"data_age": 12.5,
			"poll_enabled": true,
			"reachable": false,
			"producing": false,
			"limit_relative": 50,
			"limit_absolute": -1,
			"events": -1,
			"AC": [],
			"DC": [
				{"name":{"v":0,"u":"East","d":0,"max":0},"Power":{"v":150,"u":"W","d":1,"max":400}},
				{"name":{"v":0,"u":"West","d":0,"max":0},"Power":{"v":75.25,"u":"W","d":1,"max":400},"Irradiation":{"v":18.8,"u":"%","d":3,"max":400}}
			],
			"INV": []
		}
	],
	"total": {
		"Power": {"v":412.3,"u":"W","d":1,"max":0},
		"YieldDay": {"v":1250,"u":"Wh","d":0,"max":0},
		"YieldTotal": {"v":812.125,"u":"kWh","d":3,"max":0}
	},
	"hints": {"time_sync": false, "default_password": false, "radio_problem": true, "pin_mapping_issue": false},
	"shelly": {
		"pro3em_value": -120.5, "pro3em_enabled": true, "pro3em_debug": "[-130,-110]",
		"plugs_value": 412, "plugs_enabled": true, "plugs_debug": "",
		"combined_value": 291.5, "combined_enabled": true, "combined_debug": "",
		"limit_value": 600, "limit_enabled": true,
		"moreinfo_enabled": false, "debug_enabled": false, "debug": ""
	}
}`

func TestValidateLiveDataEndToEnd(t *testing.T) {
	d, err := ParseLiveData([]byte(liveDataPayload))
	require.NoError(t, err)

	require.Len(t, d.Inverters, 2)
	require.Equal(t, uint64(116181234567), d.Inverters[0].Serial)
	require.Equal(t, "Garage", d.Inverters[0].Name)
	require.Empty(t, d.Inverters[0].DC)
	require.Equal(t, 412.3, d.Inverters[0].AC[0].Power.Value)
	require.Equal(t, 231.4, d.Inverters[0].AC[0].Voltage.Value)

	roof := d.Inverters[1]
	require.Equal(t, -1, roof.Events)
	require.Equal(t, -1.0, roof.LimitAbsolute)
	require.Equal(t, 12.5, roof.DataAge)
	require.Len(t, roof.DC, 2)
	require.Equal(t, "East", roof.DC[0].Name.Unit)
	require.Equal(t, "West", roof.DC[1].Name.Unit)
	require.Equal(t, 75.25, roof.DC[1].Power.Value)
	require.Equal(t, 3, roof.DC[1].Irradiation.Digits)
	require.Nil(t, roof.DC[0].Irradiation)

	require.True(t, d.Hints.RadioProblem)
	require.False(t, d.Hints.TimeSync)
	require.Equal(t, 812.125, d.Total.YieldTotal.Value)
	require.Equal(t, -120.5, d.Shelly.Pro3EMValue)
	require.Equal(t, "[-130,-110]", d.Shelly.Pro3EMDebug)

	inv, ok := d.Inverter(2)
	require.True(t, ok)
	require.Equal(t, "Roof", inv.Name)
}

func TestValidateLiveDataTypedRoundTrip(t *testing.T) {
	d, err := ParseLiveData([]byte(liveDataPayload))
	require.NoError(t, err)

	again, err := ValidateLiveData(d)
	require.NoError(t, err)
	require.Equal(t, d, again)
}

func TestValidateLiveDataRejects(t *testing.T) {
	mutate := func(t *testing.T, fn func(root map[string]any)) map[string]any {
		t.Helper()
		var root map[string]any
		require.NoError(t, json.Unmarshal([]byte(liveDataPayload), &root))
		fn(root)
		return root
	}
	inverterAt := func(root map[string]any, i int) map[string]any {
		return root["inverters"].([]any)[i].(map[string]any)
	}

	tests := []struct {
		name   string
		fn     func(root map[string]any)
		field  string
		reason Reason
	}{
		{"missing inverters", func(r map[string]any) { delete(r, "inverters") }, "inverters", ReasonMissing},
		{"missing hints", func(r map[string]any) { delete(r, "hints") }, "hints", ReasonMissing},
		{"string serial", func(r map[string]any) { inverterAt(r, 0)["serial"] = "116181234567" }, "inverters[0].serial", ReasonWrongType},
		{"negative serial", func(r map[string]any) { inverterAt(r, 1)["serial"] = -2 }, "inverters[1].serial", ReasonInvariantViolated},
		{"duplicate serial", func(r map[string]any) { inverterAt(r, 1)["serial"] = 116181234567 }, "inverters[1].serial", ReasonInvariantViolated},
		{"flag as number", func(r map[string]any) { inverterAt(r, 0)["reachable"] = 1 }, "inverters[0].reachable", ReasonWrongType},
		{"missing DC", func(r map[string]any) { delete(inverterAt(r, 0), "DC") }, "inverters[0].DC", ReasonMissing},
		{"unknown metric deep", func(r map[string]any) {
			dc := inverterAt(r, 1)["DC"].([]any)[1].(map[string]any)
			dc["Bogus"] = map[string]any{"v": 1, "u": "W", "d": 0, "max": 1}
		}, "inverters[1].DC[1].Bogus", ReasonUnknownKey},
		{"bad digits deep", func(r map[string]any) {
			ac := inverterAt(r, 0)["AC"].([]any)[0].(map[string]any)
			ac["Voltage"].(map[string]any)["d"] = -1
		}, "inverters[0].AC[0].Voltage.d", ReasonInvariantViolated},
		{"total missing yield", func(r map[string]any) { delete(r["total"].(map[string]any), "YieldDay") }, "total.YieldDay", ReasonMissing},
		{"shelly debug number", func(r map[string]any) { r["shelly"].(map[string]any)["debug"] = 3 }, "shelly.debug", ReasonWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateLiveData(mutate(t, tt.fn))
			requireSchemaError(t, err, tt.field, tt.reason)
		})
	}
}

func TestValidateLiveDataFirstErrorIsDeterministic(t *testing.T) {
	payload := []byte(`{"inverters":[{"serial":"x","name":5}],"total":1}`)
	for i := 0; i < 20; i++ {
		_, err := ValidateLiveData(payload)
		requireSchemaError(t, err, "inverters[0].serial", ReasonWrongType)
	}
}

func graphPayload(dataName string) []byte {
	return []byte(`{
		"timestamp": "1700000002000",
		"interval": 2,
		"diagram_pro3em": [{"data_name":"data_pro3em","label":"Pro3em","color":"#ff0000"}],
		"diagram_plugs": [{"data_name":"data_plugs","label":"PlugS","color":"#0000FF"}],
		"diagram_limit": [{"data_name":"data_calculated_limit","label":"Calc Limit","color":"#00FF00"}],
		"diagram_all": [{"data_name":"` + dataName + `","label":"Limit","color":"#00aa00"}],
		"data_pro3em": "[ {\"x\": 1.0,\"y\": 2.0} ]",
		"data_pro3em_min": "[ ]",
		"data_pro3em_max": "[ ]",
		"data_plugs": "[ ]",
		"data_plugs_min": "[ ]",
		"data_plugs_max": "[ ]",
		"data_calculated_limit": "[ ]",
		"data_limit": "[ ]"
	}`)
}

func TestValidateLiveDataGraph(t *testing.T) {
	g, err := ParseLiveDataGraph(graphPayload("data_limit"))
	require.NoError(t, err)
	require.Equal(t, "1700000002000", g.Timestamp)
	require.Equal(t, 2.0, g.Interval)
	require.Equal(t, DataLimit, g.DiagramAll[0].DataName)
	s, ok := g.Series(DataPro3EM)
	require.True(t, ok)
	require.Equal(t, `[ {"x": 1.0,"y": 2.0} ]`, s)
}

func TestValidateLiveDataGraphRejectsUnknownDataName(t *testing.T) {
	require.False(t, IsValidDataName("data_bogus"))
	_, err := ParseLiveDataGraph(graphPayload("data_bogus"))
	requireSchemaError(t, err, "diagram_all[0].data_name", ReasonOutOfEnum)
}

func TestValidateLiveDataGraphMissingSeries(t *testing.T) {
	var root map[string]any
	require.NoError(t, json.Unmarshal(graphPayload("data_limit"), &root))
	delete(root, "data_plugs_max")
	_, err := ValidateLiveDataGraph(root)
	requireSchemaError(t, err, "data_plugs_max", ReasonMissing)
}

func shellyConfigInput() map[string]any {
	return map[string]any{
		"shelly_enable":          true,
		"shelly_moreinfo_enable": false,
		"shelly_hostname_pro3em": "192.168.1.50",
		"shelly_hostname_plugs":  "192.168.1.51",
		"limit_enable":           true,
		"max_power":              500,
		"min_power":              100,
		"target_value":           150,
		"feed_in_level":          50,
		"debug_enable":           false,
	}
}

func TestValidateShellyConfig(t *testing.T) {
	c, err := ValidateShellyConfig(shellyConfigInput())
	require.NoError(t, err)
	require.Equal(t, ShellyConfig{
		ShellyEnable:   true,
		HostnamePro3EM: "192.168.1.50",
		HostnamePlugs:  "192.168.1.51",
		LimitEnable:    true,
		MaxPower:       500,
		MinPower:       100,
		TargetValue:    150,
		FeedInLevel:    50,
	}, c)
}

func TestValidateShellyConfigOrdering(t *testing.T) {
	in := shellyConfigInput()
	in["target_value"] = 50
	_, err := ValidateShellyConfig(in)
	requireSchemaError(t, err, "target_value", ReasonInvariantViolated)

	in["target_value"] = 600
	in["max_power"] = 3000
	in["min_power"] = 0
	_, err = ValidateShellyConfig(in)
	requireSchemaError(t, err, "target_value", ReasonInvariantViolated)

	// ordering only applies while limiting is enabled
	in["limit_enable"] = false
	in["target_value"] = 50
	in["min_power"] = 100
	_, err = ValidateShellyConfig(in)
	require.NoError(t, err)
}

func TestValidateShellyConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(m map[string]any)
		field  string
		reason Reason
	}{
		{"missing flag", func(m map[string]any) { delete(m, "debug_enable") }, "debug_enable", ReasonMissing},
		{"hostname not string", func(m map[string]any) { m["shelly_hostname_plugs"] = 1 }, "shelly_hostname_plugs", ReasonWrongType},
		{"feed in above range", func(m map[string]any) { m["feed_in_level"] = 120 }, "feed_in_level", ReasonInvariantViolated},
		{"max power zero", func(m map[string]any) { m["max_power"] = 0 }, "max_power", ReasonInvariantViolated},
		{"view option range", func(m map[string]any) { m["view_option"] = 7 }, "view_option", ReasonInvariantViolated},
		{"view option beyond int64", func(m map[string]any) { m["view_option"] = json.Number("9223372036854775808") }, "view_option", ReasonWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := shellyConfigInput()
			tt.fn(in)
			_, err := ValidateShellyConfig(in)
			requireSchemaError(t, err, tt.field, tt.reason)
		})
	}
}
