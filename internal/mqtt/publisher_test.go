package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

func sampleLiveData() *schema.LiveData {
	power := schema.ValueObject{Value: 812.34, Unit: "W", Digits: 1}
	yield := schema.ValueObject{Value: 4.567, Unit: "kWh", Digits: 3}
	return &schema.LiveData{
		Inverters: []schema.Inverter{{
			Serial:        1234567,
			Name:          "Roof",
			Reachable:     true,
			Producing:     true,
			LimitRelative: 100,
			LimitAbsolute: 5000,
			AC: []schema.InverterStatistics{{
				Name:  schema.ValueObject{Value: 0, Unit: "AC"},
				Power: &power,
			}},
			INV: []schema.InverterStatistics{{
				Name:       schema.ValueObject{Unit: "INV"},
				YieldTotal: &yield,
			}},
		}},
		Total: schema.Total{Power: power, YieldDay: yield, YieldTotal: yield},
	}
}

func byTopic(msgs []Message) map[string]Message {
	m := make(map[string]Message, len(msgs))
	for _, msg := range msgs {
		m[msg.Topic] = msg
	}
	return m
}

func TestTopics(t *testing.T) {
	require.Equal(t, "power_dc", TopicName(schema.MetricPowerDC))
	require.Equal(t, "solar/99/dc/1/voltage", MetricTopic("solar", 99, "dc", 1, schema.MetricVoltage))
	require.Equal(t, "solar/99/status", StatusTopic("solar", 99))
	require.Equal(t, "solar/shelly/pro3em_power", ShellyTopic("solar", "pro3em_power"))
}

func TestLiveDataMessages(t *testing.T) {
	msgs, err := LiveDataMessages("solar", sampleLiveData())
	require.NoError(t, err)

	m := byTopic(msgs)
	require.Equal(t, "812.3", string(m["solar/1234567/ac/0/power"].Payload))
	require.Equal(t, "4.567", string(m["solar/1234567/inv/0/yieldtotal"].Payload))
	require.Equal(t, "true", string(m["solar/1234567/reachable"].Payload))
	require.Equal(t, "5000", string(m["solar/1234567/limit_absolute"].Payload))
	require.Equal(t, "812.3", string(m["solar/total/power"].Payload))
	require.NotContains(t, m, "solar/1234567/ac/0/voltage")

	status := m["solar/1234567/status"]
	require.True(t, status.Retained)
	var inv schema.Inverter
	require.NoError(t, json.Unmarshal(status.Payload, &inv))
	require.Equal(t, "Roof", inv.Name)
}

func TestGate(t *testing.T) {
	g := newGate(5 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	values := shelly.Values{Limit: 300, Pro3EMPower: 120.04}

	first := g.messages("solar", values, now)
	require.Len(t, first, 5)
	require.Equal(t, "120", string(byTopic(first)["solar/shelly/pro3em_power"].Payload))

	values.Pro3EMPower = 120.01
	require.Empty(t, g.messages("solar", values, now.Add(time.Second)))

	values.Pro3EMPower = 121.26
	changed := g.messages("solar", values, now.Add(2*time.Second))
	require.Len(t, changed, 1)
	require.Equal(t, "121.3", string(changed[0].Payload))

	resent := g.messages("solar", values, now.Add(6*time.Second))
	require.Len(t, resent, 4)
}

func TestDiscoveryMessages(t *testing.T) {
	msgs := DiscoveryMessages("solar", sampleLiveData().Inverters[0])
	require.Len(t, msgs, 2)

	m := byTopic(msgs)
	power, ok := m["homeassistant/sensor/dtu_1234567_ac_power/config"]
	require.True(t, ok)
	require.True(t, power.Retained)

	var config map[string]any
	require.NoError(t, json.Unmarshal(power.Payload, &config))
	require.Equal(t, "power", config["device_class"])
	require.Equal(t, "solar/1234567/ac/0/power", config["state_topic"])

	require.NoError(t, json.Unmarshal(m["homeassistant/sensor/dtu_1234567_inv_yieldtotal/config"].Payload, &config))
	require.Equal(t, "total_increasing", config["state_class"])

	require.Len(t, ShellyDiscoveryMessages("solar"), 3)
}

func TestDisabledPublisher(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.PublishLiveData(sampleLiveData()))
	require.NoError(t, p.PublishShelly(shelly.Values{}))
	require.False(t, p.IsConnected())
	p.Close()
}
