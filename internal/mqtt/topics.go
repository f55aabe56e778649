package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// TopicName turns a metric name into a topic level, "Power DC" -> "power_dc".
func TopicName(metric string) string {
	return strings.ReplaceAll(strings.ToLower(metric), " ", "_")
}

// MetricTopic is <prefix>/<serial>/<ac|dc|inv>/<channel>/<metric>.
func MetricTopic(prefix string, serial uint64, group string, channel int, metric string) string {
	return fmt.Sprintf("%s/%d/%s/%d/%s", prefix, serial, group, channel, TopicName(metric))
}

func StatusTopic(prefix string, serial uint64) string {
	return fmt.Sprintf("%s/%d/status", prefix, serial)
}

func ShellyTopic(prefix, name string) string {
	return prefix + "/shelly/" + name
}

func formatValue(v float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

func text(topic, payload string) Message {
	return Message{Topic: topic, Payload: []byte(payload)}
}

// LiveDataMessages renders a snapshot: each measured metric on its own
// topic, a few inverter flags, the totals and one retained JSON status per
// inverter.
func LiveDataMessages(prefix string, d *schema.LiveData) ([]Message, error) {
	var msgs []Message
	for _, inv := range d.Inverters {
		groups := []struct {
			name     string
			channels []schema.InverterStatistics
		}{
			{"ac", inv.AC},
			{"dc", inv.DC},
			{"inv", inv.INV},
		}
		for _, g := range groups {
			for ch := range g.channels {
				for _, metric := range schema.MetricNames {
					vo := g.channels[ch].Metric(metric)
					if vo == nil {
						continue
					}
					msgs = append(msgs, text(
						MetricTopic(prefix, inv.Serial, g.name, ch, metric),
						formatValue(vo.Value, vo.Digits),
					))
				}
			}
		}

		base := fmt.Sprintf("%s/%d/", prefix, inv.Serial)
		msgs = append(msgs,
			text(base+"reachable", strconv.FormatBool(inv.Reachable)),
			text(base+"producing", strconv.FormatBool(inv.Producing)),
			text(base+"limit_relative", formatValue(inv.LimitRelative, 1)),
			text(base+"limit_absolute", formatValue(inv.LimitAbsolute, 0)),
		)

		status, err := json.Marshal(inv)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		msgs = append(msgs, Message{Topic: StatusTopic(prefix, inv.Serial), Payload: status, Retained: true})
	}

	total := []struct {
		name string
		vo   schema.ValueObject
	}{
		{"power", d.Total.Power},
		{"yieldday", d.Total.YieldDay},
		{"yieldtotal", d.Total.YieldTotal},
	}
	for _, t := range total {
		msgs = append(msgs, text(prefix+"/total/"+t.name, formatValue(t.vo.Value, t.vo.Digits)))
	}
	return msgs, nil
}

type sent struct {
	value float64
	at    time.Time
}

// gate suppresses Shelly values that did not change at 0.1 resolution
// until the resend interval has passed.
type gate struct {
	resend time.Duration
	mu     sync.Mutex
	last   map[string]sent
}

func newGate(resend time.Duration) *gate {
	return &gate{resend: resend, last: make(map[string]sent)}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func (g *gate) due(name string, v float64, now time.Time) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := roundTenth(v)
	prev, ok := g.last[name]
	if ok && prev.value == r && now.Sub(prev.at) < g.resend {
		return r, false
	}
	g.last[name] = sent{value: r, at: now}
	return r, true
}

func (g *gate) messages(prefix string, v shelly.Values, now time.Time) []Message {
	var msgs []Message
	for _, f := range v.Fields() {
		r, ok := g.due(f.Name, f.Value, now)
		if !ok {
			continue
		}
		msgs = append(msgs, text(ShellyTopic(prefix, f.Name), strconv.FormatFloat(r, 'f', -1, 64)))
	}
	return msgs
}

var deviceClasses = map[string]string{
	"W":   "power",
	"V":   "voltage",
	"A":   "current",
	"Hz":  "frequency",
	"°C":  "temperature",
	"Wh":  "energy",
	"kWh": "energy",
	"var": "reactive_power",
}

func discoveryMessage(topic string, config map[string]any) Message {
	payload, _ := json.Marshal(config)
	return Message{Topic: topic, Payload: payload, Retained: true}
}

// DiscoveryMessages announces the AC and INV metrics of an inverter to
// Home Assistant.
func DiscoveryMessages(prefix string, inv schema.Inverter) []Message {
	id := fmt.Sprintf("dtu_%d", inv.Serial)
	device := map[string]any{
		"identifiers":  []string{id},
		"name":         inv.Name,
		"manufacturer": "Sungrow",
	}

	var msgs []Message
	groups := []struct {
		name     string
		channels []schema.InverterStatistics
	}{
		{"ac", inv.AC},
		{"inv", inv.INV},
	}
	for _, g := range groups {
		if len(g.channels) == 0 {
			continue
		}
		ch := g.channels[0]
		for _, metric := range schema.MetricNames {
			vo := ch.Metric(metric)
			if vo == nil {
				continue
			}
			objectID := fmt.Sprintf("%s_%s_%s", id, g.name, TopicName(metric))
			config := map[string]any{
				"name":                fmt.Sprintf("%s %s", strings.ToUpper(g.name), metric),
				"unique_id":           objectID,
				"state_topic":         MetricTopic(prefix, inv.Serial, g.name, 0, metric),
				"unit_of_measurement": vo.Unit,
				"device":              device,
			}
			if class, ok := deviceClasses[vo.Unit]; ok {
				config["device_class"] = class
			}
			if vo.Unit == "kWh" || vo.Unit == "Wh" {
				config["state_class"] = "total_increasing"
			}
			msgs = append(msgs, discoveryMessage(fmt.Sprintf("homeassistant/sensor/%s/config", objectID), config))
		}
	}
	return msgs
}

// ShellyDiscoveryMessages announces the meter, plug and limit power topics.
func ShellyDiscoveryMessages(prefix string) []Message {
	device := map[string]any{
		"identifiers": []string{"dtu_shelly"},
		"name":        "Shelly zero feed-in",
	}
	sensors := []struct{ name, label string }{
		{"limit", "Power Limit"},
		{"pro3em_power", "Grid Power"},
		{"plugs_power", "Plug Power"},
	}
	msgs := make([]Message, 0, len(sensors))
	for _, s := range sensors {
		objectID := "dtu_shelly_" + s.name
		msgs = append(msgs, discoveryMessage(fmt.Sprintf("homeassistant/sensor/%s/config", objectID), map[string]any{
			"name":                s.label,
			"unique_id":           objectID,
			"state_topic":         ShellyTopic(prefix, s.name),
			"unit_of_measurement": "W",
			"device_class":        "power",
			"device":              device,
		}))
	}
	return msgs
}
