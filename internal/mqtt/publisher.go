package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
	discovery   bool
	log         logr.Logger
	gate        *gate
	now         func() time.Time

	mu        sync.Mutex
	announced map[uint64]bool
	shellyAnn bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
	Discovery   bool
	// Resend republishes an unchanged Shelly value after this long.
	Resend time.Duration
	Logger logr.Logger
}

const DefaultResend = 5 * time.Second

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if !cfg.Enabled {
		return &Publisher{enabled: false, log: log}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Error(err, "MQTT connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info("MQTT connected", "broker", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newPublisher(client, cfg, log), nil
}

func newPublisher(client mqtt.Client, cfg PublisherConfig, log logr.Logger) *Publisher {
	resend := cfg.Resend
	if resend <= 0 {
		resend = DefaultResend
	}
	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		enabled:     true,
		discovery:   cfg.Discovery,
		log:         log,
		gate:        newGate(resend),
		now:         time.Now,
		announced:   make(map[uint64]bool),
	}
}

// PublishLiveData sends every inverter channel metric and the retained
// per-inverter status. Discovery configs go out once per serial.
func (p *Publisher) PublishLiveData(d *schema.LiveData) error {
	if !p.enabled {
		return nil
	}

	if p.discovery {
		for _, inv := range d.Inverters {
			if p.markAnnounced(inv.Serial) {
				p.send(DiscoveryMessages(p.topicPrefix, inv))
			}
		}
	}

	msgs, err := LiveDataMessages(p.topicPrefix, d)
	if err != nil {
		return err
	}
	return p.send(msgs)
}

func (p *Publisher) markAnnounced(serial uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.announced[serial] {
		return false
	}
	p.announced[serial] = true
	return true
}

// PublishShelly sends the meter, plug and limit values that changed, or
// that were last sent longer than the resend interval ago.
func (p *Publisher) PublishShelly(v shelly.Values) error {
	if !p.enabled {
		return nil
	}

	if p.discovery {
		p.mu.Lock()
		first := !p.shellyAnn
		p.shellyAnn = true
		p.mu.Unlock()
		if first {
			p.send(ShellyDiscoveryMessages(p.topicPrefix))
		}
	}

	return p.send(p.gate.messages(p.topicPrefix, v, p.now()))
}

// send publishes all messages and returns the first failure.
func (p *Publisher) send(msgs []Message) error {
	var first error
	for _, m := range msgs {
		token := p.client.Publish(m.Topic, 0, m.Retained, m.Payload)
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Error(err, "Failed to publish", "topic", m.Topic)
			if first == nil {
				first = fmt.Errorf("failed to publish %s: %w", m.Topic, err)
			}
		}
	}
	return first
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}
