// Package natsbus mirrors snapshots and Shelly values onto NATS subjects.
package natsbus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"

	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

type Config struct {
	Enabled bool
	URL     string
	// Subject is the root, e.g. "shelly-dtu" gives "shelly-dtu.livedata".
	Subject string
	Logger  logr.Logger
}

type Bus struct {
	nc      *nats.Conn
	subject string
	enabled bool
	log     logr.Logger
}

func New(cfg Config) (*Bus, error) {
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if !cfg.Enabled {
		return &Bus{log: log}, nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("shelly-dtu"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error(err, "NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("NATS connected", "url", nc.ConnectedUrl())

	return &Bus{nc: nc, subject: cfg.Subject, enabled: true, log: log}, nil
}

func LiveDataSubject(root string) string {
	return root + ".livedata"
}

func ShellySubject(root, name string) string {
	return root + ".shelly." + name
}

func (b *Bus) PublishLiveData(d *schema.LiveData) error {
	if !b.enabled {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal livedata: %w", err)
	}
	if err := b.nc.Publish(LiveDataSubject(b.subject), payload); err != nil {
		return fmt.Errorf("failed to publish livedata: %w", err)
	}
	return nil
}

func (b *Bus) PublishShelly(v shelly.Values) error {
	if !b.enabled {
		return nil
	}
	for _, f := range v.Fields() {
		payload := strconv.FormatFloat(f.Value, 'f', -1, 64)
		if err := b.nc.Publish(ShellySubject(b.subject, f.Name), []byte(payload)); err != nil {
			return fmt.Errorf("failed to publish %s: %w", f.Name, err)
		}
	}
	return nil
}

func (b *Bus) IsConnected() bool {
	return b.enabled && b.nc.IsConnected()
}

func (b *Bus) Close() {
	if b.enabled {
		if err := b.nc.Drain(); err != nil {
			b.log.Error(err, "Failed to drain NATS connection")
		}
	}
}
