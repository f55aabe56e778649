package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Kind is the device type a client talks to.
type Kind int

const (
	KindPro3EM Kind = iota
	KindPlugs
)

func (k Kind) String() string {
	if k == KindPro3EM {
		return "pro3em"
	}
	return "plugs"
}

// Series returns the power series a device kind feeds.
func (k Kind) Series() Series {
	if k == KindPro3EM {
		return Pro3EM
	}
	return Plugs
}

func (k Kind) powerKey() string {
	if k == KindPro3EM {
		return "total_act_power"
	}
	return "apower"
}

const (
	DefaultReconnectInterval = 2 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultRepeatInterval    = time.Second
)

var errHostChanged = errors.New("hostname changed")

type ClientConfig struct {
	Kind              Kind
	Store             *Store
	Data              *Data
	Logger            logr.Logger
	ReconnectInterval time.Duration
	PollInterval      time.Duration
	RepeatInterval    time.Duration
}

// Client keeps a websocket RPC session with one Shelly device and records the
// reported power. When the device stays silent it polls the status, and the
// last known value is repeated so the series keeps a steady rate.
type Client struct {
	kind              Kind
	store             *Store
	data              *Data
	log               logr.Logger
	dialer            *websocket.Dialer
	reconnectInterval time.Duration
	pollInterval      time.Duration
	repeatInterval    time.Duration
	src               string
	requestID         atomic.Int64
	connected         atomic.Bool
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RepeatInterval <= 0 {
		cfg.RepeatInterval = DefaultRepeatInterval
	}
	return &Client{
		kind:              cfg.Kind,
		store:             cfg.Store,
		data:              cfg.Data,
		log:               cfg.Logger.WithValues("device", cfg.Kind.String()),
		dialer:            &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		reconnectInterval: cfg.ReconnectInterval,
		pollInterval:      cfg.PollInterval,
		repeatInterval:    cfg.RepeatInterval,
		src:               "user_" + uuid.NewString()[:8],
	}
}

func (c *Client) Kind() Kind { return c.kind }

// Connected reports whether a websocket session is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run connects to the configured host until ctx is cancelled. A changed
// hostname drops the current session and connects to the new one.
func (c *Client) Run(ctx context.Context) error {
	for {
		host := c.store.Hostname(c.kind)
		if host == "" {
			if !sleep(ctx, c.reconnectInterval) {
				return nil
			}
			continue
		}

		err := c.session(ctx, host)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errHostChanged) {
			c.log.Info("Hostname changed, reconnecting")
			continue
		}
		if err != nil {
			c.log.Error(err, "Session ended", "host", host)
		}
		if !sleep(ctx, c.reconnectInterval) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// URL returns the RPC websocket endpoint of a host. A host given with a
// scheme is used as is.
func URL(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return "ws://" + host + "/rpc"
}

func (c *Client) session(ctx context.Context, host string) error {
	conn, _, err := c.dialer.DialContext(ctx, URL(host), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info("Connected", "host", host)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-done:
				return
			}
		}
	}()

	if err := c.requestStatus(conn); err != nil {
		return err
	}

	tick := c.repeatInterval
	if c.pollInterval < tick {
		tick = c.pollInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	series := c.kind.Series()
	lastMessage := time.Now()
	lastUpdate := time.Now()
	var lastValue float64
	haveValue := false

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case err := <-readErr:
			return fmt.Errorf("failed to read from %s: %w", host, err)

		case msg := <-frames:
			lastMessage = time.Now()
			v, ok := ParseFrame(c.kind, msg)
			if !ok {
				continue
			}
			c.data.Update(series, v)
			lastValue, haveValue = v, true
			lastUpdate = lastMessage

		case now := <-ticker.C:
			if c.store.Hostname(c.kind) != host {
				return errHostChanged
			}
			if now.Sub(lastMessage) >= c.pollInterval {
				if err := c.requestStatus(conn); err != nil {
					return err
				}
				lastMessage = now
			}
			if haveValue && now.Sub(lastUpdate) >= c.repeatInterval {
				c.data.Update(series, lastValue)
				lastUpdate = now
			}
		}
	}
}

type rpcRequest struct {
	ID     int64  `json:"id"`
	Src    string `json:"src"`
	Method string `json:"method"`
}

func (c *Client) requestStatus(conn *websocket.Conn) error {
	req := rpcRequest{ID: c.requestID.Add(1), Src: c.src, Method: "Shelly.GetStatus"}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to request status: %w", err)
	}
	return nil
}

type rpcFrame struct {
	Method string                     `json:"method"`
	Result map[string]json.RawMessage `json:"result"`
	Params map[string]json.RawMessage `json:"params"`
}

// ParseFrame extracts the power reading from a GetStatus response or a
// NotifyStatus notification. Components are searched in name order.
func ParseFrame(kind Kind, payload []byte) (float64, bool) {
	var f rpcFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return 0, false
	}
	key := kind.powerKey()
	for _, components := range []map[string]json.RawMessage{f.Result, f.Params} {
		names := make([]string, 0, len(components))
		for name := range components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(components[name], &fields); err != nil {
				continue
			}
			raw, ok := fields[key]
			if !ok {
				continue
			}
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			return v, true
		}
	}
	return 0, false
}
