package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/simonvetter/modbus"
)

var ErrNotConnected = errors.New("modbus client not connected")

type Config struct {
	Host    string
	Port    int
	UnitID  uint8
	Timeout time.Duration
}

func (c Config) URL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Client is a Modbus-TCP connection shared by the collector and the limit
// controller. All calls are serialized.
type Client struct {
	cfg Config
	log logr.Logger

	mu      sync.Mutex
	client  *modbus.ModbusClient
	lastErr error
}

func NewClient(cfg Config, log logr.Logger) *Client {
	return &Client{cfg: cfg, log: log.WithValues("url", cfg.URL())}
}

func (c *Client) Config() Config { return c.cfg }

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.client != nil {
		return nil
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     c.cfg.URL(),
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", err)
	}
	if err := client.Open(); err != nil {
		return fmt.Errorf("failed to connect to inverter: %w", err)
	}
	if err := client.SetUnitId(c.cfg.UnitID); err != nil {
		client.Close()
		return fmt.Errorf("failed to set unit id: %w", err)
	}

	c.client = client
	c.log.V(1).Info("Connected", "unit", c.cfg.UnitID)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.closeLocked()
	return c.connectLocked()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// LastError returns the result of the most recent register access.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) read(kind modbus.RegType, name string, address, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		c.lastErr = ErrNotConnected
		return nil, ErrNotConnected
	}
	regs, err := c.client.ReadRegisters(address, quantity, kind)
	if err != nil {
		err = fmt.Errorf("failed to read %s registers at %d: %w", name, address, err)
	}
	c.lastErr = err
	return regs, err
}

func (c *Client) ReadInput(address, quantity uint16) ([]uint16, error) {
	return c.read(modbus.INPUT_REGISTER, "input", address, quantity)
}

func (c *Client) ReadHolding(address, quantity uint16) ([]uint16, error) {
	return c.read(modbus.HOLDING_REGISTER, "holding", address, quantity)
}

// WriteHolding writes consecutive holding registers starting at address.
func (c *Client) WriteHolding(address uint16, values ...uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		c.lastErr = ErrNotConnected
		return ErrNotConnected
	}
	var err error
	if len(values) == 1 {
		err = c.client.WriteRegister(address, values[0])
	} else {
		err = c.client.WriteRegisters(address, values)
	}
	if err != nil {
		err = fmt.Errorf("failed to write holding registers at %d: %w", address, err)
	}
	c.lastErr = err
	return err
}
