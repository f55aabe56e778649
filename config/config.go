package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"shelly-dtu/internal/logging"
	"shelly-dtu/internal/schema"
)

// DefaultPassword is the factory API password. Running with it raises the
// default_password hint.
const DefaultPassword = "openDTU42"

type Config struct {
	Inverter  InverterConfig  `mapstructure:"inverter"`
	Collector CollectorConfig `mapstructure:"collector"`
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Shelly    ShellyConfig    `mapstructure:"shelly"`
	Log       logging.Config  `mapstructure:"log"`
}

type InverterConfig struct {
	IP           string        `mapstructure:"ip"`
	Port         int           `mapstructure:"port"`
	SlaveID      uint8         `mapstructure:"slave_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Serial       uint64        `mapstructure:"serial"`
	Name         string        `mapstructure:"name"`
	Order        int           `mapstructure:"order"`
	MPPTMaxPower []float64     `mapstructure:"mppt_max_power"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

type CollectorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"`
}

type APIConfig struct {
	Port          int    `mapstructure:"port"`
	Enabled       bool   `mapstructure:"enabled"`
	Password      string `mapstructure:"password"`
	AllowReadonly bool   `mapstructure:"allow_readonly"`
}

type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Discovery   bool          `mapstructure:"discovery"`
	Resend      time.Duration `mapstructure:"resend"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ShellyConfig is the runtime-changeable integration record plus the
// settings of the device clients and the limit loop.
type ShellyConfig struct {
	schema.ShellyConfig `mapstructure:",squash"`

	BufferSize        int           `mapstructure:"buffer_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	LimitInterval     time.Duration `mapstructure:"limit_interval"`
	BackupPath        string        `mapstructure:"backup_path"`
}

// EnvPrefix prefixes environment overrides, e.g. SHELLY_DTU_API_PORT.
const EnvPrefix = "SHELLY_DTU"

func setDefaults() {
	viper.SetDefault("inverter.ip", "172.16.0.120")
	viper.SetDefault("inverter.port", 502)
	viper.SetDefault("inverter.slave_id", 1)
	viper.SetDefault("inverter.timeout", "10s")
	viper.SetDefault("inverter.serial", 0)
	viper.SetDefault("inverter.name", "")
	viper.SetDefault("inverter.order", 0)
	viper.SetDefault("inverter.mppt_max_power", []float64{})
	viper.SetDefault("inverter.stale_after", "5m")
	viper.SetDefault("collector.interval", "10s")
	viper.SetDefault("collector.enabled", true)
	viper.SetDefault("collector.retention", "720h")
	viper.SetDefault("api.port", 8045)
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.password", DefaultPassword)
	viper.SetDefault("api.allow_readonly", true)
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic_prefix", "solar")
	viper.SetDefault("mqtt.client_id", "shelly-dtu")
	viper.SetDefault("mqtt.discovery", true)
	viper.SetDefault("mqtt.resend", "5s")
	viper.SetDefault("nats.enabled", false)
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.subject", "shelly-dtu")
	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.path", "./shelly-dtu.db")
	viper.SetDefault("shelly.shelly_enable", false)
	viper.SetDefault("shelly.shelly_moreinfo_enable", false)
	viper.SetDefault("shelly.shelly_hostname_pro3em", "")
	viper.SetDefault("shelly.shelly_hostname_plugs", "")
	viper.SetDefault("shelly.limit_enable", false)
	viper.SetDefault("shelly.max_power", 800)
	viper.SetDefault("shelly.min_power", 0)
	viper.SetDefault("shelly.target_value", 0)
	viper.SetDefault("shelly.feed_in_level", 0)
	viper.SetDefault("shelly.debug_enable", false)
	viper.SetDefault("shelly.view_option", schema.ViewSimpleInfo)
	viper.SetDefault("shelly.buffer_size", 4096)
	viper.SetDefault("shelly.poll_interval", "5s")
	viper.SetDefault("shelly.reconnect_interval", "2s")
	viper.SetDefault("shelly.limit_interval", "1s")
	viper.SetDefault("shelly.backup_path", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "auto")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age_days", 28)
}

func Load(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/shelly-dtu")
	}

	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := schema.ValidateShellyConfig(cfg.Shelly.ShellyConfig); err != nil {
		return nil, fmt.Errorf("invalid shelly section: %w", err)
	}

	return &cfg, nil
}

// SaveShelly writes the integration record back to the config file. Without
// a loaded file it creates configPath, or config.yaml when that is empty.
func SaveShelly(configPath string, c schema.ShellyConfig) error {
	viper.Set("shelly.shelly_enable", c.ShellyEnable)
	viper.Set("shelly.shelly_moreinfo_enable", c.ShellyMoreInfoEnable)
	viper.Set("shelly.shelly_hostname_pro3em", c.HostnamePro3EM)
	viper.Set("shelly.shelly_hostname_plugs", c.HostnamePlugs)
	viper.Set("shelly.limit_enable", c.LimitEnable)
	viper.Set("shelly.max_power", c.MaxPower)
	viper.Set("shelly.min_power", c.MinPower)
	viper.Set("shelly.target_value", c.TargetValue)
	viper.Set("shelly.feed_in_level", c.FeedInLevel)
	viper.Set("shelly.debug_enable", c.DebugEnable)
	viper.Set("shelly.view_option", c.ViewOption)

	if viper.ConfigFileUsed() != "" {
		return viper.WriteConfig()
	}
	if configPath == "" {
		configPath = "config.yaml"
	}
	return viper.WriteConfigAs(configPath)
}
