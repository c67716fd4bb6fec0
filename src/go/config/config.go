package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    int            `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Send        SendConfig     `mapstructure:"send"`
	Relay       RelayConfig    `mapstructure:"relay"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WebhookConfig describes where inbound messages are forwarded.
// An empty URL disables forwarding without failing startup.
type WebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Secret      string            `mapstructure:"secret"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	AutoReply   bool              `mapstructure:"auto_reply"`
	DefaultName string            `mapstructure:"default_name"`
}

// SendConfig bounds the randomized wait applied before every outbound message.
type SendConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type RelayConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", 4) // Info level
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("database.path", "data/whatsapp.db")
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.headers", map[string]string{})
	v.SetDefault("webhook.timeout", "15s")
	v.SetDefault("webhook.auto_reply", false)
	v.SetDefault("webhook.default_name", "Cliente")
	v.SetDefault("send.min_delay", "1s")
	v.SetDefault("send.max_delay", "3s")
	v.SetDefault("relay.buffer", 100)

	// Environment variables
	v.SetEnvPrefix("WA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by common PaaS deployments and the legacy relay
	_ = v.BindEnv("server.port", "WA_SERVER_PORT", "PORT")
	_ = v.BindEnv("webhook.url", "WA_WEBHOOK_URL", "WEBHOOK_URL", "BASE44_WEBHOOK_URL")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Send.MaxDelay < config.Send.MinDelay {
		config.Send.MaxDelay = config.Send.MinDelay
	}
	if config.Relay.Buffer <= 0 {
		config.Relay.Buffer = 100
	}

	return &config, nil
}
