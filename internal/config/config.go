// Package config loads the relay's process-wide settings once at startup.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingDatabaseURL is returned when DATABASE_URL is unset.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

const (
	keyDatabaseURL = "database_url"
	keyAuthToken   = "auth_token"
	keyAllowedIPs  = "allowed_ips"
	keyPort        = "port"
	keyServicePort = "smsrelay_port"
	keyKafka       = "kafka_brokers"
	keyInboxTopic  = "kafka_inbox_topic"

	defaultPort       = "3000"
	defaultInboxTopic = "sms-inbox"
)

// Config holds service configuration.  It is built once and never mutated;
// handlers receive the pieces they need at construction.
type Config struct {
	Port        string
	DatabaseURL string

	// AuthToken is the shared secret.  Empty disables token auth for
	// requests that present no token.
	AuthToken string

	// AllowedIPs is the source IP allowlist.  Empty allows all.
	AllowedIPs []string

	// KafkaBrokers enables inbox publishing when non-empty.
	KafkaBrokers []string
	InboxTopic   string
}

// Load reads config from environment variables with sensible defaults.
// PORT (PaaS standard) takes precedence over SMSRELAY_PORT.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault(keyInboxTopic, defaultInboxTopic)

	cfg := &Config{
		Port:         v.GetString(keyPort),
		DatabaseURL:  strings.TrimSpace(v.GetString(keyDatabaseURL)),
		AuthToken:    v.GetString(keyAuthToken),
		AllowedIPs:   SplitList(v.GetString(keyAllowedIPs)),
		KafkaBrokers: SplitList(v.GetString(keyKafka)),
		InboxTopic:   v.GetString(keyInboxTopic),
	}
	if cfg.Port == "" {
		cfg.Port = v.GetString(keyServicePort)
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return cfg, nil
}

// SplitList parses a comma-separated list, dropping blank entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
