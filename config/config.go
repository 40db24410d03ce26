package config

import (
	"encoding/json"
	"time"

	"github.com/mu-semtech/delta-notifier/rule"
)

// Config represents the complete application configuration
type Config struct {
	Server            ServerConfig   `koanf:"server" json:"server"`
	RulesFile         string         `koanf:"rules_file" json:"rules_file" validate:"required"`
	Defaults          DefaultsConfig `koanf:"defaults" json:"defaults"`
	Log               LogConfig      `koanf:"log" json:"log"`
	Debug             DebugConfig    `koanf:"debug" json:"debug"`
	NormalizeDatetime bool           `koanf:"normalize_datetime" json:"normalize_datetime"`
	SPARQL            SPARQLConfig   `koanf:"sparql" json:"sparql"`
	Match             MatchConfig    `koanf:"match" json:"match"`
	Resolver          ResolverConfig `koanf:"resolver" json:"resolver"`
	Workers           WorkersConfig  `koanf:"workers" json:"workers"`
	Health            HealthConfig   `koanf:"health" json:"health"`
	NATS              NATSConfig     `koanf:"nats" json:"nats"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr" json:"addr" validate:"required"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" json:"max_body_bytes" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// DefaultsConfig holds option values for rules that leave them unset.
type DefaultsConfig struct {
	GracePeriod time.Duration `koanf:"grace_period" json:"grace_period" validate:"gte=0"`
	RetryCount  int           `koanf:"retry_count" json:"retry_count" validate:"gte=0"`
	RetryDelay  time.Duration `koanf:"retry_delay" json:"retry_delay" validate:"gte=0"`
	MatchMode   string        `koanf:"match_mode" json:"match_mode" validate:"omitempty,oneof=auto any all"`
	RetryPolicy string        `koanf:"retry_policy" json:"retry_policy" validate:"omitempty,oneof=server-errors all-non-2xx"`
}

// RuleDefaults converts the section for the rule loader.
func (d DefaultsConfig) RuleDefaults() rule.Defaults {
	out := rule.DefaultDefaults()
	out.GracePeriod = d.GracePeriod
	out.RetryCount = d.RetryCount
	out.RetryDelay = d.RetryDelay
	if d.MatchMode != "" {
		out.MatchMode = rule.MatchMode(d.MatchMode)
	}
	if d.RetryPolicy != "" {
		out.RetryPolicy = rule.RetryPolicy(d.RetryPolicy)
	}
	return out
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" json:"format" validate:"oneof=json text"`
}

// DebugConfig enables extra info-level logging per stage.
type DebugConfig struct {
	LogRequests bool `koanf:"log_requests" json:"log_requests"`
	LogConfig   bool `koanf:"log_config" json:"log_config"`
	Match       bool `koanf:"match" json:"match"`
	Fold        bool `koanf:"fold" json:"fold"`
	Send        bool `koanf:"send" json:"send"`
}

// SPARQLConfig points conjunctive matching at the triple store.
type SPARQLConfig struct {
	Endpoint string            `koanf:"endpoint" json:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration     `koanf:"timeout" json:"timeout" validate:"gte=0"`
	Headers  map[string]string `koanf:"headers" json:"headers,omitempty"`
	MaxQPS   float64           `koanf:"max_qps" json:"max_qps" validate:"gte=0"`
	Burst    int               `koanf:"burst" json:"burst" validate:"gte=0"`
}

// MatchConfig bounds conjunctive search.
type MatchConfig struct {
	MaxRounds   int           `koanf:"max_rounds" json:"max_rounds" validate:"gt=0"`
	MaxBranches int           `koanf:"max_branches" json:"max_branches" validate:"gt=0"`
	Timeout     time.Duration `koanf:"timeout" json:"timeout" validate:"gt=0"`
}

// ResolverConfig sizes the callback host resolution cache.
type ResolverConfig struct {
	CacheSize int           `koanf:"cache_size" json:"cache_size" validate:"gt=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl" json:"cache_ttl" validate:"gt=0"`
}

// WorkersConfig sizes the batch worker pool.
type WorkersConfig struct {
	Count           int `koanf:"count" json:"count" validate:"gt=0"`
	QueueSize       int `koanf:"queue_size" json:"queue_size" validate:"gt=0"`
	RuleConcurrency int `koanf:"rule_concurrency" json:"rule_concurrency" validate:"gt=0"`
}

// HealthConfig configures the delivery failure log.
type HealthConfig struct {
	Window      time.Duration `koanf:"window" json:"window" validate:"gt=0"`
	MaxFailures int           `koanf:"max_failures" json:"max_failures" validate:"gt=0"`
}

// NATSConfig enables the optional NATS ingress. An empty URL disables it.
type NATSConfig struct {
	URL            string        `koanf:"url" json:"url"`
	Subject        string        `koanf:"subject" json:"subject" validate:"required_with=URL"`
	FailureSubject string        `koanf:"failure_subject" json:"failure_subject"`
	Name           string        `koanf:"name" json:"name"`
	User           string        `koanf:"user" json:"user,omitempty"`
	Password       string        `koanf:"password" json:"password,omitempty"`
	Token          string        `koanf:"token" json:"token,omitempty"`
	MaxReconnects  int           `koanf:"max_reconnects" json:"max_reconnects" validate:"gte=-1"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait" json:"reconnect_wait" validate:"gt=0"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" json:"connect_timeout" validate:"gt=0"`
	MessageTimeout time.Duration `koanf:"message_timeout" json:"message_timeout" validate:"gt=0"`
}

// Enabled reports whether NATS is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":80",
			MaxBodyBytes:    500 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		RulesFile: "/config/rules.json",
		Defaults: DefaultsConfig{
			RetryDelay:  250 * time.Millisecond,
			MatchMode:   string(rule.MatchAuto),
			RetryPolicy: string(rule.RetryServerErrors),
		},
		Log: LogConfig{Level: "info", Format: "json"},
		SPARQL: SPARQLConfig{
			Timeout: 10 * time.Second,
			Burst:   10,
		},
		Match: MatchConfig{
			MaxRounds:   16,
			MaxBranches: 10000,
			Timeout:     5 * time.Second,
		},
		Resolver: ResolverConfig{
			CacheSize: 256,
			CacheTTL:  time.Minute,
		},
		Workers: WorkersConfig{
			Count:           4,
			QueueSize:       1000,
			RuleConcurrency: 8,
		},
		Health: HealthConfig{
			Window:      3 * time.Hour,
			MaxFailures: 1000,
		},
		NATS: NATSConfig{
			Subject:        "delta.changesets",
			FailureSubject: "delta.failures",
			Name:           "delta-notifier",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			MessageTimeout: 30 * time.Second,
		},
	}
}

// String renders the configuration as JSON with header values and NATS
// secrets hidden.
func (c *Config) String() string {
	redacted := *c
	if c.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if c.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	if len(c.SPARQL.Headers) > 0 {
		redacted.SPARQL.Headers = make(map[string]string, len(c.SPARQL.Headers))
		for k := range c.SPARQL.Headers {
			redacted.SPARQL.Headers[k] = "[REDACTED]"
		}
	}
	data, err := json.Marshal(redacted)
	if err != nil {
		return "{}"
	}
	return string(data)
}
