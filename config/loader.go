package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/mu-semtech/delta-notifier/errors"
)

// EnvPrefix marks environment variables read by the loader.
const EnvPrefix = "DELTA_"

// legacyEnv maps environment names of earlier releases to config keys.
var legacyEnv = map[string]string{
	"LOG_REQUESTS":               "debug.log_requests",
	"LOG_SERVER_CONFIGURATION":   "debug.log_config",
	"DEBUG_DELTA_MATCH":          "debug.match",
	"DEBUG_TRIPLE_MATCHES_SPEC":  "debug.match",
	"DEBUG_DELTA_SEND":           "debug.send",
	"DEBUG_DELTA_FOLD":           "debug.fold",
	"NORMALIZE_DATETIME_IN_QUAD": "normalize_datetime",
}

// Loader layers defaults, files and environment.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
	}
}

// AddLayer adds a configuration file layer; later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation turns struct tag validation on or off.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads defaults, one file and the environment.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.AddLayer(path)
	return l.Load()
}

// Load merges all layers into a Config.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.WrapFatal(err, "ConfigLoader", "Load", "load defaults")
	}

	for _, path := range l.layers {
		if err := l.loadLayer(k, path); err != nil {
			return nil, err
		}
	}

	if err := l.loadEnvironment(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "ConfigLoader", "Load", "decode configuration")
	}

	if l.validation {
		if err := Validate(&cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadLayer merges the keys present in a YAML or JSON file, keeping values
// the file does not mention.
func (l *Loader) loadLayer(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapFatal(err, "ConfigLoader", "loadLayer", fmt.Sprintf("read %s", path))
	}
	raw := map[string]any{}
	// YAML is a superset of JSON, so one decoder serves both.
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "ConfigLoader", "loadLayer", fmt.Sprintf("parse %s", path))
	}
	for key, value := range flattenMap("", raw) {
		if err := k.Set(key, value); err != nil {
			return errors.WrapInvalid(err, "ConfigLoader", "loadLayer", fmt.Sprintf("set %s", key))
		}
	}
	return nil
}

// flattenMap flattens a nested map into dot-notation keys. Maps below a
// known string-map key (sparql.headers) are kept whole.
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && key != "sparql.headers" {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func (l *Loader) loadEnvironment(k *koanf.Koanf) error {
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[envName(key)] = key
	}

	prefixed := env.Provider(".", env.Opt{
		Prefix: l.envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			name := strings.TrimPrefix(key, l.envPrefix)
			if path, ok := known[name]; ok {
				return path, value
			}
			return transformEnvKey(name), value
		},
	})
	if err := k.Load(prefixed, nil); err != nil {
		return errors.WrapFatal(err, "ConfigLoader", "loadEnvironment", "load DELTA_ variables")
	}

	legacy := env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			path, ok := legacyEnv[key]
			if !ok {
				return "", nil
			}
			return path, legacyBool(value)
		},
	})
	if err := k.Load(legacy, nil); err != nil {
		return errors.WrapFatal(err, "ConfigLoader", "loadEnvironment", "load legacy variables")
	}
	return nil
}

// envName turns server.max_body_bytes into SERVER_MAX_BODY_BYTES.
func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// transformEnvKey converts an unknown variable name to a koanf path:
// SPARQL_HEADERS_MU_AUTH_SUDO -> sparql.headers_mu_auth_sudo.
func transformEnvKey(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}

// legacyBool treats any non-empty value other than false/0 as enabled, the
// way the old toggles were read.
func legacyBool(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no", "off":
		return "false"
	}
	return "true"
}

var validate = validator.New()

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nil configuration")
	}
	if err := validate.Struct(cfg); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Config", "Validate", "validate configuration")
	}
	return nil
}
