// Package config loads propd's runtime configuration from a YAML file,
// PROPD_* environment variables, and flags, the way teacher's config.go
// loads gofast's. Grounded on original_source/lib/propd.c
// (propd_config_default/propd_config_parse) for field names, defaults,
// and units; propd.c's seconds-based CLI flags are exposed here as
// time.Duration, coerced with spf13/cast so a bare integer ("30") is
// still accepted as "30s" the way the original's strtoul(optarg) was.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ThreadNumMinIfAuto mirrors propd.c's hardcoded thread_pool_create
// floor (5); unlike ThreadNumMaxIfAuto it was never exposed as a CLI
// flag in the original, so it stays a constant here too.
const ThreadNumMinIfAuto = 5

// CacheMinInterval and CacheMinDuration mirror the two cache_create
// arguments propd.c hardcodes (timestamp_from_ms(500) and
// timestamp_from_ms(100)) rather than exposing as flags.
const (
	CacheMinInterval = 500 * time.Millisecond
	CacheMinDuration = 100 * time.Millisecond
)

// BackendSpec describes one statically configured local route item,
// populated either from a config file's backends list or from a
// repeatable --file/--unix CLI flag parsed by ParseFileSpec/ParseUnixSpec.
type BackendSpec struct {
	Kind     string   `mapstructure:"kind"` // "file" | "unix" | "null"
	Name     string   `mapstructure:"name"`
	Prefixes []string `mapstructure:"prefixes"`
	Dir      string   `mapstructure:"dir"`    // file only
	Target   string   `mapstructure:"target"` // unix only; required (ParseUnixSpec sets it to Name)
	Shared   bool     `mapstructure:"shared"` // unix only ("long" mode)
}

// Config bundles every tunable propd_run needs. Field names mirror
// propd_config_t; mapstructure tags drive viper.Unmarshal from
// propd.yaml / PROPD_* env vars / bound flags.
type Config struct {
	LogLevel  string `mapstructure:"loglevel"`
	Namespace string `mapstructure:"namespace"`
	Name      string `mapstructure:"name"`
	Daemon    bool   `mapstructure:"daemon"`

	ThreadNum          int `mapstructure:"thread_num"`
	ThreadNumMaxIfAuto int `mapstructure:"thread_num_max_if_auto"`

	// CacheInterval is the cleaner's max_interval; zero disables the
	// cache entirely (propd.c: "if (!ret && config->cache_interval)").
	CacheInterval        time.Duration `mapstructure:"enable_cache"`
	CacheDefaultDuration time.Duration `mapstructure:"default_duration"`

	// Caches/Prefixes are this node's own bootstrap lists, offered to a
	// parent when it registers itself as that parent's child.
	Caches   []string `mapstructure:"caches"`
	Prefixes []string `mapstructure:"prefixes"`

	Children []string `mapstructure:"children"`
	Parents  []string `mapstructure:"parents"`

	Backends []BackendSpec `mapstructure:"backends"`
}

// Default returns a Config with propd_config_default's values.
func Default() *Config {
	return &Config{
		LogLevel:             "info",
		Namespace:            "/tmp",
		Name:                 "root",
		Daemon:               false,
		ThreadNum:            0,
		ThreadNumMaxIfAuto:   16,
		CacheInterval:        0,
		CacheDefaultDuration: time.Second,
		Prefixes:             []string{"*"},
	}
}

// Load reads propd.yaml from the current directory, /etc/propd/, and
// $HOME/.propd, overlaid by PROPD_* environment variables, the way
// teacher's LoadConfig reads gofast.yaml. v is typically bound to a
// cobra command's flags by the caller before Load runs so flag values
// win over file/env/default, matching viper's precedence.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	v.SetConfigName("propd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/propd/")
	v.AddConfigPath("$HOME/.propd")

	v.SetEnvPrefix("PROPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("loglevel", cfg.LogLevel)
	v.SetDefault("namespace", cfg.Namespace)
	v.SetDefault("name", cfg.Name)
	v.SetDefault("daemon", cfg.Daemon)
	v.SetDefault("thread_num", cfg.ThreadNum)
	v.SetDefault("thread_num_max_if_auto", cfg.ThreadNumMaxIfAuto)
	v.SetDefault("enable_cache", cfg.CacheInterval)
	v.SetDefault("default_duration", cfg.CacheDefaultDuration)
	v.SetDefault("prefixes", cfg.Prefixes)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// viper's string-to-duration decode hook rejects a unitless "30", so
	// the seconds-or-duration keys are coerced before Unmarshal.
	for _, key := range []string{"enable_cache", "default_duration"} {
		if raw := v.Get(key); raw != nil {
			if d, err := cast.ToDurationE(raw); err == nil {
				v.Set(key, normalizeSecondsDuration(raw, d))
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if raw := v.Get("enable_cache"); raw != nil {
		if d, err := cast.ToDurationE(raw); err == nil {
			cfg.CacheInterval = normalizeSecondsDuration(raw, d)
		}
	}
	if raw := v.Get("default_duration"); raw != nil {
		if d, err := cast.ToDurationE(raw); err == nil {
			cfg.CacheDefaultDuration = normalizeSecondsDuration(raw, d)
		}
	}

	return cfg, nil
}

// normalizeSecondsDuration treats a bare number (int, float, or a numeric
// string with no unit suffix) as whole seconds, matching propd.c's
// strtoul(optarg) over --enable-cache/--default-duration; a value that
// already carries a unit ("30s", "2m") is left as cast.ToDurationE parsed
// it.
func normalizeSecondsDuration(raw interface{}, parsed time.Duration) time.Duration {
	if isNumericKind(raw) {
		if n, err := cast.ToInt64E(raw); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if s, ok := raw.(string); ok && isBareNumber(s) {
		if n, err := cast.ToInt64E(s); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return parsed
}

func isNumericKind(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func isBareNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate checks field ranges/enums the way teacher's Validate does.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if c.ThreadNum < 0 {
		return fmt.Errorf("thread_num must be >= 0 (0 means auto)")
	}
	if c.ThreadNumMaxIfAuto < ThreadNumMinIfAuto {
		return fmt.Errorf("thread_num_max_if_auto must be >= %d", ThreadNumMinIfAuto)
	}
	if c.CacheInterval < 0 {
		return fmt.Errorf("enable_cache must be >= 0")
	}
	if c.CacheDefaultDuration <= 0 {
		return fmt.Errorf("default_duration must be > 0")
	}

	validLevels := []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"}
	ok := false
	for _, lvl := range validLevels {
		if strings.EqualFold(c.LogLevel, lvl) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid loglevel: %s (must be one of: %s)", c.LogLevel, strings.Join(validLevels, ", "))
	}

	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backends[%d]: name must not be empty", i)
		}
		switch b.Kind {
		case "file":
			if b.Dir == "" {
				return fmt.Errorf("backends[%d]: file backend requires dir", i)
			}
		case "unix":
			if b.Target == "" {
				return fmt.Errorf("backends[%d]: unix backend requires target", i)
			}
		case "null":
		default:
			return fmt.Errorf("backends[%d]: unknown kind %q", i, b.Kind)
		}
	}

	return nil
}

// CacheEnabled reports whether the cache should be constructed at all
// (spec §4.10: "cache (iff max_interval > 0)").
func (c *Config) CacheEnabled() bool { return c.CacheInterval > 0 }

// String renders a short summary for the `propd config` command and the
// startup log line (teacher's Config.String).
func (c *Config) String() string {
	return fmt.Sprintf("propd config: name=%s namespace=%s loglevel=%s cache=%v(%s) threads=%d(max %d)",
		c.Name, c.Namespace, c.LogLevel, c.CacheEnabled(), c.CacheInterval, c.ThreadNum, c.ThreadNumMaxIfAuto)
}

// ParseFileSpec parses "DIR,NAME,PREFIX[,PREFIX...]" into a file
// BackendSpec, mirroring propd.c's --file <DIR>,<NAME>,<PREFIXES> comma
// split (arrayparse_cstring).
func ParseFileSpec(raw string) (BackendSpec, error) {
	parts := splitComma(raw)
	if len(parts) < 3 {
		return BackendSpec{}, fmt.Errorf("require more arguments, see: --file <DIR>,<NAME>,<PREFIXES>")
	}
	return BackendSpec{Kind: "file", Dir: parts[0], Name: parts[1], Prefixes: parts[2:]}, nil
}

// ParseUnixSpec parses "NAME,PREFIX[,PREFIX...]" into a nested-unix
// BackendSpec, mirroring propd.c's --unix <NAME>,<PREFIXES>. The
// resulting route item is always temporary-connection mode
// (shared=false); the original offers no long/shared variant from this
// flag either.
func ParseUnixSpec(raw string) (BackendSpec, error) {
	parts := splitComma(raw)
	if len(parts) < 2 {
		return BackendSpec{}, fmt.Errorf("require more arguments, see: --unix <NAME>,<PREFIXES>")
	}
	return BackendSpec{Kind: "unix", Name: parts[0], Target: parts[0], Prefixes: parts[1:]}, nil
}

func splitComma(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
