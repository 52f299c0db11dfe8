// Package config loads server settings from defaults, an optional YAML file
// and SHAREGATE_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/and161185/sharegate/internal/iplist"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. SHAREGATE_STORAGE_DSN.
const EnvPrefix = "SHAREGATE"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr   string   `mapstructure:"http_addr"`
	GRPCAddr   string   `mapstructure:"grpc_addr"`
	TrustProxy bool     `mapstructure:"trust_proxy"` // take client IPs from X-Forwarded-For
	FilesPath  string   `mapstructure:"files_path"`
	JWTKey     string   `mapstructure:"jwt_key"`
	Dev        bool     `mapstructure:"dev"`
	TLS        TLS      `mapstructure:"tls"`
	Storage    Storage  `mapstructure:"storage"`
	Security   Security `mapstructure:"security"`
	Sweep      Sweep    `mapstructure:"sweep"`
	Stats      Stats    `mapstructure:"stats"`
	Admin      Admin    `mapstructure:"admin"`
	Log        Log      `mapstructure:"log"`
}

type TLS struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLS) Enabled() bool { return t.Cert != "" && t.Key != "" }

type Storage struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Security holds the rate limiting and abuse response policy.
type Security struct {
	MaxAccessPerIPPerHour         int      `mapstructure:"max_access_per_ip_per_hour"`
	MaxAccessPerSharePerIPPerHour int      `mapstructure:"max_access_per_share_per_ip_per_hour"`
	SuspiciousActivityThreshold   int      `mapstructure:"suspicious_activity_threshold"`
	MaxPasswordFailures           int      `mapstructure:"max_password_failures"`
	RateLimitWindowHours          int      `mapstructure:"rate_limit_window_hours"`
	MaxBlockMinutes               int      `mapstructure:"max_block_minutes"`
	BlockStepMinutes              int      `mapstructure:"block_step_minutes"`
	AutoBlacklistAfter            int      `mapstructure:"auto_blacklist_after"`
	AutoBlacklistHours            int      `mapstructure:"auto_blacklist_hours"`
	TrustedNetworks               []string `mapstructure:"trusted_networks"`
	Shards                        int      `mapstructure:"shards"`
}

// Window is the rate limit window.
func (s Security) Window() time.Duration { return time.Duration(s.RateLimitWindowHours) * time.Hour }

// BlockStep is the progressive block increment.
func (s Security) BlockStep() time.Duration { return time.Duration(s.BlockStepMinutes) * time.Minute }

// MaxBlock caps a progressive block.
func (s Security) MaxBlock() time.Duration { return time.Duration(s.MaxBlockMinutes) * time.Minute }

type Sweep struct {
	Interval     time.Duration `mapstructure:"interval"`
	StaleWindows int           `mapstructure:"stale_windows"`
}

type Stats struct {
	Weeks          int           `mapstructure:"weeks"`
	ReportLookback time.Duration `mapstructure:"report_lookback"`
}

// Admin throttles the admin API.
type Admin struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

var defaults = []struct {
	key   string
	value any
}{
	{"http_addr", ":8080"},
	{"grpc_addr", ":8443"},
	{"trust_proxy", false},
	{"files_path", "./data/files"},
	{"jwt_key", ""},
	{"dev", false},
	{"tls.cert", ""},
	{"tls.key", ""},
	{"storage.driver", DriverSQLite},
	{"storage.dsn", "sharegate.db"},
	{"security.max_access_per_ip_per_hour", 100},
	{"security.max_access_per_share_per_ip_per_hour", 20},
	{"security.suspicious_activity_threshold", 50},
	{"security.max_password_failures", 5},
	{"security.rate_limit_window_hours", 1},
	{"security.max_block_minutes", 240},
	{"security.block_step_minutes", 15},
	{"security.auto_blacklist_after", 5},
	{"security.auto_blacklist_hours", 24},
	{"security.trusted_networks", []string{}},
	{"security.shards", 64},
	{"sweep.interval", 5 * time.Minute},
	{"sweep.stale_windows", 3},
	{"stats.weeks", 4},
	{"stats.report_lookback", 24 * time.Hour},
	{"admin.rps", 20.0},
	{"admin.burst", 40},
	{"log.level", "info"},
}

// Load reads path (optional, YAML) over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, d := range defaults {
		v.SetDefault(d.key, d.value)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	s := c.Security
	positive := []struct {
		name string
		val  int
	}{
		{"security.max_access_per_ip_per_hour", s.MaxAccessPerIPPerHour},
		{"security.max_access_per_share_per_ip_per_hour", s.MaxAccessPerSharePerIPPerHour},
		{"security.suspicious_activity_threshold", s.SuspiciousActivityThreshold},
		{"security.max_password_failures", s.MaxPasswordFailures},
		{"security.rate_limit_window_hours", s.RateLimitWindowHours},
		{"security.max_block_minutes", s.MaxBlockMinutes},
		{"security.block_step_minutes", s.BlockStepMinutes},
		{"security.auto_blacklist_hours", s.AutoBlacklistHours},
		{"security.shards", s.Shards},
		{"sweep.stale_windows", c.Sweep.StaleWindows},
		{"stats.weeks", c.Stats.Weeks},
		{"admin.burst", c.Admin.Burst},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.val)
		}
	}
	if s.AutoBlacklistAfter < 0 {
		return fmt.Errorf("security.auto_blacklist_after must not be negative, got %d", s.AutoBlacklistAfter)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive, got %s", c.Sweep.Interval)
	}
	if c.Stats.ReportLookback <= 0 {
		return fmt.Errorf("stats.report_lookback must be positive, got %s", c.Stats.ReportLookback)
	}
	if c.Admin.RPS <= 0 {
		return fmt.Errorf("admin.rps must be positive, got %v", c.Admin.RPS)
	}

	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls.cert and tls.key must be set together")
	}
	if _, err := iplist.ParseNetworks(s.TrustedNetworks); err != nil {
		return fmt.Errorf("security.trusted_networks: %w", err)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger: development encoding in dev mode,
// JSON production encoding otherwise.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
