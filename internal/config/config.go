// Package config loads and validates xtmscope settings from viper and keeps
// the live copy that every component reads.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/router"
	"github.com/sw33tLie/xtmscope/pkg/storage"
	"github.com/sw33tLie/xtmscope/pkg/whttp"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	envPrefix = "XTMSCOPE"
)

// Settings is the whole configuration file.
type Settings struct {
	Platforms []platforms.Instance `mapstructure:"platforms"`
	Scan      ScanConfig           `mapstructure:"scan"`
	Refresh   RefreshConfig        `mapstructure:"refresh"`
	Cache     CacheConfig          `mapstructure:"cache"`
	Server    ServerConfig         `mapstructure:"server"`
	HTTP      HTTPConfig           `mapstructure:"http"`
}

// ScanConfig shapes what a scan reports. DisabledTypes is keyed by family.
type ScanConfig struct {
	DisabledTypes       map[string][]string `mapstructure:"disabled_types"`
	DisabledObservables []string            `mapstructure:"disabled_observables"`
	MinKeyLength        int                 `mapstructure:"min_key_length"`
	MaxAge              time.Duration       `mapstructure:"max_age"`
}

type RefreshConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	ForceWait         time.Duration `mapstructure:"force_wait"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
}

// ServerConfig is the local HTTP API. Basic auth is on when Username is set.
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type HTTPConfig struct {
	Proxy    string        `mapstructure:"proxy"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Insecure bool          `mapstructure:"insecure"`
}

// DefaultCachePath is where the sqlite cache lives unless configured.
func DefaultCachePath() string {
	home, err := homedir.Dir()
	if err != nil {
		return "xtmscope-cache.sqlite"
	}
	return filepath.Join(home, ".config", "xtmscope", "cache.sqlite")
}

// SetDefaults registers every default on v and enables XTMSCOPE_* overrides.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("platforms", []map[string]interface{}{})
	v.SetDefault("scan.disabled_types", map[string][]string{})
	v.SetDefault("scan.disabled_observables", []string{})
	v.SetDefault("scan.min_key_length", 4)
	v.SetDefault("scan.max_age", "1h")
	v.SetDefault("refresh.interval", "30m")
	v.SetDefault("refresh.retry_interval", "5m")
	v.SetDefault("refresh.fetch_timeout", "60s")
	v.SetDefault("refresh.force_wait", "30s")
	v.SetDefault("refresh.connection_timeout", "15s")
	v.SetDefault("refresh.requests_per_second", 5)
	v.SetDefault("cache.backend", BackendSQLite)
	v.SetDefault("cache.path", DefaultCachePath())
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("server.listen", "127.0.0.1:7717")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.insecure", false)
}

// LoadDotEnv loads path into the process environment. A missing file is
// not an error. Variables already set are left alone.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func hasKey(m map[string]interface{}, key string) bool {
	for k := range m {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	// enabled defaults to true when an entry leaves it out. YAML list items
	// decode as map[interface{}]interface{}, hence cast.
	raw := cast.ToSlice(v.Get("platforms"))
	for i := range s.Platforms {
		s.Platforms[i].Type = platforms.Family(strings.ToLower(strings.TrimSpace(string(s.Platforms[i].Type))))
		if i < len(raw) && !hasKey(cast.ToStringMap(raw[i]), "enabled") {
			s.Platforms[i].Enabled = true
		}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Validate checks the settings as a whole. Individual platform entries are
// only checked for unique ids: an incomplete entry is skipped by the
// registry rather than rejected here.
func (s Settings) Validate() error {
	if err := validation.ValidateStruct(&s.Refresh,
		validation.Field(&s.Refresh.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.Refresh.RetryInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.Refresh.FetchTimeout, validation.Required),
		validation.Field(&s.Refresh.RequestsPerSecond, validation.Min(0.0)),
	); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if err := validation.ValidateStruct(&s.Scan,
		validation.Field(&s.Scan.MinKeyLength, validation.Min(1)),
		validation.Field(&s.Scan.DisabledTypes, validation.By(familyKeys)),
	); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := validation.ValidateStruct(&s.Cache,
		validation.Field(&s.Cache.Backend, validation.Required, validation.In(BackendSQLite, BackendRedis)),
		validation.Field(&s.Cache.Path, validation.When(s.Cache.Backend == BackendSQLite, validation.Required)),
		validation.Field(&s.Cache.RedisURL, validation.When(s.Cache.Backend == BackendRedis, validation.Required)),
	); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := validation.ValidateStruct(&s.Server,
		validation.Field(&s.Server.Listen, validation.Required),
		validation.Field(&s.Server.Password, validation.When(s.Server.Username != "", validation.Required)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	seen := make(map[string]bool, len(s.Platforms))
	for _, p := range s.Platforms {
		if p.ID == "" {
			continue
		}
		if seen[p.ID] {
			return fmt.Errorf("platforms: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

func familyKeys(value interface{}) error {
	m, _ := value.(map[string][]string)
	for k := range m {
		if _, err := platforms.ParseFamily(k); err != nil {
			return err
		}
	}
	return nil
}

// RouterSettings converts the scan preferences for the router.
func (s Settings) RouterSettings() router.Settings {
	disabled := make(map[platforms.Family][]string, len(s.Scan.DisabledTypes))
	for k, types := range s.Scan.DisabledTypes {
		f, err := platforms.ParseFamily(k)
		if err != nil {
			continue
		}
		disabled[f] = append(disabled[f], types...)
	}
	return router.Settings{
		DisabledTypes:       disabled,
		DisabledObservables: s.Scan.DisabledObservables,
		MinKeyLength:        s.Scan.MinKeyLength,
		MaxAge:              s.Scan.MaxAge,
		ConnectionTimeout:   s.Refresh.ConnectionTimeout,
	}
}

// HTTPClientConfig returns the transport settings for platform clients.
func (s Settings) HTTPClientConfig(retryMax int) whttp.Config {
	return whttp.Config{
		RetryMax:           retryMax,
		Timeout:            s.HTTP.Timeout,
		RequestsPerSecond:  s.Refresh.RequestsPerSecond,
		Proxy:              s.HTTP.Proxy,
		InsecureSkipVerify: s.HTTP.Insecure,
	}
}

func (s Settings) Backend() storage.Backend {
	return storage.Backend{Kind: s.Cache.Backend, Path: s.Cache.Path, RedisURL: s.Cache.RedisURL}
}

// Holder owns the live settings.
type Holder struct {
	mu  sync.RWMutex
	cur Settings
}

func NewHolder(s Settings) *Holder {
	return &Holder{cur: s}
}

func (h *Holder) Get() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

func (h *Holder) Set(s Settings) {
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
}

// Router is a router.Deps.Settings source backed by the live settings.
func (h *Holder) Router() router.Settings {
	return h.Get().RouterSettings()
}

// Watch reloads h whenever the config file of v changes and then calls
// onChange. A file that no longer validates is logged and ignored, so the
// previous settings stay live.
func Watch(v *viper.Viper, h *Holder, onChange func(Settings)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		next, err := Load(v)
		if err != nil {
			utils.Log.Warnf("Ignoring settings change in %s: %v", e.Name, err)
			return
		}
		utils.Log.Infof("Settings reloaded from %s", e.Name)
		h.Set(next)
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()
}
