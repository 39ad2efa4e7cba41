// Package config loads the cachelab runtime configuration from defaults, an
// optional YAML file and CACHELAB_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: storage.path is read from
// CACHELAB_STORAGE_PATH.
const EnvPrefix = "CACHELAB"

type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	Storage  Storage  `mapstructure:"storage"`
	Cache    Cache    `mapstructure:"cache"`
	Redis    Redis    `mapstructure:"redis"`
	Bus      Bus      `mapstructure:"bus"`
	Checkout Checkout `mapstructure:"checkout"`
	Logging  Logging  `mapstructure:"logging"`
	Hooks    Hooks    `mapstructure:"hooks"`
	Profiles Profiles `mapstructure:"profiles"`
}

type HTTP struct {
	Addr              string        `mapstructure:"addr"`
	AdminToken        string        `mapstructure:"admin_token"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`
}

type Storage struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
}

type Cache struct {
	Provider          string        `mapstructure:"provider"` // ristretto | bigcache | redis | memory
	TagStore          string        `mapstructure:"tagstore"` // local | redis
	Codec             string        `mapstructure:"codec"`    // json | msgpack | cbor
	Namespace         string        `mapstructure:"namespace"`
	Disabled          bool          `mapstructure:"disabled"`
	MaxDecode         int           `mapstructure:"max_decode"`
	RefreshTimeout    time.Duration `mapstructure:"refresh_timeout"`
	InvalidateTimeout time.Duration `mapstructure:"invalidate_timeout"`
	TagTTL            time.Duration `mapstructure:"tag_ttl"`
	Ristretto         Ristretto     `mapstructure:"ristretto"`
	Bigcache          Bigcache      `mapstructure:"bigcache"`
}

type Ristretto struct {
	MaxCost int64 `mapstructure:"max_cost"`
}

type Bigcache struct {
	LifeWindow time.Duration `mapstructure:"life_window"`
	Shards     int           `mapstructure:"shards"`
	HardMaxMB  int           `mapstructure:"hard_max_mb"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Bus struct {
	Backend string `mapstructure:"backend"` // memory | redis
	Channel string `mapstructure:"channel"`
}

type Checkout struct {
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	TxTimeout  time.Duration `mapstructure:"tx_timeout"`
}

type Logging struct {
	Backend string `mapstructure:"backend"` // zap | logrus | slog
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"` // json | text
}

type Hooks struct {
	Async       bool   `mapstructure:"async"`
	Workers     int    `mapstructure:"workers"`
	Queue       int    `mapstructure:"queue"`
	ServedEvery uint64 `mapstructure:"served_every"`
}

type Profiles struct {
	DefaultsFile string `mapstructure:"defaults_file"`
}

// SetDefaults registers every key on v. AutomaticEnv only resolves keys viper
// already knows, so each field needs a default here.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.admin_token", "")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.heartbeat", 15*time.Second)

	v.SetDefault("storage.path", "cachelab.db")
	v.SetDefault("storage.busy_timeout", 2*time.Second)
	v.SetDefault("storage.auto_migrate", true)

	v.SetDefault("cache.provider", "ristretto")
	v.SetDefault("cache.tagstore", "local")
	v.SetDefault("cache.codec", "cbor")
	v.SetDefault("cache.namespace", "cachelab")
	v.SetDefault("cache.disabled", false)
	v.SetDefault("cache.max_decode", 4<<20)
	v.SetDefault("cache.refresh_timeout", 10*time.Second)
	v.SetDefault("cache.invalidate_timeout", 5*time.Second)
	v.SetDefault("cache.tag_ttl", time.Duration(0))
	v.SetDefault("cache.ristretto.max_cost", int64(64<<20))
	v.SetDefault("cache.bigcache.life_window", 24*time.Hour)
	v.SetDefault("cache.bigcache.shards", 64)
	v.SetDefault("cache.bigcache.hard_max_mb", 64)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("bus.backend", "memory")
	v.SetDefault("bus.channel", "cachelab:cache-clear")

	v.SetDefault("checkout.retry_delay", 150*time.Millisecond)
	v.SetDefault("checkout.tx_timeout", 5*time.Second)

	v.SetDefault("logging.backend", "zap")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("hooks.async", true)
	v.SetDefault("hooks.workers", 2)
	v.SetDefault("hooks.queue", 1024)
	v.SetDefault("hooks.served_every", uint64(100))

	v.SetDefault("profiles.defaults_file", "")
}

// BindEnv makes v read CACHELAB_SECTION_KEY overrides.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads file (if non-empty) into v, layers the environment on top and
// decodes the result. v should already carry SetDefaults and any bound flags.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// New returns a fresh viper instance with defaults registered.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func (c *Config) normalize() {
	c.Cache.Provider = strings.ToLower(strings.TrimSpace(c.Cache.Provider))
	c.Cache.TagStore = strings.ToLower(strings.TrimSpace(c.Cache.TagStore))
	c.Cache.Codec = strings.ToLower(strings.TrimSpace(c.Cache.Codec))
	c.Bus.Backend = strings.ToLower(strings.TrimSpace(c.Bus.Backend))
	c.Logging.Backend = strings.ToLower(strings.TrimSpace(c.Logging.Backend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.Cache.Provider == "redis" || c.Cache.TagStore == "redis" || c.Bus.Backend == "redis"
}

func oneOf(field, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", field, got, strings.Join(allowed, ", "))
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add(errors.New("http.addr: must not be empty"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		add(errors.New("storage.path: must not be empty"))
	}
	if c.Storage.BusyTimeout < 0 {
		add(errors.New("storage.busy_timeout: must not be negative"))
	}

	add(oneOf("cache.provider", c.Cache.Provider, "ristretto", "bigcache", "redis", "memory"))
	add(oneOf("cache.tagstore", c.Cache.TagStore, "local", "redis"))
	add(oneOf("cache.codec", c.Cache.Codec, "json", "msgpack", "cbor"))
	if c.Cache.MaxDecode < 0 {
		add(errors.New("cache.max_decode: must not be negative"))
	}
	if c.Cache.Provider == "ristretto" && c.Cache.Ristretto.MaxCost <= 0 {
		add(errors.New("cache.ristretto.max_cost: must be positive"))
	}
	if c.Cache.Provider == "bigcache" && c.Cache.Bigcache.LifeWindow <= 0 {
		add(errors.New("cache.bigcache.life_window: must be positive"))
	}

	add(oneOf("bus.backend", c.Bus.Backend, "memory", "redis"))
	if c.NeedsRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		add(errors.New("redis.addr: required by a redis backend"))
	}

	if c.Checkout.RetryDelay < 0 {
		add(errors.New("checkout.retry_delay: must not be negative"))
	}
	if c.Checkout.TxTimeout < 0 {
		add(errors.New("checkout.tx_timeout: must not be negative"))
	}

	add(oneOf("logging.backend", c.Logging.Backend, "zap", "logrus", "slog"))
	add(oneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error"))
	add(oneOf("logging.format", c.Logging.Format, "json", "text"))

	if c.Hooks.Async && (c.Hooks.Workers <= 0 || c.Hooks.Queue <= 0) {
		add(errors.New("hooks: async requires positive workers and queue"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}
