package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/yahooweather-binding/internal/validation"
)

// Cache backends.
const (
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"
	CacheBackendRedis     = "redis"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend string // "in_memory", "memcached" or "redis"
	CacheTTL     time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerFailureThreshold int
	BreakerHalfOpenRequests int
	BreakerOpenTimeout      time.Duration

	RefreshRateLimitRPS   float64
	RefreshRateLimitBurst int

	MaxDataAge time.Duration
	TimeZones  []string

	WarmCache       bool
	ShutdownTimeout time.Duration

	Things []ThingConfig
}

// ThingConfig declares one weather thing.
type ThingConfig struct {
	ID       string
	Location string
	Refresh  time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
		Warm    *bool  `yaml:"warm"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int     `yaml:"retry_max_attempts"`
		RetryBaseDelay          string  `yaml:"retry_base_delay"`
		RetryMaxDelay           string  `yaml:"retry_max_delay"`
		BreakerFailureThreshold int     `yaml:"breaker_failure_threshold"`
		BreakerHalfOpenRequests int     `yaml:"breaker_half_open_requests"`
		BreakerOpenTimeout      string  `yaml:"breaker_open_timeout"`
		RefreshRateLimitRPS     float64 `yaml:"refresh_rate_limit_rps"`
		RefreshRateLimitBurst   int     `yaml:"refresh_rate_limit_burst"`
	} `yaml:"reliability"`

	Refresh struct {
		MaxDataAge string   `yaml:"max_data_age"`
		TimeZones  []string `yaml:"time_zones"`
	} `yaml:"refresh"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Things []struct {
		ID       string `yaml:"id"`
		Location string `yaml:"location"`
		Refresh  string `yaml:"refresh"`
	} `yaml:"things"`
}

type secretsFile struct {
	RedisPassword string `yaml:"redis_password"`
}

// envOverrides are applied after the YAML file. Unset variables leave the
// file value alone.
type envOverrides struct {
	ServerPort        *string        `envconfig:"SERVER_PORT"`
	WeatherAPIURL     *string        `envconfig:"WEATHER_API_URL"`
	WeatherAPITimeout *time.Duration `envconfig:"WEATHER_API_TIMEOUT"`
	CacheBackend      *string        `envconfig:"CACHE_BACKEND"`
	CacheTTL          *time.Duration `envconfig:"CACHE_TTL"`
	MemcachedAddrs    *string        `envconfig:"MEMCACHED_ADDRS"`
	RedisAddr         *string        `envconfig:"REDIS_ADDR"`
	RedisPassword     *string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           *int           `envconfig:"REDIS_DB"`
	MaxDataAge        *time.Duration `envconfig:"MAX_DATA_AGE"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), then
// applies environment overrides. The redis password comes from REDIS_PASSWORD
// or config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)

	redisPassword, err := loadRedisPassword(cwd)
	if err != nil {
		return nil, err
	}
	cfg.RedisPassword = redisPassword

	var ov envOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyOverrides(cfg, &ov)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://query.yahooapis.com/v1/public/yql"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = CacheBackendInMemory
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Second)
	cfg.WarmCache = true
	if fc.Cache.Warm != nil {
		cfg.WarmCache = *fc.Cache.Warm
	}

	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerHalfOpenRequests = fc.Reliability.BreakerHalfOpenRequests
	if cfg.BreakerHalfOpenRequests <= 0 {
		cfg.BreakerHalfOpenRequests = 1
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, 30*time.Second)

	cfg.RefreshRateLimitRPS = fc.Reliability.RefreshRateLimitRPS
	if cfg.RefreshRateLimitRPS <= 0 {
		cfg.RefreshRateLimitRPS = 1
	}
	cfg.RefreshRateLimitBurst = fc.Reliability.RefreshRateLimitBurst
	if cfg.RefreshRateLimitBurst <= 0 {
		cfg.RefreshRateLimitBurst = 5
	}

	cfg.MaxDataAge = parseDuration(fc.Refresh.MaxDataAge, 3*time.Hour)
	cfg.TimeZones = fc.Refresh.TimeZones
	if len(cfg.TimeZones) == 0 {
		cfg.TimeZones = []string{"Europe/Berlin"}
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	for _, t := range fc.Things {
		cfg.Things = append(cfg.Things, ThingConfig{
			ID:       strings.TrimSpace(t.ID),
			Location: strings.TrimSpace(t.Location),
			Refresh:  parseDuration(t.Refresh, 60*time.Second),
		})
	}
	return cfg
}

func loadRedisPassword(cwd string) (string, error) {
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.RedisPassword, nil
}

func applyOverrides(cfg *Config, ov *envOverrides) {
	if ov.ServerPort != nil && *ov.ServerPort != "" {
		cfg.ServerPort = *ov.ServerPort
	}
	if ov.WeatherAPIURL != nil && *ov.WeatherAPIURL != "" {
		cfg.WeatherAPIURL = *ov.WeatherAPIURL
	}
	if ov.WeatherAPITimeout != nil {
		cfg.WeatherAPITimeout = *ov.WeatherAPITimeout
	}
	if ov.CacheBackend != nil && *ov.CacheBackend != "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(*ov.CacheBackend))
	}
	if ov.CacheTTL != nil && *ov.CacheTTL > 0 {
		cfg.CacheTTL = *ov.CacheTTL
	}
	if ov.MemcachedAddrs != nil && *ov.MemcachedAddrs != "" {
		cfg.MemcachedAddrs = strings.TrimSpace(*ov.MemcachedAddrs)
	}
	if ov.RedisAddr != nil && *ov.RedisAddr != "" {
		cfg.RedisAddr = strings.TrimSpace(*ov.RedisAddr)
	}
	if ov.RedisPassword != nil && *ov.RedisPassword != "" {
		cfg.RedisPassword = *ov.RedisPassword
	}
	if ov.RedisDB != nil {
		cfg.RedisDB = *ov.RedisDB
	}
	if ov.MaxDataAge != nil && *ov.MaxDataAge > 0 {
		cfg.MaxDataAge = *ov.MaxDataAge
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Auto-adjusts RequestTimeout to exceed WeatherAPITimeout.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case CacheBackendInMemory, CacheBackendMemcached, CacheBackendRedis:
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.RedisDB < 0 || cfg.RedisDB > 15 {
		return fmt.Errorf("cache.redis.db must be between 0 and 15, got %d", cfg.RedisDB)
	}

	seen := make(map[string]bool, len(cfg.Things))
	for i, t := range cfg.Things {
		id, err := validation.ValidateThingID(t.ID)
		if err != nil {
			return fmt.Errorf("things[%d].id: %w", i, err)
		}
		if seen[id] {
			return fmt.Errorf("things[%d].id: duplicate %q", i, id)
		}
		seen[id] = true
		if _, err := validation.ValidateLocation(t.Location); err != nil {
			return fmt.Errorf("things[%d].location: %w", i, err)
		}
	}
	return nil
}
