package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Overpass  ServiceConfig   `mapstructure:"overpass"`
	Weather   ServiceConfig   `mapstructure:"weather"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
}

type ServerConfig struct {
	Port         int   `mapstructure:"port"`
	ReadTimeout  int   `mapstructure:"read_timeout"`
	WriteTimeout int   `mapstructure:"write_timeout"`
	BodyLimit    int64 `mapstructure:"body_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// ServiceConfig configures an external HTTP data service.
type ServiceConfig struct {
	URL string `mapstructure:"url"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `mapstructure:"timeout"`
	// Retries is the number of extra attempts on rate-limit or unavailable responses.
	Retries int `mapstructure:"retries"`
	// CacheTTL is how long answers stay cached, in seconds. 0 disables caching.
	CacheTTL int `mapstructure:"cache_ttl"`
}

func (s ServiceConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// AnalysisConfig holds the default analysis parameters and scheduling knobs.
type AnalysisConfig struct {
	SearchRadiusM  float64 `mapstructure:"search_radius_m"`
	MinHeightM     float64 `mapstructure:"min_height_m"`
	SkipDownsample bool    `mapstructure:"skip_downsample"`
	SkipWeather    bool    `mapstructure:"skip_weather"`
	AddRandomness  bool    `mapstructure:"add_randomness"`
	PointDelayMS   int     `mapstructure:"point_delay_ms"`
	Workers        int     `mapstructure:"workers"`
	// BuildingSource selects "overpass" or "postgres".
	BuildingSource string `mapstructure:"building_source"`
}

func (a AnalysisConfig) PointDelay() time.Duration {
	return time.Duration(a.PointDelayMS) * time.Millisecond
}

func (s ServiceConfig) validate(name string) []string {
	var errs []string
	if s.URL == "" {
		errs = append(errs, name+".url is required")
	}
	if s.Timeout <= 0 {
		errs = append(errs, name+".timeout must be positive")
	}
	if s.Retries < 0 {
		errs = append(errs, name+".retries must not be negative")
	}
	if s.CacheTTL < 0 {
		errs = append(errs, name+".cache_ttl must not be negative")
	}
	return errs
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	SetDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GPSGUARD_ANALYSIS_WORKERS → analysis.workers
	v.SetEnvPrefix("GPSGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.body_limit", 10*1024*1024)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gpsguard")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "gpsguard")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "gpsguard-analysis")
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout", 30)
	v.SetDefault("overpass.retries", 2)
	v.SetDefault("overpass.cache_ttl", 3600)
	v.SetDefault("weather.url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.timeout", 10)
	v.SetDefault("weather.retries", 2)
	v.SetDefault("weather.cache_ttl", 1800)
	v.SetDefault("analysis.search_radius_m", 50.0)
	v.SetDefault("analysis.min_height_m", 15.0)
	v.SetDefault("analysis.skip_downsample", false)
	v.SetDefault("analysis.skip_weather", false)
	v.SetDefault("analysis.add_randomness", false)
	v.SetDefault("analysis.point_delay_ms", 100)
	v.SetDefault("analysis.workers", 1)
	v.SetDefault("analysis.building_source", "overpass")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	errs = append(errs, c.Overpass.validate("overpass")...)
	errs = append(errs, c.Weather.validate("weather")...)
	if c.Analysis.SearchRadiusM < 10 || c.Analysis.SearchRadiusM > 200 {
		errs = append(errs, fmt.Sprintf("analysis.search_radius_m must be 10-200, got %v", c.Analysis.SearchRadiusM))
	}
	if c.Analysis.MinHeightM < 5 || c.Analysis.MinHeightM > 100 {
		errs = append(errs, fmt.Sprintf("analysis.min_height_m must be 5-100, got %v", c.Analysis.MinHeightM))
	}
	if c.Analysis.PointDelayMS < 0 {
		errs = append(errs, "analysis.point_delay_ms must not be negative")
	}
	if c.Analysis.Workers <= 0 {
		errs = append(errs, "analysis.workers must be positive")
	}
	switch c.Analysis.BuildingSource {
	case "overpass", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("analysis.building_source must be overpass or postgres, got %q", c.Analysis.BuildingSource))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
