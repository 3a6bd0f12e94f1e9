package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
//
// Engine tunables (readiness windows, presence grace, monitor cadence) may
// additionally be loaded from an optional YAML file so operators can adjust
// them without touching secrets.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Engine EngineConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// EngineConfig carries the coordination engine tunables.
// Zero values are replaced with defaults in Validate().
type EngineConfig struct {
	// PreWindowMinutes is how long before the scheduled instant a session becomes joinable.
	PreWindowMinutes int `yaml:"pre_window_minutes"`
	// PostWindowMinutes is how long after the scheduled instant an unstarted session survives.
	PostWindowMinutes int `yaml:"post_window_minutes"`
	// PresenceGraceSeconds is the heartbeat timeout before a user is reported offline.
	PresenceGraceSeconds int `yaml:"presence_grace_seconds"`
	// MonitorIntervalSeconds is the poll cadence of the per-user session monitor.
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds"`
	// ExpireSweepSeconds is the cadence of the background expiry sweep.
	ExpireSweepSeconds int `yaml:"expire_sweep_seconds"`
	// HeartbeatRatePerSec limits heartbeat requests per client IP.
	HeartbeatRatePerSec float64 `yaml:"heartbeat_rate_per_sec"`
	// CacheTTLSeconds is the TTL for cached read-only responses.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

func (e EngineConfig) PreWindow() time.Duration {
	return time.Duration(e.PreWindowMinutes) * time.Minute
}

func (e EngineConfig) PostWindow() time.Duration {
	return time.Duration(e.PostWindowMinutes) * time.Minute
}

func (e EngineConfig) PresenceGrace() time.Duration {
	return time.Duration(e.PresenceGraceSeconds) * time.Second
}

func (e EngineConfig) MonitorInterval() time.Duration {
	return time.Duration(e.MonitorIntervalSeconds) * time.Second
}

func (e EngineConfig) ExpireSweep() time.Duration {
	return time.Duration(e.ExpireSweepSeconds) * time.Second
}

func (e EngineConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	if path := strings.TrimSpace(os.Getenv("ENGINE_CONFIG_FILE")); path != "" {
		eng, err := loadEngineFile(path)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("ENGINE_CONFIG_FILE: %w", err))
		} else {
			c.Engine = eng
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// loadEngineFile reads engine tunables from a YAML file.
func loadEngineFile(path string) (EngineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return EngineConfig{}, err
	}
	defer f.Close()

	var eng EngineConfig
	if err := yaml.NewDecoder(f).Decode(&eng); err != nil {
		return EngineConfig{}, err
	}
	return eng, nil
}

// Validate checks required settings and fills in defaults, so it needs the
// pointer receiver: callers rely on the defaulted Engine tunables.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Engine.PreWindowMinutes < 0 || c.Engine.PostWindowMinutes < 0 {
		errs = append(errs, errors.New("engine windows must not be negative"))
	}
	if c.Engine.PreWindowMinutes == 0 {
		c.Engine.PreWindowMinutes = 15
	}
	if c.Engine.PostWindowMinutes == 0 {
		c.Engine.PostWindowMinutes = 30
	}
	if c.Engine.PresenceGraceSeconds <= 0 {
		c.Engine.PresenceGraceSeconds = 30
	}
	if c.Engine.MonitorIntervalSeconds <= 0 {
		c.Engine.MonitorIntervalSeconds = 10
	}
	if c.Engine.ExpireSweepSeconds <= 0 {
		c.Engine.ExpireSweepSeconds = 60
	}
	if c.Engine.HeartbeatRatePerSec <= 0 {
		c.Engine.HeartbeatRatePerSec = 2
	}
	if c.Engine.CacheTTLSeconds <= 0 {
		c.Engine.CacheTTLSeconds = 5
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
