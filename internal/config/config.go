package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// minSessionKeyLength is the shortest session key accepted for signing cookies.
const minSessionKeyLength = 32

// Config holds the configuration for the feedbackr server.
type Config struct {
	// Listen is the address the server will listen on.
	Listen string `yaml:"listen" mapstructure:"listen"`
	// ServerURL is the public base URL of the server, used in e-mails.
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	// SessionKey is the key used to sign the session cookie.
	SessionKey string `yaml:"session_key" mapstructure:"session_key"`
	// SessionMaxAge is the maximum age of a session in seconds.
	SessionMaxAge int `yaml:"session_max_age" mapstructure:"session_max_age"`
	// SecureCookie marks the session cookie as https-only.
	SecureCookie bool `yaml:"secure_cookie" mapstructure:"secure_cookie"`
	// BcryptCost is the work factor used when hashing passwords.
	BcryptCost int `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
	// Database holds the database configuration.
	Database *DatabaseConfig `yaml:"database" mapstructure:"database"`
	// Cache holds the profile cache configuration.
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache"`
	// LoginThrottle limits repeated failed logins per username.
	LoginThrottle *LoginThrottleConfig `yaml:"login_throttle" mapstructure:"login_throttle"`
	// Email holds the welcome e-mail configuration.
	Email *EmailConfig `yaml:"email" mapstructure:"email"`
	// Gravatar holds the configuration for Gravatar profile pictures.
	Gravatar *GravatarConfig `yaml:"gravatar" mapstructure:"gravatar"`
	// Jobs holds the intervals of the background jobs.
	Jobs *JobsConfig `yaml:"jobs" mapstructure:"jobs"`
}

// DatabaseConfig holds the database configuration.
type DatabaseConfig struct {
	// Path is the path to the sqlite database file.
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig holds the configuration for the profile cache.
type CacheConfig struct {
	// Type is the cache backend ("memory" or "redis").
	Type CacheType `yaml:"type" mapstructure:"type"`
	// RedisURL is the address of the redis server if using redis.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	// TTL is how long a cached profile stays valid.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// LoginThrottleConfig holds the failed login limits.
type LoginThrottleConfig struct {
	// MaxAttempts is the number of failures allowed per window. 0 disables the throttle.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// Window is the period over which failures are counted.
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// EmailConfig holds the SMTP configuration for welcome e-mails.
type EmailConfig struct {
	// Enabled indicates whether welcome e-mails are sent.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// SMTPHost is the SMTP server host.
	SMTPHost string `yaml:"smtp_host" mapstructure:"smtp_host"`
	// SMTPPort is the SMTP server port.
	SMTPPort int `yaml:"smtp_port" mapstructure:"smtp_port"`
	// Username is the SMTP username.
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the SMTP password.
	Password string `yaml:"password" mapstructure:"password"`
	// FromEmail is the address the e-mails are sent from.
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	// FromName is the display name the e-mails are sent from.
	FromName string `yaml:"from_name" mapstructure:"from_name"`
	// UseTLS enables STARTTLS.
	UseTLS bool `yaml:"use_tls" mapstructure:"use_tls"`
	// UseSSL enables implicit TLS.
	UseSSL bool `yaml:"use_ssl" mapstructure:"use_ssl"`
	// InsecureSkipVerify skips TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// GravatarConfig holds the configuration for Gravatar profile pictures.
type GravatarConfig struct {
	// Enabled indicates whether Gravatar support is enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DefaultImage is the image to use when no Gravatar is found.
	DefaultImage string `yaml:"default_image" mapstructure:"default_image"`
	// Rating is the maximum rating for Gravatar images.
	Rating string `yaml:"rating" mapstructure:"rating"`
	// Size is the size of the image in pixels (1-2048).
	Size int `yaml:"size" mapstructure:"size"`
}

// JobsConfig holds the intervals of the scheduled jobs.
type JobsConfig struct {
	// ThrottleSweepInterval is how often expired login throttle entries are purged.
	ThrottleSweepInterval time.Duration `yaml:"throttle_sweep_interval" mapstructure:"throttle_sweep_interval"`
	// StatsInterval is how often user and feedback counts are logged. 0 disables it.
	StatsInterval time.Duration `yaml:"stats_interval" mapstructure:"stats_interval"`
}

// Load reads the configuration from the specified path and returns a Config struct.
// If path is empty, it will use default search paths for config files.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("FEEDBACKR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.feedbackr")
		v.AddConfigPath("/etc/feedbackr")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("No config file found, using defaults and environment")
	} else {
		log.Debug("Using config file", "file", v.ConfigFileUsed())
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	sanitizeConfig(&c)

	if err := validateConfig(&c); err != nil {
		return nil, err
	}

	return &c, nil
}

// setDefaults sets default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:3003")
	v.SetDefault("server_url", "http://localhost:3003")
	v.SetDefault("session_key", "")
	v.SetDefault("session_max_age", 86400) // 24 hours
	v.SetDefault("secure_cookie", false)
	v.SetDefault("bcrypt_cost", bcrypt.DefaultCost)

	v.SetDefault("database.path", "./data/feedbackr.db")

	v.SetDefault("cache.type", CacheTypeMemory)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("login_throttle.max_attempts", 5)
	v.SetDefault("login_throttle.window", 15*time.Minute)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from_email", "")
	v.SetDefault("email.from_name", "Feedbackr")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("email.insecure_skip_verify", false)

	v.SetDefault("gravatar.enabled", false)
	v.SetDefault("gravatar.default_image", "identicon")
	v.SetDefault("gravatar.rating", "g")
	v.SetDefault("gravatar.size", 80)

	v.SetDefault("jobs.throttle_sweep_interval", 10*time.Minute)
	v.SetDefault("jobs.stats_interval", time.Hour)
}

// validateConfig validates the configuration.
func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("missing feedbackr config")
	}

	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	if c.SessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	if len(c.SessionKey) < minSessionKeyLength {
		return fmt.Errorf("session key must be at least %d characters long", minSessionKeyLength)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("session max age must be greater than 0")
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Cache != nil {
		switch c.Cache.Type {
		case CacheTypeMemory:
		case CacheTypeRedis:
			if c.Cache.RedisURL == "" {
				return fmt.Errorf("Redis URL is required when Redis cache is enabled") //nolint:staticcheck
			}
		default:
			return fmt.Errorf("unknown cache type %q", c.Cache.Type)
		}
	} else {
		c.Cache = &CacheConfig{Type: CacheTypeMemory, TTL: 5 * time.Minute}
	}

	if c.LoginThrottle != nil {
		if c.LoginThrottle.MaxAttempts < 0 {
			return fmt.Errorf("login throttle max attempts must not be negative")
		}
		if c.LoginThrottle.MaxAttempts > 0 && c.LoginThrottle.Window <= 0 {
			return fmt.Errorf("login throttle window must be greater than 0 when the throttle is enabled")
		}
	}

	if c.Email != nil && c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when email is enabled")
		}
		if c.Email.FromEmail == "" {
			return fmt.Errorf("from email is required when email is enabled")
		}
	}

	if c.Gravatar != nil && c.Gravatar.Enabled {
		if c.Gravatar.Size != 0 && (c.Gravatar.Size < 1 || c.Gravatar.Size > 2048) {
			return fmt.Errorf("gravatar size must be between 1 and 2048")
		}
	}

	if c.Jobs == nil {
		c.Jobs = &JobsConfig{ThrottleSweepInterval: 10 * time.Minute}
	}
	if c.Jobs.ThrottleSweepInterval <= 0 {
		return fmt.Errorf("throttle sweep interval must be greater than 0")
	}

	return nil
}

// sanitizeConfig sanitizes the configuration values.
func sanitizeConfig(c *Config) {
	if c == nil {
		return
	}

	c.Listen = urlSanitize(c.Listen)
	c.SessionKey = strings.TrimSpace(c.SessionKey)

	if c.ServerURL != "" {
		c.ServerURL = urlSanitize(c.ServerURL)
	}

	if c.Cache != nil {
		c.Cache.Type = CacheType(strings.ToLower(strings.TrimSpace(string(c.Cache.Type))))
	}
}

func urlSanitize(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}

// ThrottleEnabled reports whether failed logins are rate limited.
func (c *Config) ThrottleEnabled() bool {
	return c != nil && c.LoginThrottle != nil && c.LoginThrottle.MaxAttempts > 0
}
