package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RAWG      RAWGConfig      `mapstructure:"rawg"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Import    ImportConfig    `mapstructure:"import"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Recalc    RecalcConfig    `mapstructure:"recalc"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Mode            string   `mapstructure:"mode"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ConnectionString returns the DSN for the configured driver.
func (c DatabaseConfig) ConnectionString() string {
	if c.Driver == "postgres" {
		return c.DSN
	}
	return c.Path
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	QueueName string `mapstructure:"queue_name"`
}

type RAWGConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RateLimitCooldown   time.Duration `mapstructure:"rate_limit_cooldown"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries"`
}

type RateLimitConfig struct {
	MaxRequests  int           `mapstructure:"max_requests"`
	Window       time.Duration `mapstructure:"window"`
	MinSpacing   time.Duration `mapstructure:"min_spacing"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
}

type AssetsConfig struct {
	Root      string        `mapstructure:"root"`
	Retries   int           `mapstructure:"retries"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StorageConfig configures the optional object-storage mirror for downloaded screenshots.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type ImportConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PageSize        int           `mapstructure:"page_size"`
	AssetsPerRecord int           `mapstructure:"assets_per_record"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	BatchDelay      time.Duration `mapstructure:"batch_delay"`
	Ordering        string        `mapstructure:"ordering"`
	Platforms       string        `mapstructure:"platforms"`
	Genres          string        `mapstructure:"genres"`
}

type SyncConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Schedule     string `mapstructure:"schedule"`
	LookbackDays int    `mapstructure:"lookback_days"`
	BatchSize    int    `mapstructure:"batch_size"`
}

type RecalcConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	PageSize  int `mapstructure:"page_size"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file, environment and defaults.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
// Returns:
//   - *Config: populated configuration.
//   - error: non-nil if the file exists but cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are read from their conventional env names
	_ = v.BindEnv("rawg.api_key", "RAWG_API_KEY")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allow_all_origins", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/shotguess.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_name", "shotguess:batches")

	v.SetDefault("rawg.base_url", "https://api.rawg.io/api")
	v.SetDefault("rawg.timeout", 30*time.Second)
	v.SetDefault("rawg.rate_limit_cooldown", 60*time.Second)
	v.SetDefault("rawg.max_rate_limit_retries", 0)

	v.SetDefault("ratelimit.max_requests", 20)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("ratelimit.min_spacing", 3000*time.Millisecond)
	v.SetDefault("ratelimit.safety_margin", 100*time.Millisecond)

	v.SetDefault("assets.root", "./data/screenshots")
	v.SetDefault("assets.retries", 3)
	v.SetDefault("assets.base_delay", time.Second)
	v.SetDefault("assets.timeout", 30*time.Second)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "shotguess")
	v.SetDefault("storage.prefix", "screenshots")

	v.SetDefault("import.batch_size", 100)
	v.SetDefault("import.page_size", 40)
	v.SetDefault("import.assets_per_record", 5)
	v.SetDefault("import.checkpoint_every", 10)
	v.SetDefault("import.batch_delay", 0)
	v.SetDefault("import.ordering", "-added")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedule", "0 0 4 * * *")
	v.SetDefault("sync.lookback_days", 14)
	v.SetDefault("sync.batch_size", 50)

	v.SetDefault("recalc.batch_size", 500)
	v.SetDefault("recalc.page_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}
