// Package config loads service settings from defaults, an optional config
// file, an optional .env file and MF_-prefixed environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MF_REDIS_URL
const EnvPrefix = "MF"

var envKeyReplacer = strings.NewReplacer(".", "_")

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ytdlp    YtdlpConfig    `mapstructure:"ytdlp"`
	Health   HealthConfig   `mapstructure:"health"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Cookies  CookiesConfig  `mapstructure:"cookies"`
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Twitter  TwitterConfig  `mapstructure:"twitter"`
	Insta    InstaConfig    `mapstructure:"instagram"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig points at the cache and job queue. An empty URL disables both.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// StorageConfig is the S3-compatible bucket for diagnostic snapshots
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Enabled   bool   `mapstructure:"enabled"`
}

// RabbitMQConfig enables event publishing when URL is set
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// SecretGenerated is set when no secret was configured and a random
	// per-process one is in use
	SecretGenerated bool `mapstructure:"-"`
}

type YtdlpConfig struct {
	Path               string        `mapstructure:"path"`
	CookiesFile        string        `mapstructure:"cookies_file"`
	CookiesFromBrowser string        `mapstructure:"cookies_from_browser"`
	SocketTimeout      time.Duration `mapstructure:"socket_timeout"`
}

type HealthConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// TimeoutsConfig bounds each extraction attempt per provider
type TimeoutsConfig struct {
	YouTube   time.Duration `mapstructure:"youtube"`
	Instagram time.Duration `mapstructure:"instagram"`
	TikTok    time.Duration `mapstructure:"tiktok"`
	Twitter   time.Duration `mapstructure:"twitter"`
}

// CookiesConfig holds fallback session cookies per provider. Values saved
// through the admin API take precedence.
type CookiesConfig struct {
	YouTube   string        `mapstructure:"youtube"`
	Instagram string        `mapstructure:"instagram"`
	TikTok    string        `mapstructure:"tiktok"`
	Twitter   string        `mapstructure:"twitter"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type YouTubeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type TwitterConfig struct {
	BearerToken string   `mapstructure:"bearer_token"`
	QueryID     string   `mapstructure:"query_id"`
	Denylist    []string `mapstructure:"denylist"`
}

type InstaConfig struct {
	ChromePath string `mapstructure:"chrome_path"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type JobsConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.shutdown_timeout": 30 * time.Second,

	"log.level":  "info",
	"log.format": "json",

	"db.host":     "localhost",
	"db.port":     "5432",
	"db.user":     "mediafetch",
	"db.password": "mediafetch_dev_password",
	"db.name":     "mediafetch",
	"db.sslmode":  "disable",

	"redis.url": "redis://localhost:6380",

	"storage.endpoint":   "localhost:9000",
	"storage.access_key": "minioadmin",
	"storage.secret_key": "minioadmin",
	"storage.bucket":     "mediafetch-snapshots",
	"storage.region":     "us-east-1",
	"storage.use_ssl":    false,
	"storage.enabled":    true,

	"rabbitmq.url":      "",
	"rabbitmq.exchange": "mediafetch.events",

	"auth.jwt_secret": "",

	"ytdlp.path":                 "yt-dlp",
	"ytdlp.cookies_file":         "",
	"ytdlp.cookies_from_browser": "",
	"ytdlp.socket_timeout":       15 * time.Second,

	"health.failure_threshold": 3,
	"health.cooldown":          5 * time.Minute,

	"timeouts.youtube":   30 * time.Second,
	"timeouts.instagram": 30 * time.Second,
	"timeouts.tiktok":    30 * time.Second,
	"timeouts.twitter":   30 * time.Second,

	"cookies.youtube":   "",
	"cookies.instagram": "",
	"cookies.tiktok":    "",
	"cookies.twitter":   "",
	"cookies.cache_ttl": time.Minute,

	"youtube.api_key": "",

	"twitter.bearer_token": "",
	"twitter.query_id":     "",
	"twitter.denylist":     []string{},

	"instagram.chrome_path": "",

	"cache.ttl": 10 * time.Minute,

	"jobs.workers":     3,
	"jobs.max_retries": 3,
	"jobs.timeout":     3 * time.Minute,
}

// Load reads the configuration. configFile may be empty, in which case
// config.yaml (or .json/.toml) is looked up in the working directory and
// /etc/mediafetch; a missing file is not an error.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mediafetch")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDefaultSecret()
		cfg.Auth.SecretGenerated = true
	}
	if cfg.Jobs.Workers <= 0 {
		cfg.Jobs.Workers = 3
	}
	return &cfg, nil
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
