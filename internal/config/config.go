package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "quote-stream-service"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys"`
	Port                    map[string]string         `mapstructure:"port"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	Nats                    NatsConfig                `mapstructure:"nats"`
	Feed                    FeedConfig                `mapstructure:"feed"`
	Stream                  StreamConfig              `mapstructure:"stream"`
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	UserID    string `mapstructure:"user_id"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type NatsConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

// FeedConfig drives the receiver, distributor and supervisor running on a feed node.
type FeedConfig struct {
	UpstreamURL        string        `mapstructure:"upstream_url"`
	UpstreamToken      string        `mapstructure:"upstream_token"`
	SentinelSuffix     string        `mapstructure:"sentinel_suffix"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	SupervisorInterval time.Duration `mapstructure:"supervisor_interval"`
	LeaseTTL           time.Duration `mapstructure:"lease_ttl"`
	TerminateTimeout   time.Duration `mapstructure:"terminate_timeout"`
}

type StreamConfig struct {
	ClientBufferSize int           `mapstructure:"client_buffer_size"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)
	viper.SetDefault("port.http", "8080")
	viper.SetDefault("port.grpc", "9090")

	viper.SetDefault("feed.upstream_url", "wss://ws.finnhub.io")
	viper.SetDefault("feed.sentinel_suffix", "AAPL")
	viper.SetDefault("feed.reconnect_attempts", 3)
	viper.SetDefault("feed.reconnect_delay", 15*time.Second)
	viper.SetDefault("feed.reconcile_interval", 120*time.Second)
	viper.SetDefault("feed.staleness_threshold", 30*time.Second)
	viper.SetDefault("feed.supervisor_interval", 10*time.Second)
	viper.SetDefault("feed.lease_ttl", 90*time.Second)
	viper.SetDefault("feed.terminate_timeout", 5*time.Second)

	viper.SetDefault("stream.client_buffer_size", 64)
	viper.SetDefault("stream.write_wait", 5*time.Second)
	viper.SetDefault("stream.pong_wait", 60*time.Second)
	viper.SetDefault("stream.ping_period", 50*time.Second)
}

func LoadConfig(configPath string) error {
	viper.Reset()
	setDefaults()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
