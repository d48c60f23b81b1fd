package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	LogLevel     string        `mapstructure:"log_level"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Secret       string        `mapstructure:"secret"`

	Workers WorkersConfig `mapstructure:"workers"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Store   StoreConfig   `mapstructure:"store"`
	Events  EventsConfig  `mapstructure:"events"`
	Turn    TurnConfig    `mapstructure:"turn"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

type WorkersConfig struct {
	Max          int           `mapstructure:"max"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type EngineConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	ListenIP    string        `mapstructure:"listen_ip"`
	AnnouncedIP string        `mapstructure:"announced_ip"`
	MinPort     uint16        `mapstructure:"min_port"`
	MaxPort     uint16        `mapstructure:"max_port"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	// initial outgoing bitrate hint for new transports, bps
	InitialBitrate uint32 `mapstructure:"initial_bitrate"`
}

// StoreConfig selects the call store: the chat API when APIBase is set,
// otherwise an in-memory store seeded with Admins (room id -> user ids).
type StoreConfig struct {
	APIBase string              `mapstructure:"api_base"`
	Secret  string              `mapstructure:"secret"`
	Timeout time.Duration       `mapstructure:"timeout"`
	Admins  map[string][]string `mapstructure:"admins"`
}

type EventsConfig struct {
	AMQPURL   string `mapstructure:"amqp_url"`
	Exchange  string `mapstructure:"exchange"`
	QueueSize int    `mapstructure:"queue_size"`
	Workers   int    `mapstructure:"workers"`
}

type TurnConfig struct {
	Secret string        `mapstructure:"secret"`
	Host   string        `mapstructure:"host"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LimitsConfig struct {
	JoinPerMinute int `mapstructure:"join_per_minute"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("workers_max", cfg.Workers.Max).Msg("config ready")
	return &cfg, nil
}

// every key needs a default for AutomaticEnv to see it on Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "")

	v.SetDefault("workers.max", 4)
	v.SetDefault("workers.restart_delay", "2s")

	v.SetDefault("engine.timeout", "10s")
	v.SetDefault("engine.listen_ip", "0.0.0.0")
	v.SetDefault("engine.announced_ip", "")
	v.SetDefault("engine.min_port", 40000)
	v.SetDefault("engine.max_port", 40100)
	v.SetDefault("engine.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("engine.initial_bitrate", 1000000)

	v.SetDefault("store.api_base", "")
	v.SetDefault("store.secret", "")
	v.SetDefault("store.timeout", "5s")

	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", "voice.calls")
	v.SetDefault("events.queue_size", 256)
	v.SetDefault("events.workers", 2)

	v.SetDefault("turn.secret", "")
	v.SetDefault("turn.host", "")
	v.SetDefault("turn.ttl", "24h")

	v.SetDefault("limits.join_per_minute", 30)
}

func (c *Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("secret is required to verify tokens")
	}
	if c.Engine.MinPort > c.Engine.MaxPort {
		return fmt.Errorf("engine port range %d-%d is empty", c.Engine.MinPort, c.Engine.MaxPort)
	}
	if c.Workers.Max < 1 {
		return fmt.Errorf("workers.max must be positive, got %d", c.Workers.Max)
	}
	return nil
}
