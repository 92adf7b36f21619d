package bootstrap

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config 存储从环境变量或 .env 文件加载的配置
type Config struct {
	DBUser     string `envconfig:"DB_USER" default:"root"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBHost     string `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort     string `envconfig:"DB_PORT" default:"3306"`
	DBName     string `envconfig:"DB_NAME" default:"connect_pro"`

	RedisAddr     string `envconfig:"REDIS_ADDR" required:"true"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string `envconfig:"REDIS_KEY_PREFIX" default:"cp:"`

	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`
	JWTExpiryHours int    `envconfig:"JWT_EXPIRY_HOURS" default:"24"`

	ServerPort        string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	AppEnv            string `envconfig:"APP_ENV" default:"development"`
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:3000"`

	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"100"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1s"`

	GuestSessionDuration time.Duration `envconfig:"GUEST_SESSION_DURATION" default:"170s"`
	ReactionTTL          time.Duration `envconfig:"REACTION_TTL" default:"4s"`
	RoomSyncTimeout      time.Duration `envconfig:"ROOM_SYNC_TIMEOUT" default:"1s"`
	SimulateSpeakers     bool          `envconfig:"SIMULATE_SPEAKERS" default:"true"`
	CheckpointSchedule   string        `envconfig:"CHECKPOINT_SCHEDULE" default:"@every 1m"`
}

// LoadConfig 先加载 .env (如果存在)，再从环境变量解码配置
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 允许只使用环境变量

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.GuestSessionDuration <= 0 {
		return nil, fmt.Errorf("GUEST_SESSION_DURATION must be positive, got %s", cfg.GuestSessionDuration)
	}
	return &cfg, nil
}
