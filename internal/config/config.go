package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"Server"`
	Database  DatabaseConfig  `mapstructure:"Database"`
	Redis     RedisConfig     `mapstructure:"Redis"`
	Storage   StorageConfig   `mapstructure:"Storage"`
	Upload    UploadConfig    `mapstructure:"Upload"`
	RateLimit RateLimitConfig `mapstructure:"RateLimit"`
	Admin     AdminConfig     `mapstructure:"Admin"`
}

type ServerConfig struct {
	Port   string `mapstructure:"Port"`
	Domain string `mapstructure:"Domain"`
	Secure bool   `mapstructure:"Secure"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"Addr"`
	Password string `mapstructure:"Password"`
	DB       int    `mapstructure:"DB"`
}

type StorageConfig struct {
	Root string `mapstructure:"Root"`
}

type UploadConfig struct {
	MaxSizeBytes int64 `mapstructure:"MaxSizeBytes"`
}

type RateLimitConfig struct {
	AnonLimit  int  `mapstructure:"AnonLimit"`
	AnonWindow int  `mapstructure:"AnonWindow"` // минуты
	AuthLimit  int  `mapstructure:"AuthLimit"`
	AuthWindow int  `mapstructure:"AuthWindow"` // минуты
	FailOpen   bool `mapstructure:"FailOpen"`
}

type AdminConfig struct {
	Token string `mapstructure:"Token"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.Domain", "SERVER_DOMAIN")
	v.BindEnv("Server.Secure", "SERVER_SECURE")
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Redis.Addr", "REDIS_ADDR")
	v.BindEnv("Redis.Password", "REDIS_PASSWORD")
	v.BindEnv("Redis.DB", "REDIS_DB")
	v.BindEnv("Storage.Root", "STORAGE_ROOT")
	v.BindEnv("Upload.MaxSizeBytes", "UPLOAD_MAX_SIZE_BYTES")
	v.BindEnv("RateLimit.AnonLimit", "RATE_LIMIT_ANON_LIMIT")
	v.BindEnv("RateLimit.AnonWindow", "RATE_LIMIT_ANON_WINDOW")
	v.BindEnv("RateLimit.AuthLimit", "RATE_LIMIT_AUTH_LIMIT")
	v.BindEnv("RateLimit.AuthWindow", "RATE_LIMIT_AUTH_WINDOW")
	v.BindEnv("RateLimit.FailOpen", "RATE_LIMIT_FAIL_OPEN")
	v.BindEnv("Admin.Token", "ADMIN_TOKEN")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Проверяем переменные окружения напрямую если конфигурация неполная
	if cfg.Database.Host == "" {
		cfg.Database.Host = v.GetString("DATABASE_HOST")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = v.GetString("DATABASE_PORT")
	}
	if cfg.Database.User == "" {
		cfg.Database.User = v.GetString("DATABASE_USER")
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = v.GetString("DATABASE_NAME")
	}

	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	// Установка значений по умолчанию
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "2525"
	}
	if cfg.Server.Domain == "" {
		cfg.Server.Domain = "localhost"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/var/lib/pixelbay/uploads"
	}
	if cfg.Upload.MaxSizeBytes == 0 {
		cfg.Upload.MaxSizeBytes = 50 * 1024 * 1024 // 50MB
	}
	if cfg.RateLimit.AnonLimit == 0 {
		cfg.RateLimit.AnonLimit = 10
	}
	if cfg.RateLimit.AnonWindow == 0 {
		cfg.RateLimit.AnonWindow = 60 // час
	}
	if cfg.RateLimit.AuthLimit == 0 {
		cfg.RateLimit.AuthLimit = 500
	}
	if cfg.RateLimit.AuthWindow == 0 {
		cfg.RateLimit.AuthWindow = 24 * 60 // сутки
	}
	if !v.IsSet("RateLimit.FailOpen") {
		// Доступность важнее строгости: при недоступном хранилище счетчиков
		// запросы пропускаются. Поведение настраиваемое.
		cfg.RateLimit.FailOpen = true
	}

	return &cfg, nil
}

// BaseURL возвращает канонический адрес сервиса
func (c *ServerConfig) BaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Domain)
}

func (c *RateLimitConfig) AnonWindowDuration() time.Duration {
	return time.Duration(c.AnonWindow) * time.Minute
}

func (c *RateLimitConfig) AuthWindowDuration() time.Duration {
	return time.Duration(c.AuthWindow) * time.Minute
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
