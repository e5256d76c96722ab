package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName      string        `env:"SERVICE_NAME" envDefault:"diagnosis-chatbot"`
	Environment      string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort         int           `env:"HTTP_PORT" envDefault:"8000"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RoutePrefix      string        `env:"ROUTE_PREFIX" envDefault:"/diagnosis_chatbot"`
	CORSAllowOrigins []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"20971520"`

	// database
	DBDriver       string        `env:"DB_DRIVER" envDefault:"mysql"`
	MySQLUser      string        `env:"MYSQL_USER"`
	MySQLPassword  string        `env:"MYSQL_PASSWORD"`
	MySQLEndpoint  string        `env:"MYSQL_ENDPOINT"`
	MySQLDatabase  string        `env:"MYSQL_DATABASE" envDefault:"diag_chatbot_db"`
	MySQLParams    string        `env:"MYSQL_PARAMS" envDefault:"charset=utf8mb4&parseTime=true&loc=Local"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"diag_chatbot.db"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	DBAutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	// object storage
	S3Region       string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKeyID  string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `env:"S3_SECRET_ACCESS_KEY"`
	S3Bucket       string        `env:"S3_BUCKET"`
	S3KMSKeyARN    string        `env:"S3_KMS_KEY_ARN"`
	S3Endpoint     string        `env:"S3_ENDPOINT"`
	S3UsePathStyle bool          `env:"S3_USE_PATH_STYLE" envDefault:"false"`
	S3PresignTTL   time.Duration `env:"S3_PRESIGN_TTL" envDefault:"20m"`

	// AI provider
	AIProvider      string        `env:"AI_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	ChatModel       string        `env:"CHAT_MODEL" envDefault:"gpt-4o"`
	ClassifyModel   string        `env:"CLASSIFY_MODEL" envDefault:"gpt-4"`
	TranscribeModel string        `env:"TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	AITimeout       time.Duration `env:"AI_TIMEOUT" envDefault:"90s"`

	// redis (session lock)
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	SessionLockTTL time.Duration `env:"SESSION_LOCK_TTL" envDefault:"30s"`

	// rabbitMQ (object cleanup)
	RabbitURL            string        `env:"RABBIT_URL"`
	RabbitQueue          string        `env:"RABBIT_QUEUE" envDefault:"chat_object_cleanup"`
	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	CleanupSweepInterval time.Duration `env:"CLEANUP_SWEEP_INTERVAL" envDefault:"0s"`
	CleanupGrace         time.Duration `env:"CLEANUP_GRACE" envDefault:"15m"`

	// auth, disabled when empty
	JWTSecret string `env:"JWT_SECRET"`
}

// Load parses environment variables into Config. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

func (c *Config) normalize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.MySQLEndpoint = strings.TrimSpace(c.MySQLEndpoint)
	c.S3Bucket = strings.TrimSpace(c.S3Bucket)
	c.S3AccessKeyID = strings.TrimSpace(c.S3AccessKeyID)
	c.S3SecretKey = strings.TrimSpace(c.S3SecretKey)
	c.S3Endpoint = strings.TrimSpace(c.S3Endpoint)
	c.AIProvider = strings.ToLower(strings.TrimSpace(c.AIProvider))
	c.RoutePrefix = "/" + strings.Trim(strings.TrimSpace(c.RoutePrefix), "/")
	if c.RoutePrefix == "/" {
		c.RoutePrefix = ""
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 20 * 1024 * 1024
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	if c.WorkerConcurrency > 50 {
		c.WorkerConcurrency = 50
	}
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql":
		if c.MySQLEndpoint == "" {
			return fmt.Errorf("MYSQL_ENDPOINT is required when DB_DRIVER=mysql")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER=%q", c.DBDriver)
	}
	if c.S3PresignTTL <= 0 {
		return fmt.Errorf("S3_PRESIGN_TTL must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// MySQLDSN builds a go-sql-driver DSN for the given database. An empty name
// yields a server-level connection (used to create or drop databases).
func (c *Config) MySQLDSN(database string) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", c.MySQLUser, c.MySQLPassword, c.MySQLEndpoint, database)
	if c.MySQLParams != "" {
		dsn += "?" + c.MySQLParams
	}
	return dsn
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
