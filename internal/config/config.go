package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIPort        string        `envconfig:"API_PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	CORSOrigins    []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	// Store
	StoreBackend      string `envconfig:"STORE_BACKEND" default:"mongo"`
	MongoURI          string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase     string `envconfig:"MONGO_DATABASE" default:"fablab"`
	MongoTransactions bool   `envconfig:"MONGO_TRANSACTIONS" default:"true"`

	// Auth
	JWTSecret   string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	JWTIssuer   string `envconfig:"AUTH_ISSUER"`
	JWTAudience string `envconfig:"AUTH_AUDIENCE"`

	// Cache, empty address disables it
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	// Messaging
	RabbitURL          string        `envconfig:"RABBIT_URL"`
	RabbitExchange     string        `envconfig:"RABBIT_EXCHANGE" default:"fablab.events"`
	NotifyQueue        string        `envconfig:"NOTIFY_QUEUE" default:"fablab.notifications"`
	NotifyBindings     []string      `envconfig:"NOTIFY_BINDINGS" default:"order.*"`
	NotifyDLX          string        `envconfig:"NOTIFY_DLX"`
	NotifyPrefetch     int           `envconfig:"NOTIFY_PREFETCH" default:"8"`
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`

	// Object storage
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"local"`
	UploadDir      string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	PublicBaseURL  string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"S3_SECRET_KEY"`
	S3PublicURL    string `envconfig:"S3_PUBLIC_URL"`

	// Mail (worker only)
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	MailFrom     string `envconfig:"MAIL_FROM" default:"fablab@localhost"`
	StaffEmail   string `envconfig:"STAFF_EMAIL" default:"fablab-staff@localhost"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must not be empty")
	}
	switch c.StoreBackend {
	case "mongo", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be mongo or memory, got %q", c.StoreBackend)
	}
	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", c.StorageBackend)
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + c.APIPort
}
