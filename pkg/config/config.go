package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string        `env:"SERVER_PORT"      env-default:"8080"`
	Environment     string        `env:"ENVIRONMENT"      env-default:"development"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"  env-separator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	Firebase  FirebaseConfig
	Store     StoreConfig
	Blob      BlobConfig
	Presence  PresenceConfig
	Chat      ChatConfig
	Messaging MessagingConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type FirebaseConfig struct {
	ProjectID          string `env:"FIREBASE_PROJECT_ID"`
	APIKey             string `env:"FIREBASE_API_KEY"`
	ServiceAccountJSON string `env:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	ServiceAccountPath string `env:"FIREBASE_SERVICE_ACCOUNT_PATH"`
}

// StoreConfig selects the document store driver: "firestore" or "memory".
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" env-default:"firestore"`
}

// BlobConfig selects where profile pictures and chat images go: "gcs" or "s3".
type BlobConfig struct {
	Driver        string `env:"BLOB_DRIVER"         env-default:"gcs"`
	StorageBucket string `env:"FIREBASE_STORAGE_BUCKET"`
	S3Bucket      string `env:"S3_BUCKET_NAME"`
	S3Region      string `env:"AWS_REGION"          env-default:"us-east-1"`
	MaxUploadSize int64  `env:"BLOB_MAX_UPLOAD_SIZE" env-default:"5242880"`
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" env-default:"15s"`
	StatusThreshold   time.Duration `env:"PRESENCE_STATUS_THRESHOLD"   env-default:"30s"`
	TopicThreshold    time.Duration `env:"PRESENCE_TOPIC_THRESHOLD"    env-default:"30s"`
	WriteTimeout      time.Duration `env:"PRESENCE_WRITE_TIMEOUT"      env-default:"10s"`
}

type ChatConfig struct {
	MessagesPageSize int `env:"CHAT_MESSAGES_PAGE_SIZE" env-default:"20"`
	TopicsPageSize   int `env:"TOPICS_PAGE_SIZE"        env-default:"20"`
}

// MessagingConfig configures domain event publishing. An empty URL
// disables AMQP and events are only logged.
type MessagingConfig struct {
	AMQPURL  string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" env-default:"topicmeet.events"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" env-default:"topicmeet-api"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"text"`
}

func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "firestore", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be firestore or memory, got %q", c.Store.Driver)
	}

	switch c.Blob.Driver {
	case "gcs":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required for the s3 blob driver")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be gcs or s3, got %q", c.Blob.Driver)
	}

	if c.Firebase.ProjectID == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}

	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("PRESENCE_HEARTBEAT_INTERVAL must be positive")
	}
	// A single missed tick must not flip a user offline.
	if c.Presence.TopicThreshold < 2*c.Presence.HeartbeatInterval {
		return fmt.Errorf("PRESENCE_TOPIC_THRESHOLD must be at least twice the heartbeat interval")
	}
	if c.Presence.StatusThreshold < 2*c.Presence.HeartbeatInterval {
		return fmt.Errorf("PRESENCE_STATUS_THRESHOLD must be at least twice the heartbeat interval")
	}

	if c.Chat.MessagesPageSize <= 0 || c.Chat.TopicsPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}

	return nil
}

// Bucket returns the GCS bucket, defaulting to the Firebase project's
// default bucket.
func (c BlobConfig) Bucket(projectID string) string {
	if c.StorageBucket != "" {
		return c.StorageBucket
	}
	return projectID + ".appspot.com"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
