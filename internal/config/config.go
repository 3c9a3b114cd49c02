package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL string // CHAT_DATABASE_URL (required)
	HTTPAddr    string // CHAT_HTTP_ADDR (default ":8080")
	NATSURL     string // CHAT_NATS_URL (optional, empty = bridge disabled)
	AuthToken   string // CHAT_AUTH_TOKEN (optional, empty = auth disabled)

	// Delivery settings
	SendTimeout  time.Duration // CHAT_SEND_TIMEOUT (default 1s)
	FailureLimit int           // fixed at 3 consecutive failures

	// Archive settings
	ArchiveInterval   time.Duration // CHAT_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        // CHAT_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // CHAT_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // CHAT_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // CHAT_ARCHIVE_S3_PREFIX (default "chat/events")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("CHAT_DATABASE_URL"),
		HTTPAddr:          envOrDefault("CHAT_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("CHAT_NATS_URL"),
		AuthToken:         os.Getenv("CHAT_AUTH_TOKEN"),
		FailureLimit:      3,
		ArchiveS3Bucket:   os.Getenv("CHAT_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("CHAT_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("CHAT_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("CHAT_ARCHIVE_S3_PREFIX", "chat/events"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("CHAT_DATABASE_URL is required")
	}

	timeout, err := time.ParseDuration(envOrDefault("CHAT_SEND_TIMEOUT", "1s"))
	if err != nil {
		return nil, fmt.Errorf("CHAT_SEND_TIMEOUT: %w", err)
	}
	c.SendTimeout = timeout

	if v := os.Getenv("CHAT_ARCHIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CHAT_ARCHIVE_INTERVAL: %w", err)
		}
		c.ArchiveInterval = d
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
