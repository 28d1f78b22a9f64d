package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries the server's runtime settings, read from the environment
// with an optional .env overlay.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	DeviceToken string
	RefSecret   string

	Blob struct {
		Backend  string // "fs" or "s3"
		BaseDir  string // fs backend root
		SpoolDir string // staging area for in-flight binary transfers
	}

	Minio struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		Secure    bool
	}
}

func Load() *Config {
	// missing .env is fine, the environment wins anyway
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		DatabaseDSN: getenv("DATABASE_URL", "medisync.db"),
		DeviceToken: os.Getenv("DEVICE_TOKEN"),
		RefSecret:   getenv("REFERENCE_SECRET", "dev-reference-secret"),
	}

	cfg.Blob.Backend = getenv("BLOB_BACKEND", "fs")
	cfg.Blob.BaseDir = getenv("BLOB_DIR", "./blobs")
	cfg.Blob.SpoolDir = getenv("SPOOL_DIR", "./spool")

	cfg.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.Minio.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.Minio.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.Minio.Bucket = getenv("MINIO_BUCKET", "medisync")
	cfg.Minio.Secure = os.Getenv("MINIO_SECURE") == "true"

	return cfg
}

// AgentConfig carries the capture-device agent's settings.
type AgentConfig struct {
	ServerURL   string
	DeviceToken string
	DeviceID    string
	QueuePath   string // local SQLite queue file
	OwnerID     int64
}

func LoadAgent() *AgentConfig {
	_ = godotenv.Load()

	return &AgentConfig{
		ServerURL:   getenv("SERVER_URL", "http://localhost:8080"),
		DeviceToken: os.Getenv("DEVICE_TOKEN"),
		DeviceID:    getenv("DEVICE_ID", hostnameOr("capture-device")),
		QueuePath:   getenv("AGENT_QUEUE", "agent.db"),
		OwnerID:     getenvInt64("OWNER_ID", 0),
	}
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
