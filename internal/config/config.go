package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI            string
	MongoDatabase       string
	MongoCollection     string
	MongoExactCount     bool
	MongoConnectTimeout time.Duration

	SinkProvider       string
	BucketName         string
	GoogleProjectID    string
	GoogleCredentials  string
	S3Endpoint         string
	S3AccessKey        string
	S3SecretKey        string
	S3UseSSL           bool
	UploadRetries      int
	UploadRetryBackoff time.Duration

	ExportFormat  string
	BatchSize     int
	MaxDocs       int64
	PipelineDepth int
	WorkDir       string
	QuarantineDir string
	SchemaPath    string
	FieldRules    string
	DBPath        string

	BQDataset      string
	BQTable        string
	BQLocation     string
	BQPollInterval time.Duration
	BQSubmitRPS    int

	HTTPAddr     string
	MetricsAddr  string
	KafkaBrokers string
	KafkaTopic   string

	LogLevel  string
	LogFormat string
	LogFile   string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}
	workDir := getEnv("WORK_DIR", filepath.Join(cwd, "out"))

	cfg := Config{
		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017/"),
		MongoDatabase:       getEnv("MONGO_DATABASE", "countly"),
		MongoCollection:     getEnv("MONGO_COLLECTION", "summary"),
		MongoExactCount:     getEnvBool("MONGO_EXACT_COUNT", false),
		MongoConnectTimeout: getEnvDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),

		SinkProvider:       strings.ToLower(getEnv("SINK_PROVIDER", "gcs")),
		BucketName:         getEnv("BUCKET_NAME", "project-06-bucket"),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GoogleCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:           getEnvBool("S3_USE_SSL", true),
		UploadRetries:      getEnvInt("UPLOAD_RETRIES", 3),
		UploadRetryBackoff: getEnvDuration("UPLOAD_RETRY_BACKOFF", 500*time.Millisecond),

		ExportFormat:  strings.ToLower(getEnv("EXPORT_FORMAT", "jsonl")),
		BatchSize:     getEnvInt("BATCH_SIZE", 1000),
		MaxDocs:       getEnvInt64("MAX_DOCS", 0),
		PipelineDepth: getEnvInt("PIPELINE_DEPTH", 0),
		WorkDir:       workDir,
		QuarantineDir: getEnv("QUARANTINE_DIR", filepath.Join(workDir, "quarantine")),
		SchemaPath:    getEnv("SCHEMA_PATH", ""),
		FieldRules:    getEnv("FIELD_RULES", ""),
		DBPath:        getEnv("DB_PATH", filepath.Join(cwd, "data", "runs.db")),

		BQDataset:      getEnv("BQ_DATASET", "summary"),
		BQTable:        getEnv("BQ_TABLE", "table_jsonl"),
		BQLocation:     getEnv("BQ_LOCATION", ""),
		BQPollInterval: getEnvDuration("BQ_POLL_INTERVAL", 2*time.Second),
		BQSubmitRPS:    getEnvInt("BQ_SUBMIT_RPS", 2),

		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:  getEnv("METRICS_ADDR", ""),
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "export.batches"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxDocs < 0 {
		return Config{}, fmt.Errorf("MAX_DOCS must not be negative, got %d", cfg.MaxDocs)
	}
	switch cfg.ExportFormat {
	case "jsonl", "parquet":
	default:
		return Config{}, fmt.Errorf("EXPORT_FORMAT must be jsonl or parquet, got %q", cfg.ExportFormat)
	}
	switch cfg.SinkProvider {
	case "gcs", "s3":
	default:
		return Config{}, fmt.Errorf("SINK_PROVIDER must be gcs or s3, got %q", cfg.SinkProvider)
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// Brokers splits KAFKA_BROKERS; nil means batch events are disabled.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// Bare numbers are seconds.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
