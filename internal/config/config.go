// Package config loads showrunner configuration from an optional YAML file
// with environment variable overrides, and wires the shared logger.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration values.
type Config struct {
	// Job store backend: "file" or "surreal".
	JobStore    string `yaml:"job_store"`
	JobStoreDir string `yaml:"job_store_dir"`

	// SurrealDB connection (job store backend "surreal").
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Text provider for structure generation.
	TextProvider string `yaml:"text_provider"` // ollama, openai, anthropic
	TextModel    string `yaml:"text_model"`
	TextAPIKey   string `yaml:"text_api_key"`
	OllamaHost   string `yaml:"ollama_host"`

	// Image generation (Bedrock).
	AWSRegion  string `yaml:"aws_region"`
	ImageModel string `yaml:"image_model"`

	// Video generation API.
	VideoBaseURL      string   `yaml:"video_base_url"`
	VideoAPIKey       string   `yaml:"video_api_key"`
	VideoModel        string   `yaml:"video_model"`
	VideoMaxWait      Duration `yaml:"video_max_wait"`
	VideoPollInterval Duration `yaml:"video_poll_interval"`

	// Object storage (S3 / R2 compatible).
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3Region        string `yaml:"s3_region"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3AccessKey     string `yaml:"s3_access_key"`
	S3SecretKey     string `yaml:"s3_secret_key"`
	S3PublicURLBase string `yaml:"s3_public_url_base"`

	// Executor tuning.
	Workers    int      `yaml:"workers"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`
	OutputDir  string   `yaml:"output_dir"`

	// Logging.
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		JobStore:    "file",
		JobStoreDir: ".showrunner/jobs",

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "showrunner",
		SurrealDBDatabase:  "jobs",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		TextProvider: "ollama",
		TextModel:    "llama3.2",
		OllamaHost:   "http://localhost:11434",

		AWSRegion: "us-east-1",

		VideoMaxWait:      Duration(10 * time.Minute),
		VideoPollInterval: Duration(5 * time.Second),

		Workers:    4,
		MaxRetries: 2,
		RetryDelay: Duration(3 * time.Second),
		OutputDir:  "output",

		LogFile:  "/tmp/showrunner.log",
		LogLevel: slog.LevelInfo,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then SHOWRUNNER_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv("SHOWRUNNER_" + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv("SHOWRUNNER_" + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDur := func(key string, dst *Duration) {
		if v := os.Getenv("SHOWRUNNER_" + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	setStr("JOB_STORE", &c.JobStore)
	setStr("JOB_STORE_DIR", &c.JobStoreDir)

	setStr("SURREALDB_URL", &c.SurrealDBURL)
	setStr("SURREALDB_NAMESPACE", &c.SurrealDBNamespace)
	setStr("SURREALDB_DATABASE", &c.SurrealDBDatabase)
	setStr("SURREALDB_USER", &c.SurrealDBUser)
	setStr("SURREALDB_PASS", &c.SurrealDBPass)
	setStr("SURREALDB_AUTH_LEVEL", &c.SurrealDBAuthLevel)

	setStr("TEXT_PROVIDER", &c.TextProvider)
	setStr("TEXT_MODEL", &c.TextModel)
	setStr("TEXT_API_KEY", &c.TextAPIKey)
	setStr("OLLAMA_HOST", &c.OllamaHost)

	setStr("AWS_REGION", &c.AWSRegion)
	setStr("IMAGE_MODEL", &c.ImageModel)

	setStr("VIDEO_BASE_URL", &c.VideoBaseURL)
	setStr("VIDEO_API_KEY", &c.VideoAPIKey)
	setStr("VIDEO_MODEL", &c.VideoModel)
	setDur("VIDEO_MAX_WAIT", &c.VideoMaxWait)
	setDur("VIDEO_POLL_INTERVAL", &c.VideoPollInterval)

	setStr("S3_ENDPOINT", &c.S3Endpoint)
	setStr("S3_REGION", &c.S3Region)
	setStr("S3_BUCKET", &c.S3Bucket)
	setStr("S3_ACCESS_KEY", &c.S3AccessKey)
	setStr("S3_SECRET_KEY", &c.S3SecretKey)
	setStr("S3_PUBLIC_URL_BASE", &c.S3PublicURLBase)

	setInt("WORKERS", &c.Workers)
	setInt("MAX_RETRIES", &c.MaxRetries)
	setDur("RETRY_DELAY", &c.RetryDelay)
	setStr("OUTPUT_DIR", &c.OutputDir)

	setStr("LOG_FILE", &c.LogFile)
	if v := os.Getenv("SHOWRUNNER_LOG_LEVEL"); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
