package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port                int      `yaml:"port"`
		APIKeys             []string `yaml:"apiKeys"`
		AllowedOrigins      []string `yaml:"allowedOrigins"`
		SubmitBurst         int      `yaml:"submitBurst"`     // 0 disables submit throttling
		SubmitPerMinute     float64  `yaml:"submitPerMinute"` // refill rate of the burst
		BlockPrivateSources bool     `yaml:"blockPrivateSources"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | sqlite
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"`
	} `yaml:"database"`

	Storage struct {
		Backend string `yaml:"backend"` // minio | gcs

		Minio struct {
			Endpoint   string `yaml:"endpoint"`
			AccessKey  string `yaml:"accessKey"`
			SecretKey  string `yaml:"secretKey"`
			BucketName string `yaml:"bucketName"`
			Region     string `yaml:"region"`
			UseSSL     bool   `yaml:"useSSL"`
		} `yaml:"minio"`

		GCS struct {
			Bucket string `yaml:"bucket"`
		} `yaml:"gcs"`
	} `yaml:"storage"`

	Narrative struct {
		Provider        string `yaml:"provider"`      // template | openai | vertex
		Model           string `yaml:"model"`         // openai primary
		FallbackModel   string `yaml:"fallbackModel"` // openai on 429
		MaxTokens       int    `yaml:"maxTokens"`
		FallbackTokens  int    `yaml:"fallbackTokens"`
		MaxSummaryChars int    `yaml:"maxSummaryChars"`
		OpenAIKey       string `yaml:"openaiKey"`
		OpenAIBaseURL   string `yaml:"openaiBaseURL"`
		VertexProject   string `yaml:"vertexProject"`
		VertexRegion    string `yaml:"vertexRegion"`
		VertexModel     string `yaml:"vertexModel"`
		VertexFallback  string `yaml:"vertexFallbackModel"`
	} `yaml:"narrative"`

	ReportEngine struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"reportEngine"`

	Pipeline struct {
		SandboxRoot     string        `yaml:"sandboxRoot"`
		DownloadTimeout time.Duration `yaml:"downloadTimeout"`
		Retries         int           `yaml:"retries"`
		Backoff         time.Duration `yaml:"backoff"`
	} `yaml:"pipeline"`

	Sweeper struct {
		Enabled  bool          `yaml:"enabled"`
		Schedule string        `yaml:"schedule"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"sweeper"`

	Log struct {
		Level   string `yaml:"level"`
		Pretty  bool   `yaml:"pretty"`
		Service string `yaml:"service"`
	} `yaml:"log"`
}

// Defaults returns a config usable without a file: sqlite job store, templated narratives.
func Defaults() *Config {
	var c Config
	c.Server.Port = 10000
	c.Server.AllowedOrigins = []string{"*"}
	c.Server.SubmitBurst = 10
	c.Server.SubmitPerMinute = 6
	c.Server.BlockPrivateSources = true

	c.Database.Driver = "sqlite"
	c.Database.Path = "gap.db"

	c.Storage.Backend = "minio"
	c.Storage.Minio.Endpoint = "localhost:9000"
	c.Storage.Minio.BucketName = "market-gap"

	c.Narrative.Provider = "template"
	c.Narrative.Model = "gpt-4o"
	c.Narrative.FallbackModel = "gpt-4o-mini"
	c.Narrative.MaxTokens = 1024
	c.Narrative.FallbackTokens = 512
	c.Narrative.MaxSummaryChars = 10000
	c.Narrative.VertexRegion = "us-central1"
	c.Narrative.VertexModel = "gemini-1.5-pro"
	c.Narrative.VertexFallback = "gemini-1.5-flash"

	c.ReportEngine.URL = "https://market-reports-api.onrender.com"
	c.ReportEngine.Timeout = 5 * time.Minute

	c.Pipeline.SandboxRoot = "temp_sessions"
	c.Pipeline.DownloadTimeout = 30 * time.Second
	c.Pipeline.Retries = 3
	c.Pipeline.Backoff = 200 * time.Millisecond

	c.Sweeper.Enabled = true
	c.Sweeper.Schedule = "@hourly"
	c.Sweeper.TTL = 24 * time.Hour

	c.Log.Level = "info"
	c.Log.Service = "gap-analyzer"
	return &c
}

// Load reads the yaml file over Defaults, then applies env overrides for secrets.
// A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("OPENAI_API_KEY", &c.Narrative.OpenAIKey)
	envString("MINIO_ACCESS_KEY", &c.Storage.Minio.AccessKey)
	envString("MINIO_SECRET_KEY", &c.Storage.Minio.SecretKey)
	envString("DB_PASSWORD", &c.Database.Password)
	envString("MARKET_REPORTS_API_URL", &c.ReportEngine.URL)
	envString("LOG_LEVEL", &c.Log.Level)
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "minio", "gcs":
	default:
		return fmt.Errorf("storage.backend: unsupported %q", c.Storage.Backend)
	}
	switch c.Narrative.Provider {
	case "template", "openai", "vertex":
	default:
		return fmt.Errorf("narrative.provider: unsupported %q", c.Narrative.Provider)
	}
	if c.ReportEngine.URL == "" {
		return fmt.Errorf("reportEngine.url is required")
	}
	if c.Pipeline.Retries < 1 {
		c.Pipeline.Retries = 1
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}
