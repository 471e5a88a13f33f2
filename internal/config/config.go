package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	Similarity  SimilarityConfig  `mapstructure:"similarity"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Session     SessionConfig     `mapstructure:"session"`
	Categorizer CategorizerConfig `mapstructure:"categorizer"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int        `mapstructure:"port"`
	Mode        string     `mapstructure:"mode"`
	MaxUploadMB int        `mapstructure:"max_upload_mb"`
	CORS        CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	// UploadPrefix is prepended to the key of every user upload.
	UploadPrefix string `mapstructure:"upload_prefix"`
}

// ClientConfig is shared by the remote inference clients.
type ClientConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
}

type DetectionConfig struct {
	ClientConfig  `mapstructure:",squash"`
	Prompt        string  `mapstructure:"prompt"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	// MaskPrefix is the storage prefix the detector writes crops under.
	MaskPrefix string `mapstructure:"mask_prefix"`
}

type SimilarityConfig struct {
	ClientConfig `mapstructure:",squash"`
	Provider     string `mapstructure:"provider"` // dino, qdrant
	Index        string `mapstructure:"index"`
	TopK         int    `mapstructure:"top_k"`
	Scale        int    `mapstructure:"scale"`
}

type EmbeddingConfig struct {
	ClientConfig `mapstructure:",squash"`
	Model        string `mapstructure:"model"`
	Dimensions   int    `mapstructure:"dimensions"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

type CategorizerConfig struct {
	TopKeywords    []string `mapstructure:"top_keywords"`
	BottomKeywords []string `mapstructure:"bottom_keywords"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration from configPath (or ./configs/config.yaml when
// empty), a local .env file and the environment.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment endpoints
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("detection.base_url", "YOLO_API_URL")
	v.BindEnv("similarity.base_url", "VISUAL_SEARCH_API_URL")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "LOG_FILE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/fitfinder.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fitfinder")
	v.SetDefault("database.dbname", "fitfinder")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "fitfinder")
	v.SetDefault("storage.upload_prefix", "uploads")

	v.SetDefault("detection.base_url", "http://localhost:8001")
	v.SetDefault("detection.prompt", "Jeans,athletic skirt,bar,athletic set,two-piece athletic set, clothes, shirt, dress, top, bottom")
	v.SetDefault("detection.timeout", 120*time.Second)
	v.SetDefault("detection.retry_count", 2)
	v.SetDefault("detection.retry_wait", 500*time.Millisecond)
	v.SetDefault("detection.min_confidence", 0.0)
	v.SetDefault("detection.mask_prefix", "masks")

	v.SetDefault("similarity.provider", "dino")
	v.SetDefault("similarity.base_url", "http://localhost:8002")
	v.SetDefault("similarity.index", "mall_search_image_250604")
	v.SetDefault("similarity.top_k", 10)
	v.SetDefault("similarity.scale", 10)
	v.SetDefault("similarity.timeout", 30*time.Second)
	v.SetDefault("similarity.retry_count", 2)
	v.SetDefault("similarity.retry_wait", 500*time.Millisecond)

	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embedding.model", "jina-clip-v2")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.retry_count", 2)
	v.SetDefault("embedding.retry_wait", 500*time.Millisecond)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "products")

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cookie_name", "fitfinder_session")
	v.SetDefault("session.cookie_secure", false)

	v.SetDefault("catalog.path", "./data/catalog")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

// Validate checks settings that would otherwise fail late at request time.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	switch c.Similarity.Provider {
	case "dino", "qdrant":
	default:
		return fmt.Errorf("similarity: unknown provider %q", c.Similarity.Provider)
	}
	if c.Detection.RetryCount < 0 || c.Similarity.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server: max_upload_mb must be positive")
	}
	return nil
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
