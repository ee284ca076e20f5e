// Package config reads the runtime configuration from the environment.
package config

import (
	"log/slog"
	"strings"

	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/casefile"
	"github.com/myrjola/amlnarrator/internal/envstruct"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/storage"
)

// ErrInvalidConfig is fatal: nothing is generated with an invalid configuration.
var ErrInvalidConfig = errors.NewSentinel("invalid configuration")

const (
	StorageDir   = "dir"
	StorageMinIO = "minio"
)

type Config struct {
	ModelInterface string  `env:"OPENAI_MODEL_INTERFACE" envDefault:"openai"`
	ModelName      string  `env:"OPENAI_MODEL_NAME" envDefault:"gpt-4o"`
	Temperature    float64 `env:"OPENAI_MODEL_TEMPERATURE" envDefault:"0.0"`
	MaxTokens      int     `env:"OPENAI_MAX_TOKENS" envDefault:"4096"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY" envDefault:""`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL" envDefault:""`
	AzureEndpoint   string `env:"AZURE_OPENAI_ENDPOINT" envDefault:""`
	AzureAPIKey     string `env:"AZURE_OPENAI_API_KEY" envDefault:""`
	APIVersion      string `env:"OPENAI_API_VERSION" envDefault:""`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" envDefault:""`

	// DatabaseURL selects PostgreSQL for conversation sessions. Reports always live in SQLite.
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`
	SQLiteURL   string `env:"AMLNARRATOR_SQLITE_URL" envDefault:"./amlnarrator.sqlite"`

	MaxRetries        int `env:"AMLNARRATOR_MAX_RETRIES" envDefault:"10"`
	RequestsPerMinute int `env:"AMLNARRATOR_REQUESTS_PER_MINUTE" envDefault:"0"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"dir"`
	StorageDir     string `env:"STORAGE_DIR" envDefault:"./data"`
	S3Endpoint     string `env:"S3_ENDPOINT" envDefault:""`
	S3Region       string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey    string `env:"S3_ACCESS_KEY" envDefault:""`
	S3SecretKey    string `env:"S3_SECRET_KEY" envDefault:""`
	S3Bucket       string `env:"S3_BUCKET" envDefault:"amlnarrator"`
	S3UseSSL       bool   `env:"S3_USE_SSL" envDefault:"false"`

	CaseDataPath       string `env:"CASE_DATA_PATH" envDefault:""`
	PreNarrativeFolder string `env:"PRE_NARRATIVE_FOLDER" envDefault:"Prenarrativas"`
	NarrativeFolder    string `env:"NARRATIVE_FOLDER" envDefault:"Narrativas"`
	SARDataFolder      string `env:"SAR_DATA_FOLDER" envDefault:"SAR"`
	SARTemplatesFolder string `env:"SAR_TEMPLATES_FOLDER" envDefault:"Plantillas SAR"`
	PlaybookFilename   string `env:"PLAYBOOK_FILENAME" envDefault:""`
	AssessmentsFolder  string `env:"ALERT_ASSESSMENTS_FOLDER" envDefault:"Tipologias"`
	ExportFolder       string `env:"EXPORT_FOLDER" envDefault:"Informes"`
	CacheSize          int    `env:"AMLNARRATOR_CACHE_SIZE" envDefault:"256"`

	DotBinary string `env:"DOT_BINARY" envDefault:"dot"`

	Addr      string `env:"AMLNARRATOR_ADDR" envDefault:"localhost:4000"`
	PprofAddr string `env:"AMLNARRATOR_PPROF_ADDR" envDefault:""`
	LogLevel  string `env:"AMLNARRATOR_LOG_LEVEL" envDefault:"info"`
}

// Load reads and validates the configuration. lookupEnv has the signature of [os.LookupEnv].
func Load(lookupEnv func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := envstruct.Populate(&cfg, lookupEnv); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(msg string, attrs ...slog.Attr) error {
	return errors.Wrap(ErrInvalidConfig, msg, attrs...)
}

func (c *Config) validate() error {
	c.ModelInterface = strings.ToLower(strings.TrimSpace(c.ModelInterface))
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))

	switch c.ModelInterface {
	case ai.InterfaceOpenAI, ai.InterfaceAzure, ai.InterfaceAnthropic:
	default:
		return invalid("unknown model interface", slog.String("interface", c.ModelInterface))
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return invalid("model name is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return invalid("temperature must be between 0 and 2", slog.Float64("temperature", c.Temperature))
	}
	if c.MaxTokens <= 0 {
		return invalid("max tokens must be positive", slog.Int("max_tokens", c.MaxTokens))
	}
	if c.MaxRetries < 1 {
		return invalid("max retries must be at least 1", slog.Int("max_retries", c.MaxRetries))
	}
	if c.RequestsPerMinute < 0 {
		return invalid("requests per minute must not be negative", slog.Int("rpm", c.RequestsPerMinute))
	}
	if c.SQLiteURL == "" {
		return invalid("SQLite URL is required")
	}

	switch c.StorageBackend {
	case StorageDir:
		if c.StorageDir == "" {
			return invalid("STORAGE_DIR is required for the dir storage backend")
		}
	case StorageMinIO:
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return invalid("S3_ENDPOINT and S3_BUCKET are required for the minio storage backend")
		}
	default:
		return invalid("unknown storage backend", slog.String("backend", c.StorageBackend))
	}

	if c.PreNarrativeFolder == "" || c.NarrativeFolder == "" || c.SARDataFolder == "" || c.SARTemplatesFolder == "" {
		return invalid("case folders are required")
	}
	return nil
}

// Provider returns the completion vendor settings.
func (c *Config) Provider() ai.ProviderConfig {
	return ai.ProviderConfig{
		Interface:       c.ModelInterface,
		OpenAIAPIKey:    c.OpenAIAPIKey,
		AzureEndpoint:   c.AzureEndpoint,
		AzureAPIKey:     c.AzureAPIKey,
		APIVersion:      c.APIVersion,
		AnthropicAPIKey: c.AnthropicAPIKey,
		BaseURL:         c.OpenAIBaseURL,
	}
}

func (c *Config) Settings() ai.Settings {
	return ai.Settings{
		Model:       c.ModelName,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

func (c *Config) MinIO() storage.MinIOConfig {
	return storage.MinIOConfig{
		Endpoint:  c.S3Endpoint,
		Region:    c.S3Region,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Bucket:    c.S3Bucket,
		UseSSL:    c.S3UseSSL,
	}
}

// Folders locates the case data below CASE_DATA_PATH.
func (c *Config) Folders() casefile.Folders {
	folders := casefile.Folders{
		PreNarrative: storage.Join(c.CaseDataPath, c.PreNarrativeFolder),
		Narrative:    storage.Join(c.CaseDataPath, c.NarrativeFolder),
		SARData:      storage.Join(c.CaseDataPath, c.SARDataFolder),
		SARTemplates: storage.Join(c.CaseDataPath, c.SARTemplatesFolder),
		Playbook:     "",
		Assessments:  storage.Join(c.CaseDataPath, c.AssessmentsFolder),
	}
	if c.PlaybookFilename != "" {
		folders.Playbook = storage.Join(c.CaseDataPath, c.PlaybookFilename)
	}
	return folders
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
