package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Objects    ObjectsConfig    `yaml:"objects" mapstructure:"objects"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Sandbox    SandboxConfig    `yaml:"sandbox" mapstructure:"sandbox"`
	Routing    RoutingConfig    `yaml:"routing" mapstructure:"routing"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the metadata store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ObjectsConfig configures the object store.
type ObjectsConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// AnthropicConfig holds model-assistance settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	HaikuModel  string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	VisionModel string  `yaml:"vision_model" mapstructure:"vision_model"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// OCRConfig configures scanned-document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // "local" or "remote"
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	RemoteURL     string `yaml:"remote_url" mapstructure:"remote_url"`
	RemoteKey     string `yaml:"remote_key" mapstructure:"remote_key"`
}

// SandboxConfig configures the code-execution service.
type SandboxConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RoutingConfig configures the routing decision engine.
type RoutingConfig struct {
	// ComplexityThreshold is the sum of per-file complexity scores above
	// which the job runs in sequential mode.
	ComplexityThreshold float64 `yaml:"complexity_threshold" mapstructure:"complexity_threshold"`
}

// DispatchConfig configures the dispatch coordinator.
type DispatchConfig struct {
	MaxConcurrency  int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	UnitTimeoutSecs int `yaml:"unit_timeout_secs" mapstructure:"unit_timeout_secs"`
}

// ValidationConfig configures the validation gate.
type ValidationConfig struct {
	// StructureWordThreshold is the word count above which a file must
	// exhibit at least MinSections of the required LCA sections.
	StructureWordThreshold int `yaml:"structure_word_threshold" mapstructure:"structure_word_threshold"`
	MinSections            int `yaml:"min_sections" mapstructure:"min_sections"`
	// ChunkWordBudget bounds the content sent per Track B call.
	ChunkWordBudget int `yaml:"chunk_word_budget" mapstructure:"chunk_word_budget"`
	// QuarantineThreshold is the number of distinct job-critical findings
	// required before a failed file escalates to quarantined.
	QuarantineThreshold int `yaml:"quarantine_threshold" mapstructure:"quarantine_threshold"`
	// MinVisionConfidence is the 1-5 classification confidence below which
	// a vision extraction is flagged for human review.
	MinVisionConfidence int `yaml:"min_vision_confidence" mapstructure:"min_vision_confidence"`
	// TaxonomyPath optionally points to a yaml file overriding the built-in
	// recognized unit / category reference data.
	TaxonomyPath string `yaml:"taxonomy_path" mapstructure:"taxonomy_path"`
}

// SynthesisConfig configures the synthesis pipeline.
type SynthesisConfig struct {
	MaxContentChars int `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	MaxTokens       int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// UnitTimeout returns the per-unit dispatch deadline.
func (d DispatchConfig) UnitTimeout() time.Duration {
	return time.Duration(d.UnitTimeoutSecs) * time.Second
}

// SandboxTimeout returns the per-execution sandbox deadline.
func (s SandboxConfig) SandboxTimeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LCAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lcaflow.db")
	v.SetDefault("objects.root", "objects")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.rate_per_sec", 5.0)
	v.SetDefault("anthropic.rate_burst", 10)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("sandbox.timeout_secs", 120)
	v.SetDefault("routing.complexity_threshold", 2.0)
	v.SetDefault("dispatch.max_concurrency", 5)
	v.SetDefault("dispatch.unit_timeout_secs", 300)
	v.SetDefault("validation.structure_word_threshold", 300)
	v.SetDefault("validation.min_sections", 2)
	v.SetDefault("validation.chunk_word_budget", 3000)
	v.SetDefault("validation.quarantine_threshold", 1)
	v.SetDefault("validation.min_vision_confidence", 3)
	v.SetDefault("synthesis.max_content_chars", 20000)
	v.SetDefault("synthesis.max_tokens", 4096)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
