// Package config loads the service configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"phishguard/ml"
	"phishguard/schema"
)

// EnvPrefix prefixes every override, e.g. PHISHGUARD_HTTP_PORT or
// PHISHGUARD_MODELS_WEB_OUT_PATH.
const EnvPrefix = "PHISHGUARD"

type Config struct {
	Http struct {
		Port           int           `yaml:"port" validate:"min=1,max=65535"`
		Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes" validate:"gt=0" split_words:"true"`
		AllowedOrigins []string      `yaml:"allowed_origins" split_words:"true"`
	} `yaml:"http"`
	Models struct {
		WebOut      Model  `yaml:"web_out" split_words:"true"`
		WebIn       Model  `yaml:"web_in" split_words:"true"`
		OnnxLibrary string `yaml:"onnx_library" split_words:"true"`
	} `yaml:"models"`
	Cache struct {
		Size int `yaml:"size" validate:"min=0"`
	} `yaml:"cache"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level" validate:"oneof=debug info warn error"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0" split_words:"true"`
		MaxBackups int    `yaml:"max_backups" validate:"min=0" split_words:"true"`
		MaxAgeDays int    `yaml:"max_age_days" validate:"min=0" split_words:"true"`
	} `yaml:"log"`
}

// Model locates one persisted classifier.
type Model struct {
	Type              string `yaml:"type" validate:"oneof=forest onnx"`
	Path              string `yaml:"path" validate:"required"`
	Classes           []int  `yaml:"classes"`
	InputName         string `yaml:"input_name" split_words:"true"`
	LabelOutput       string `yaml:"label_output" split_words:"true"`
	ProbabilityOutput string `yaml:"probability_output" split_words:"true"`
}

var validate = validator.New()

// Load reads path (optional when empty), then .env, then PHISHGUARD_* variables,
// then fills defaults and validates.
func Load(path string) (*Config, error) {
	var config Config
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	config.applyDefaults()
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Http.Port == 0 {
		c.Http.Port = 8000
	}
	if c.Http.Timeout == 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if c.Http.MaxBodyBytes == 0 {
		c.Http.MaxBodyBytes = 64 << 10
	}
	if len(c.Http.AllowedOrigins) == 0 {
		c.Http.AllowedOrigins = []string{"*"}
	}
	for _, m := range []*Model{&c.Models.WebOut, &c.Models.WebIn} {
		if m.Type == "" {
			m.Type = ml.ModelTypeForest
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

// ModelSpecs maps the configured artifacts onto the model store's input.
func (c *Config) ModelSpecs() map[schema.Mode]ml.ModelSpec {
	spec := func(m Model) ml.ModelSpec {
		return ml.ModelSpec{
			Type:              m.Type,
			Path:              m.Path,
			Classes:           m.Classes,
			InputName:         m.InputName,
			LabelOutput:       m.LabelOutput,
			ProbabilityOutput: m.ProbabilityOutput,
			RuntimeLibrary:    c.Models.OnnxLibrary,
		}
	}
	return map[schema.Mode]ml.ModelSpec{
		schema.WebOut: spec(c.Models.WebOut),
		schema.WebIn:  spec(c.Models.WebIn),
	}
}
