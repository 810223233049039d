package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"rustsentry/internal/database"
)

// EnvPrefix prefixes every environment override, e.g. RUSTSENTRY_WORKER_POOL_SIZE.
const EnvPrefix = "RUSTSENTRY_"

type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Limits   LimitsConfig   `yaml:"limits" mapstructure:"limits"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Client   ClientConfig   `yaml:"client" mapstructure:"client"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Tracing  TracingConfig  `yaml:"tracing" mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required"`
	Mode string `yaml:"mode" mapstructure:"mode" validate:"oneof=debug release test"`
}

type LimitsConfig struct {
	MaxCodeLength int `yaml:"max_code_length" mapstructure:"max_code_length" validate:"min=1"`
}

type RetryConfig struct {
	Attempts    int           `yaml:"attempts" mapstructure:"attempts" validate:"min=1,max=20"`
	Base        time.Duration `yaml:"base" mapstructure:"base" validate:"gt=0"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	MaxInterval time.Duration `yaml:"max_interval" mapstructure:"max_interval" validate:"gtefield=Base"`
}

type WorkerConfig struct {
	PoolSize int `yaml:"pool_size" mapstructure:"pool_size" validate:"min=1,max=64"`
}

// ClientConfig is advertised to polling clients. The server never enforces it.
type ClientConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`
	PollTimeout  time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout" validate:"gtefield=PollInterval"`
}

type LLMConfig struct {
	Provider      string        `yaml:"provider" mapstructure:"provider" validate:"required"`
	Model         string        `yaml:"model" mapstructure:"model"`
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	APIKey        string        `yaml:"api_key" mapstructure:"api_key"`
	MaxTokens     int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
	Temperature   float32       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int           `yaml:"burst" mapstructure:"burst" validate:"min=1"`
	JSONMode      bool          `yaml:"json_mode" mapstructure:"json_mode"`
	TrackTokens   bool          `yaml:"track_tokens" mapstructure:"track_tokens"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" mapstructure:"dsn" validate:"required"`
}

type StoreConfig struct {
	Path     string `yaml:"path" mapstructure:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory" mapstructure:"in_memory"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	File  string `yaml:"file" mapstructure:"file"`
}

type TracingConfig struct {
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"oneof=none stdout"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", Mode: "release"},
		Limits: LimitsConfig{MaxCodeLength: 10000},
		Retry: RetryConfig{
			Attempts:    3,
			Base:        2 * time.Second,
			Multiplier:  2,
			MaxInterval: 30 * time.Second,
		},
		Worker: WorkerConfig{PoolSize: 2},
		Client: ClientConfig{PollInterval: 2 * time.Second, PollTimeout: 10 * time.Minute},
		LLM: LLMConfig{
			Provider:      "deepseek",
			MaxTokens:     4000,
			Temperature:   0.1,
			Timeout:       30 * time.Second,
			RatePerSecond: 1,
			Burst:         2,
			JSONMode:      true,
			TrackTokens:   true,
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: database.GetDefaultDBPath()},
		Store:    StoreConfig{Path: "data/codestore"},
		Log:      LogConfig{Level: "info"},
		Tracing:  TracingConfig{Exporter: "none"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (optional),
// then RUSTSENTRY_* environment variables named after the YAML keys, e.g.
// RUSTSENTRY_WORKER_POOL_SIZE. The result is not validated; call Validate after
// applying flag overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Default(), fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return Default(), fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(strings.TrimSuffix(EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
