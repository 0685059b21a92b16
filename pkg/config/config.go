// Package config loads rollout configuration from YAML and the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/vecenv/pkg/option"
)

type ExperimentConfig struct {
	Name    string        `yaml:"name" validate:"required"`
	Env     EnvConfig     `yaml:"env"`
	Steps   int           `yaml:"steps" validate:"gte=0"`
	Policy  PolicyConfig  `yaml:"policy"`
	Logging LogConfig     `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type EnvConfig struct {
	Name    string         `yaml:"name" validate:"required"`
	NumEnvs int            `yaml:"num_envs" validate:"gte=1"`
	Options map[string]any `yaml:"options"`
}

type PolicyConfig struct {
	Type     string `yaml:"type" validate:"oneof=random index llm"`
	Provider string `yaml:"provider" validate:"omitempty,oneof=openai gemini"`
	Model    string `yaml:"model"`
	Seed     uint64 `yaml:"seed"`
	// Concurrency bounds concurrent model requests for the llm policy.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto console json"`
}

type StorageConfig struct {
	Kind string `yaml:"kind" validate:"omitempty,oneof=memory sqlite"`
	Path string `yaml:"path" validate:"required_if=Kind sqlite"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables the endpoint.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

func Default() *ExperimentConfig {
	return &ExperimentConfig{
		Name:  "rollout",
		Env:   EnvConfig{Name: "pattern", NumEnvs: 1},
		Steps: 100,
		Policy: PolicyConfig{
			Type:        "random",
			Model:       "gpt-4o-mini",
			Concurrency: 4,
		},
		Logging: LogConfig{Level: "info", Format: "auto"},
		Storage: StorageConfig{Kind: "memory"},
	}
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *ExperimentConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Policy.Type == "llm" && c.Policy.Provider == "" {
		return fmt.Errorf("policy %s needs a provider", c.Policy.Type)
	}
	return nil
}

// ApplyEnv overrides fields from VECENV_* environment variables.
func (c *ExperimentConfig) ApplyEnv() {
	if v := os.Getenv("VECENV_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VECENV_STORE"); v != "" {
		c.Storage.Kind = v
	}
	if v := os.Getenv("VECENV_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("VECENV_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// OptionSet converts the YAML options, ordered by name. Integers become
// int32 unless they overflow it, floats become float32 and strings are
// parsed like a command-line assignment.
func (e EnvConfig) OptionSet() (option.Set, error) {
	names := make([]string, 0, len(e.Options))
	for name := range e.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	set := make(option.Set, 0, len(names))
	for _, name := range names {
		v, err := toValue(name, e.Options[name])
		if err != nil {
			return nil, err
		}
		set = append(set, v)
	}
	return set, nil
}

func toValue(name string, raw any) (option.Value, error) {
	switch x := raw.(type) {
	case string:
		return option.ParseAssignment(name + "=" + x)
	case []any:
		if len(x) == 0 {
			return option.Value{}, fmt.Errorf("option %s: empty list", name)
		}
		return listValue(name, x)
	default:
		return listValue(name, []any{raw})
	}
}

func listValue(name string, items []any) (option.Value, error) {
	ints := make([]int64, 0, len(items))
	floats := make([]float32, 0, len(items))
	isFloat, wide := false, false
	for _, item := range items {
		switch v := item.(type) {
		case int:
			ints = append(ints, int64(v))
			floats = append(floats, float32(v))
			if v > math.MaxInt32 || v < math.MinInt32 {
				wide = true
			}
		case float64:
			isFloat = true
			floats = append(floats, float32(v))
		case bool:
			b := int64(0)
			if v {
				b = 1
			}
			ints = append(ints, b)
			floats = append(floats, float32(b))
		default:
			return option.Value{}, fmt.Errorf("option %s: unsupported value %v (%T)", name, item, item)
		}
	}

	switch {
	case isFloat:
		return option.Float32s(name, floats), nil
	case wide:
		return option.Int64s(name, ints), nil
	default:
		narrow := make([]int32, len(ints))
		for i, v := range ints {
			narrow[i] = int32(v)
		}
		return option.Int32s(name, narrow), nil
	}
}
