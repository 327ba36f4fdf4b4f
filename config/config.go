// Package config loads MengLong settings from defaults, a YAML file, .env
// files and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/GCYYfun/MengLong-sub001/logging"
)

// DefaultFile is read when LoadOptions.Path is empty and the file exists.
const DefaultFile = "menglong.yaml"

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Config is the complete runtime configuration.
type Config struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`
	Stream      bool     `yaml:"stream,omitempty"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Azure     AzureConfig     `yaml:"azure"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini"`

	Agent  AgentConfig  `yaml:"agent"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type AzureConfig struct {
	Endpoint   string `yaml:"endpoint,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	APIVersion string `yaml:"api_version,omitempty"`
	Deployment string `yaml:"deployment,omitempty"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// AgentConfig mirrors agent.Options.
type AgentConfig struct {
	Name             string `yaml:"name"`
	Instruction      string `yaml:"instruction,omitempty"`
	MaxIterations    int    `yaml:"max_iterations"`
	MaxConcurrency   int    `yaml:"max_concurrency"`
	ToolWorkers      int64  `yaml:"tool_workers"`
	MaxParallelTools int    `yaml:"max_parallel_tools,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins,omitempty"`
	MaxSessions  int      `yaml:"max_sessions,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Agent: AgentConfig{
			Name:           "assistant",
			MaxIterations:  10,
			MaxConcurrency: 4,
			ToolWorkers:    8,
		},
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{Addr: ":8080", AllowOrigins: []string{"*"}},
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path of the YAML file. Empty means DefaultFile if present.
	Path string
	// EnvFiles are loaded with godotenv; missing files are ignored. Values
	// already present in the environment win.
	EnvFiles []string
	// Lookup reads environment variables; defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Load builds a Config from defaults, the YAML file, .env files and the
// environment, then validates it.
func Load(optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{EnvFiles: []string{".env"}, Lookup: os.LookupEnv}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := Default()

	path, required := opts.Path, true
	if path == "" {
		path, required = DefaultFile, false
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(opts.Lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	f, err := os.Open(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func loadEnvFiles(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables. Provider keys use their
// conventional names; everything else is MENGLONG_ prefixed.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	str := func(dst *string, keys ...string) {
		if v, ok := get(keys...); ok {
			*dst = v
		}
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v, ok := get(key); ok {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str(&c.Provider, "MENGLONG_PROVIDER")
	str(&c.Model, "MENGLONG_MODEL")
	parse("MENGLONG_TEMPERATURE", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			c.Temperature = &f
		}
		return err
	})
	parse("MENGLONG_MAX_TOKENS", func(v string) (err error) {
		c.MaxTokens, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("MENGLONG_STREAM", func(v string) (err error) {
		c.Stream, err = strconv.ParseBool(v)
		return err
	})

	str(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&c.OpenAI.BaseURL, "OPENAI_BASE_URL", "OPENAI_API_BASE")
	str(&c.Azure.Endpoint, "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_BASE")
	str(&c.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	str(&c.Azure.APIVersion, "AZURE_OPENAI_API_VERSION")
	str(&c.Azure.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	str(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	str(&c.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	str(&c.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	str(&c.Gemini.BaseURL, "GEMINI_BASE_URL")

	str(&c.Agent.Name, "MENGLONG_AGENT_NAME")
	str(&c.Agent.Instruction, "MENGLONG_INSTRUCTION")
	parse("MENGLONG_MAX_ITERATIONS", func(v string) (err error) {
		c.Agent.MaxIterations, err = strconv.Atoi(v)
		return err
	})
	parse("MENGLONG_MAX_CONCURRENCY", func(v string) (err error) {
		c.Agent.MaxConcurrency, err = strconv.Atoi(v)
		return err
	})
	parse("MENGLONG_TOOL_WORKERS", func(v string) (err error) {
		c.Agent.ToolWorkers, err = strconv.ParseInt(v, 10, 64)
		return err
	})

	str(&c.Log.Level, "MENGLONG_LOG_LEVEL")
	str(&c.Log.Format, "MENGLONG_LOG_FORMAT")
	str(&c.Server.Addr, "MENGLONG_ADDR")
	if v, ok := get("MENGLONG_ALLOW_ORIGINS"); ok {
		c.Server.AllowOrigins = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the provider, its credentials and numeric bounds.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderMock:
	case ProviderAzure:
		if c.Azure.Endpoint == "" {
			errs = append(errs, errors.New("azure endpoint is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", *c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must not be negative"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	if c.Agent.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("agent.max_concurrency must be positive"))
	}
	if c.Agent.ToolWorkers <= 0 {
		errs = append(errs, errors.New("agent.tool_workers must be positive"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Logger builds the structured logger described by the Log section.
func (c *Config) Logger(out io.Writer) *logging.StructuredLogger {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Log.Format,
		Output:    out,
		Component: "menglong",
	})
}
