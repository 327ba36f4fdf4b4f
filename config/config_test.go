package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(func(o *LoadOptions) {
		o.Path = ""
		o.EnvFiles = nil
		o.Lookup = mapLookup(nil)
	})
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, int64(8), cfg.Agent.ToolWorkers)
	assert.Nil(t, cfg.Temperature)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, "menglong.yaml", `
provider: anthropic
model: claude-sonnet-4-5
temperature: 0.3
openai:
  api_key: file-key
agent:
  name: researcher
  max_iterations: 5
log:
  level: debug
  format: text
server:
  allow_origins: [https://example.com]
`)

	cfg, err := Load(func(o *LoadOptions) {
		o.Path = path
		o.EnvFiles = nil
		o.Lookup = mapLookup(map[string]string{
			"MENGLONG_MODEL":          "claude-opus-4-1",
			"MENGLONG_MAX_ITERATIONS": "7",
			"OPENAI_API_KEY":          "env-key",
			"ANTHROPIC_API_KEY":       "sk-ant",
			"GOOGLE_API_KEY":          "google",
			"MENGLONG_STREAM":         "true",
		})
	})
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, "claude-opus-4-1", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.3, *cfg.Temperature, 1e-9)
	assert.True(t, cfg.Stream)
	assert.Equal(t, "env-key", cfg.OpenAI.APIKey)
	assert.Equal(t, "sk-ant", cfg.Anthropic.APIKey)
	assert.Equal(t, "google", cfg.Gemini.APIKey)
	assert.Equal(t, "researcher", cfg.Agent.Name)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, 4, cfg.Agent.MaxConcurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.AllowOrigins)
}

func TestLoad_AliasPrecedence(t *testing.T) {
	cfg, err := Load(func(o *LoadOptions) {
		o.EnvFiles = nil
		o.Lookup = mapLookup(map[string]string{
			"GEMINI_API_KEY":         "gemini",
			"GOOGLE_API_KEY":         "google",
			"OPENAI_API_BASE":        "http://legacy",
			"MENGLONG_ALLOW_ORIGINS": "http://a, http://b,",
		})
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Gemini.APIKey)
	assert.Equal(t, "http://legacy", cfg.OpenAI.BaseURL)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	// Registered so the variable is restored after godotenv sets it.
	t.Setenv("MENGLONG_MODEL", "")
	require.NoError(t, os.Unsetenv("MENGLONG_MODEL"))
	t.Setenv("MENGLONG_PROVIDER", "mock")

	envFile := writeFile(t, ".env", "MENGLONG_MODEL=from-dotenv\nMENGLONG_PROVIDER=gemini\n")

	cfg, err := Load(func(o *LoadOptions) {
		o.EnvFiles = []string{envFile, filepath.Join(t.TempDir(), "missing.env")}
	})
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Model)
	assert.Equal(t, ProviderMock, cfg.Provider, "the process environment wins over .env")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		env  map[string]string
		want string
	}{
		{name: "missing explicit file", path: filepath.Join(t.TempDir(), "nope.yaml"), want: "failed to open config file"},
		{name: "bad yaml", path: writeFile(t, "bad.yaml", "provider: [unclosed"), want: "failed to decode config file"},
		{name: "bad int", env: map[string]string{"MENGLONG_MAX_ITERATIONS": "many"}, want: "MENGLONG_MAX_ITERATIONS"},
		{name: "unknown provider", env: map[string]string{"MENGLONG_PROVIDER": "llama"}, want: `unknown provider "llama"`},
		{name: "azure endpoint", env: map[string]string{"MENGLONG_PROVIDER": "azure"}, want: "azure endpoint is required"},
		{name: "temperature", env: map[string]string{"MENGLONG_TEMPERATURE": "3"}, want: "temperature must be within"},
		{name: "log level", env: map[string]string{"MENGLONG_LOG_LEVEL": "loud"}, want: "unknown log level"},
		{name: "iterations", env: map[string]string{"MENGLONG_MAX_ITERATIONS": "0"}, want: "max_iterations must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(func(o *LoadOptions) {
				o.Path = tt.path
				o.EnvFiles = nil
				o.Lookup = mapLookup(tt.env)
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Logger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "text"

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "k=v")
}
