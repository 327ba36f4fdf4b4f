// Package menglong wires a Config into a ready-to-use agent: it selects the
// model provider, builds the tool registry (optionally with the built-in
// tools) and exposes the HTTP server. Most applications:
//  1. Load a config.Config with config.Load
//  2. Call New, registering their own tools on App.Registry
//  3. Use App.Agent directly, or serve it with App.Server
package menglong

import (
	"context"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/GCYYfun/MengLong-sub001/agent"
	"github.com/GCYYfun/MengLong-sub001/config"
	"github.com/GCYYfun/MengLong-sub001/logging"
	"github.com/GCYYfun/MengLong-sub001/model"
	"github.com/GCYYfun/MengLong-sub001/model/anthropic"
	"github.com/GCYYfun/MengLong-sub001/model/gemini"
	"github.com/GCYYfun/MengLong-sub001/model/openai"
	"github.com/GCYYfun/MengLong-sub001/server"
	"github.com/GCYYfun/MengLong-sub001/session"
	"github.com/GCYYfun/MengLong-sub001/tool"
	"github.com/GCYYfun/MengLong-sub001/tool/builtin"
)

// Options overrides parts of what New derives from the config.
type Options struct {
	// Model replaces the provider selected by the config.
	Model model.Model
	// Registry receives the tools; a new one is created when nil.
	Registry *tool.Registry
	// Builtins registers current_time, fetch_page and collect_links.
	Builtins bool
	// Logger defaults to the logger described by the config, writing to stderr.
	Logger logging.Logger
}

// App bundles the configured components.
type App struct {
	Config   *config.Config
	Model    model.Model
	Registry *tool.Registry
	Agent    *agent.Agent
	Logger   logging.Logger
}

// New builds an App from cfg. A nil cfg uses config.Default.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = cfg.Logger(os.Stderr)
	}

	m := opts.Model
	if m == nil {
		var err error
		if m, err = NewModel(ctx, cfg); err != nil {
			return nil, err
		}
	}

	reg := opts.Registry
	if reg == nil {
		reg = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	}
	if opts.Builtins {
		if err := builtin.Register(reg); err != nil {
			return nil, fmt.Errorf("register builtin tools: %w", err)
		}
	}

	a := agent.New(m, reg, func(o *agent.Options) {
		o.Name = cfg.Agent.Name
		o.Instruction = agent.NewInstructionFromText(cfg.Agent.Instruction)
		o.MaxIterations = cfg.Agent.MaxIterations
		o.MaxConcurrency = cfg.Agent.MaxConcurrency
		o.ToolWorkers = cfg.Agent.ToolWorkers
		o.MaxParallelTools = cfg.Agent.MaxParallelTools
		o.Stream = cfg.Stream
		o.Logger = opts.Logger
	})

	info := m.Info()
	opts.Logger.Info("menglong.ready", "agent", a.Name(), "provider", info.Provider, "model", info.Name, "tools", reg.Len())

	return &App{Config: cfg, Model: m, Registry: reg, Agent: a, Logger: opts.Logger}, nil
}

// Server returns the HTTP server for the app's agent, configured from the
// Server section.
func (a *App) Server(optFns ...func(o *server.Options)) *server.Server {
	fns := append([]func(o *server.Options){func(o *server.Options) {
		o.AllowOrigins = a.Config.Server.AllowOrigins
		o.Logger = a.Logger
		o.Sessions = session.NewInMemoryStore(func(so *session.InMemoryOptions) {
			so.System = a.Config.Agent.Instruction
			so.MaxSessions = a.Config.Server.MaxSessions
		})
	}}, optFns...)
	return server.New(a.Agent, fns...)
}

// Serve runs the HTTP server on the configured address until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	return a.Server().ListenAndServe(ctx, a.Config.Server.Addr)
}

// NewModel creates the model adapter selected by cfg.Provider.
func NewModel(ctx context.Context, cfg *config.Config) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = cfg.OpenAI.APIKey
			o.BaseURL = cfg.OpenAI.BaseURL
			applyOpenAI(cfg, o)
		}), nil
	case config.ProviderAzure:
		return openai.NewAzureModel(openai.AzureOptions{
			Endpoint:   cfg.Azure.Endpoint,
			APIVersion: cfg.Azure.APIVersion,
			Deployment: cfg.Azure.Deployment,
			APIKey:     cfg.Azure.APIKey,
		}, func(o *openai.Options) {
			applyOpenAI(cfg, o)
			if cfg.Azure.Deployment != "" {
				o.Model = cfg.Azure.Deployment
			}
		})
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.Anthropic.APIKey
			o.BaseURL = cfg.Anthropic.BaseURL
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case config.ProviderGemini:
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			o.APIKey = cfg.Gemini.APIKey
			o.BaseURL = cfg.Gemini.BaseURL
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.Temperature != nil {
				o.Temperature = float32(*cfg.Temperature)
			}
		})
	case config.ProviderMock:
		name := cfg.Model
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, config.ProviderMock), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func applyOpenAI(cfg *config.Config, o *openai.Options) {
	if cfg.Model != "" {
		o.Model = cfg.Model
	}
	if cfg.Temperature != nil {
		o.Temperature = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		o.MaxCompletionTokens = cfg.MaxTokens
	}
}
