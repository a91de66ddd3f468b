// Package bootstrap wires a runnable application from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/lang2file"
	"github.com/hupe1980/lang2file/config"
	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/memory"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/model/anthropic"
	"github.com/hupe1980/lang2file/model/openai"
	"github.com/hupe1980/lang2file/registry"
	"github.com/hupe1980/lang2file/server"
	"github.com/hupe1980/lang2file/tool/filetool"
	"github.com/hupe1980/lang2file/tool/iptool"
)

// App bundles everything the binaries need.
type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Model    model.Model
	Store    core.ConversationStore
	Registry *registry.Registry
	Service  *lang2file.Lang2File

	closers []func() error
}

// Options tweaks Build, mainly for tests.
type Options struct {
	// Model replaces the configured provider.
	Model model.Model
	// Logger replaces the configured logger.
	Logger logging.Logger
	// LogOutput receives slog output (defaults to stderr).
	LogOutput io.Writer
}

// Build creates the application described by cfg.
func Build(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	opts := Options{LogOutput: os.Stderr}
	for _, fn := range optFns {
		fn(&opts)
	}

	app := &App{Config: cfg}

	logger := opts.Logger
	if logger == nil {
		l, closeFn, err := NewLogger(cfg.Log, opts.LogOutput)
		if err != nil {
			return nil, err
		}
		logger = l
		app.closers = append(app.closers, closeFn)
	}
	app.Logger = logger

	m := opts.Model
	if m == nil {
		var err error
		if m, err = NewModel(cfg.Model); err != nil {
			return nil, errors.Join(err, app.Close())
		}
	}
	app.Model = m

	store, closeStore, err := NewStore(ctx, cfg.Memory)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	app.Store = store
	app.closers = append(app.closers, closeStore)

	reg, err := NewRegistry(cfg.Tools, logger)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	app.Registry = reg

	svc, err := lang2file.New(m, reg, func(o *lang2file.Options) {
		o.Store = store
		o.Logger = logger
		o.MaxModelCalls = cfg.Flow.MaxModelCalls
		o.MaxParallelTools = cfg.Flow.MaxParallelTools
		o.ChatInstructions = cfg.Flow.ChatInstructions
		o.TaskInstructions = cfg.Flow.TaskInstructions
	})
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	app.Service = svc

	logger.Info("bootstrap.ready",
		"model_provider", cfg.Model.Provider,
		"model", m.Info().Name,
		"memory", cfg.Memory.Backend,
		"capabilities", reg.Len(),
	)

	return app, nil
}

// Server creates the HTTP server for the application.
func (a *App) Server() *server.Server {
	return server.New(a.Service, func(o *server.Options) {
		o.Address = a.Config.Server.Address
		o.AllowedOrigins = a.Config.Server.CORSOrigins
		o.ShutdownTimeout = a.Config.Server.ShutdownTimeout
		o.Logger = a.Logger
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger creates the configured logger and its flush function.
func NewLogger(cfg config.LogConfig, w io.Writer) (logging.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case "zap":
		z, err := logging.NewZapLogger(level, cfg.Format == "console")
		if err != nil {
			return nil, nil, fmt.Errorf("create zap logger: %w", err)
		}
		// Sync on stderr fails on some platforms; the error carries no information.
		return z, func() error { _ = z.Sync(); return nil }, nil
	case "", "slog":
		if w == nil {
			w = os.Stderr
		}
		return logging.NewSlogLoggerTo(w, level, cfg.Format, false), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log backend %q", cfg.Backend)
	}
}

// NewModel creates the configured model provider.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Name
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.MaxRetries = cfg.MaxRetries
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Name)
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.MaxRetries = cfg.MaxRetries
		}), nil
	case "mock":
		return model.NewMockModel(cfg.Name, "mock"), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// NewStore creates the configured conversation store and its close function.
func NewStore(ctx context.Context, cfg config.MemoryConfig) (core.ConversationStore, func() error, error) {
	withMax := func(o *memory.Options) { o.MaxMessages = cfg.MaxMessages }

	switch cfg.Backend {
	case "", "memory":
		return memory.NewInMemoryStore(withMax), func() error { return nil }, nil
	case "redis":
		store, err := memory.NewRedisStore(ctx, memory.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, withMax)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported memory backend %q", cfg.Backend)
	}
}

// NewRegistry registers every capability module and freezes the registry.
func NewRegistry(cfg config.ToolsConfig, logger logging.Logger) (*registry.Registry, error) {
	reg := registry.New(func(o *registry.Options) { o.Logger = logger })

	providers := []registry.Provider{
		filetool.New(func(o *filetool.Options) {
			o.BaseDir = cfg.RootDir
			o.ForbiddenRoots = cfg.ForbiddenRoots
			o.MaxReadBytes = cfg.MaxReadBytes
		}),
	}

	if !cfg.DisableIP {
		providers = append(providers, iptool.New(func(o *iptool.Options) {
			o.APIURL = cfg.IPAPIURL
			o.Timeout = cfg.IPTimeout
		}))
	}

	if err := reg.RegisterProviders(providers...); err != nil {
		return nil, err
	}

	reg.Freeze()

	return reg, nil
}
