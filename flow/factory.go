package flow

import (
	"errors"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
)

// DefaultMaxModelCalls bounds the model → tool → model loop of one invocation.
const DefaultMaxModelCalls = 10

// Options configures a Factory.
type Options struct {
	// Store backs session-bound invocations. Nil disables memory.
	Store core.ConversationStore
	// Logger receives flow events.
	Logger logging.Logger
	// MaxModelCalls bounds model calls per invocation (<=0 uses DefaultMaxModelCalls).
	MaxModelCalls int
	// MaxParallelTools bounds concurrent tool calls per turn (<=0 is unbounded).
	MaxParallelTools int
	// Executor overrides the default parallel executor.
	Executor FunctionExecutor
	// Processors override DefaultRequestProcessors.
	Processors []RequestProcessor
}

// BuildOptions selects what an invocation is bound to.
type BuildOptions struct {
	// Tools is the capability scope. Empty means capability-free.
	Tools []registry.Descriptor
	// SessionID binds conversation memory. Empty means stateless.
	SessionID string
}

// Factory builds invocation contexts from a single configuration.
type Factory struct {
	model      model.Model
	store      core.ConversationStore
	logger     logging.Logger
	maxCalls   int
	executor   FunctionExecutor
	processors []RequestProcessor
}

// NewFactory creates a Factory for the given model.
func NewFactory(m model.Model, optFns ...func(o *Options)) (*Factory, error) {
	if m == nil {
		return nil, errors.New("flow: model is required")
	}

	opts := Options{
		Logger:        logging.NoOpLogger{},
		MaxModelCalls: DefaultMaxModelCalls,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.MaxModelCalls <= 0 {
		opts.MaxModelCalls = DefaultMaxModelCalls
	}

	if opts.Executor == nil {
		opts.Executor = NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: opts.MaxParallelTools})
	}

	if len(opts.Processors) == 0 {
		opts.Processors = DefaultRequestProcessors()
	}

	return &Factory{
		model:      m,
		store:      opts.Store,
		logger:     opts.Logger,
		maxCalls:   opts.MaxModelCalls,
		executor:   opts.Executor,
		processors: opts.Processors,
	}, nil
}

// Model returns the model every invocation is bound to.
func (f *Factory) Model() model.Model { return f.model }

// Build creates a fresh invocation. Descriptors without a tool binding are
// skipped; duplicates collapse to their first occurrence.
func (f *Factory) Build(opts BuildOptions) *Invocation {
	tools := make([]registry.Descriptor, 0, len(opts.Tools))
	seen := make(map[string]struct{}, len(opts.Tools))

	for _, d := range opts.Tools {
		if d.Tool == nil || d.Name == "" {
			continue
		}
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		tools = append(tools, d)
	}

	id := core.NewID()

	logger := logging.With(f.logger, "invocation_id", id)
	if opts.SessionID != "" {
		logger = logging.With(logger, "session_id", opts.SessionID)
	}

	inv := &Invocation{
		id:         id,
		model:      f.model,
		store:      f.store,
		sessionID:  opts.SessionID,
		tools:      tools,
		maxCalls:   f.maxCalls,
		executor:   f.executor,
		processors: f.processors,
		logger:     logger,
	}

	logger.Debug("flow.invocation.built", "tools", registry.Names(tools), "memory", inv.bound())

	return inv
}
