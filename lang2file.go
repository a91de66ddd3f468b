// Package lang2file turns natural-language requests into file operations.
//
// A Lang2File routes each request through a fixed pipeline:
//  1. Classify the input as a task or plain chat (rules first, model last)
//  2. For chat, answer without any capability, bound to a conversation session
//  3. For tasks, let the model select the capabilities it needs, resolve them
//     against the registry and run a scoped invocation exposing only those
//
// Every request builds its own invocation. The registry is frozen when the
// Lang2File is created and read concurrently afterwards.
package lang2file

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/flow"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/memory"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
	"github.com/hupe1980/lang2file/router"
)

// ErrInvalidInput is returned for blank requests.
var ErrInvalidInput = core.ErrInvalidInput

// Options configures a Lang2File instance.
type Options struct {
	// Store keeps conversation history (defaults to an in-memory store).
	Store core.ConversationStore
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
	// MaxModelCalls bounds the tool loop of one request.
	MaxModelCalls int
	// MaxParallelTools bounds concurrent tool calls within one model turn.
	MaxParallelTools int
	// ChatInstructions is the system prompt of the capability-free branch.
	ChatInstructions string
	// TaskInstructions is the system prompt of the task branch.
	TaskInstructions string
}

// Reply is the outcome of a blocking request.
type Reply struct {
	SessionID string   `json:"session_id,omitempty"`
	Text      string   `json:"text"`
	Task      bool     `json:"task"`
	Tools     []string `json:"tools"`
}

// Stream is the outcome of a streaming request. Fragments is closed when the
// answer is complete; Err then yields at most one error.
type Stream struct {
	SessionID string
	Task      bool
	Tools     []string
	Fragments <-chan string
	Err       <-chan error
}

// Lang2File is the orchestration façade.
type Lang2File struct {
	registry   *registry.Registry
	classifier *router.Classifier
	selector   *router.Selector
	factory    *flow.Factory
	store      core.ConversationStore
	logger     logging.Logger
	chatSystem string
	taskSystem string
}

// New creates a Lang2File over the given model and registry. The registry is
// frozen.
func New(m model.Model, reg *registry.Registry, optFns ...func(o *Options)) (*Lang2File, error) {
	if m == nil {
		return nil, errors.New("lang2file: model is required")
	}

	if reg == nil {
		return nil, errors.New("lang2file: registry is required")
	}

	opts := Options{
		Logger:        logging.NoOpLogger{},
		MaxModelCalls: flow.DefaultMaxModelCalls,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Store == nil {
		opts.Store = memory.NewInMemoryStore()
	}

	factory, err := flow.NewFactory(m, func(o *flow.Options) {
		o.Store = opts.Store
		o.Logger = opts.Logger
		o.MaxModelCalls = opts.MaxModelCalls
		o.MaxParallelTools = opts.MaxParallelTools
	})
	if err != nil {
		return nil, err
	}

	reg.Freeze()

	return &Lang2File{
		registry:   reg,
		classifier: router.NewClassifier(m, func(o *router.ClassifierOptions) { o.Logger = opts.Logger }),
		selector:   router.NewSelector(m, reg, func(o *router.SelectorOptions) { o.Logger = opts.Logger }),
		factory:    factory,
		store:      opts.Store,
		logger:     opts.Logger,
		chatSystem: opts.ChatInstructions,
		taskSystem: opts.TaskInstructions,
	}, nil
}

// Registry returns the frozen capability registry.
func (l *Lang2File) Registry() *registry.Registry { return l.registry }

// Chat answers input in a fresh session.
func (l *Lang2File) Chat(ctx context.Context, input string) (*Reply, error) {
	return l.ChatSession(ctx, "", input)
}

// ChatSession answers input within sessionID. An empty sessionID starts a
// new session for chat; tasks then run without memory.
func (l *Lang2File) ChatSession(ctx context.Context, sessionID, input string) (*Reply, error) {
	plan, err := l.plan(ctx, sessionID, input)
	if err != nil {
		return nil, err
	}

	text, err := plan.invocation.Complete(ctx, flow.CallOptions{Prompt: input, System: plan.system})
	if err != nil {
		return nil, err
	}

	return &Reply{
		SessionID: plan.sessionID,
		Text:      text,
		Task:      plan.task,
		Tools:     plan.tools,
	}, nil
}

// ChatStream streams the answer to input in a fresh session.
func (l *Lang2File) ChatStream(ctx context.Context, input string) (*Stream, error) {
	return l.ChatSessionStream(ctx, "", input)
}

// ChatSessionStream streams the answer to input within sessionID. Routing
// happens before it returns; only the final completion is streamed.
func (l *Lang2File) ChatSessionStream(ctx context.Context, sessionID, input string) (*Stream, error) {
	plan, err := l.plan(ctx, sessionID, input)
	if err != nil {
		return nil, err
	}

	fragments, errCh := plan.invocation.Stream(ctx, flow.CallOptions{Prompt: input, System: plan.system})

	return &Stream{
		SessionID: plan.sessionID,
		Task:      plan.task,
		Tools:     plan.tools,
		Fragments: fragments,
		Err:       errCh,
	}, nil
}

// History returns the stored conversation of sessionID.
func (l *Lang2File) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	return l.store.Get(ctx, sessionID)
}

// Reset clears the stored conversation of sessionID.
func (l *Lang2File) Reset(ctx context.Context, sessionID string) error {
	return l.store.Clear(ctx, sessionID)
}

type routePlan struct {
	invocation *flow.Invocation
	sessionID  string
	system     string
	task       bool
	tools      []string
}

// plan routes input to a branch and builds its invocation.
func (l *Lang2File) plan(ctx context.Context, sessionID, input string) (*routePlan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrInvalidInput
	}

	decision := l.classifier.Classify(ctx, input)

	if !decision.Task {
		if sessionID == "" {
			sessionID = core.NewSessionID()
		}

		l.logger.Info("lang2file.route.chat", "reason", string(decision.Reason), "session_id", sessionID)

		return &routePlan{
			invocation: l.factory.Build(flow.BuildOptions{SessionID: sessionID}),
			sessionID:  sessionID,
			system:     l.chatSystem,
			tools:      []string{},
		}, nil
	}

	selected := l.selector.Select(ctx, input)
	descriptors := l.registry.ByNames(selected)
	tools := registry.Names(descriptors)

	if len(selected) != len(tools) {
		l.logger.Debug("lang2file.route.unknown_tools", "selected", selected, "resolved", tools)
	}

	l.logger.Info("lang2file.route.task", "reason", string(decision.Reason), "tools", tools, "session_id", sessionID)

	return &routePlan{
		invocation: l.factory.Build(flow.BuildOptions{Tools: descriptors, SessionID: sessionID}),
		sessionID:  sessionID,
		system:     l.taskSystem,
		task:       true,
		tools:      tools,
	}, nil
}
