package flow

import (
	"context"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/model"
)

// InstructionsProcessor copies the call's system instruction into the request.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets the system instruction.
func (p *InstructionsProcessor) ProcessRequest(_ context.Context, inv *Invocation, call CallOptions, req *model.Request) error {
	req.Instructions = call.System
	if call.System != "" {
		inv.logger.Debug("flow.instructions.resolved", "length", len(call.System))
	}
	return nil
}

// ContentsProcessor loads the session history and appends the user prompt.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest builds the request contents. A failing history read is
// logged and the call proceeds without history.
func (p *ContentsProcessor) ProcessRequest(ctx context.Context, inv *Invocation, call CallOptions, req *model.Request) error {
	var contents []core.Content

	if inv.bound() {
		history, err := inv.store.Get(ctx, inv.sessionID)
		if err != nil {
			inv.logger.Warn("flow.memory.read_failed", "error", err)
		} else {
			contents = append(contents, core.MessagesToContents(history)...)
		}
	}

	req.Contents = append(contents, core.NewTextContent(core.RoleUser, call.Prompt))

	return nil
}

// ToolsProcessor declares exactly the capabilities in scope.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest adds one function definition per scoped capability.
func (p *ToolsProcessor) ProcessRequest(_ context.Context, inv *Invocation, _ CallOptions, req *model.Request) error {
	if len(inv.tools) == 0 {
		req.Tools = nil
		return nil
	}

	defs := make([]model.ToolDefinition, 0, len(inv.tools))
	for _, d := range inv.tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Tool.Parameters(),
			},
		})
	}

	req.Tools = defs

	return nil
}

// DefaultRequestProcessors returns the processors every invocation runs.
func DefaultRequestProcessors() []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(),
		NewContentsProcessor(),
		NewToolsProcessor(),
	}
}
