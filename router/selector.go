package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/internal/util"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
)

// SelectorPrompt renders the capability selection instruction. It receives
// "Tools" ([]registry.Descriptor) and "Input" (string).
const SelectorPrompt = `You are a tool selection assistant. Based on the user's request, choose the tools required to fulfil it from the list below.

Available tools:
{{range .Tools}}{{.Name}} : {{.Description}}
{{end}}
User request: {{.Input}}

Respond only with JSON of the form {"tools": ["tool_name_1", "tool_name_2"]}. Use an empty list when no tool is needed. Do not add any other text.`

var errEmptySelection = errors.New("model returned no text")

// Catalog lists the capabilities a Selector can choose from.
type Catalog interface {
	All() []registry.Descriptor
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	Logger logging.Logger
	// Prompt overrides SelectorPrompt.
	Prompt string
}

// Selector asks the model which capabilities a task needs.
type Selector struct {
	model   model.Model
	catalog Catalog
	prompt  string
	logger  logging.Logger
}

// NewSelector creates a Selector choosing from catalog.
func NewSelector(m model.Model, catalog Catalog, optFns ...func(o *SelectorOptions)) *Selector {
	opts := SelectorOptions{
		Logger: logging.NoOpLogger{},
		Prompt: SelectorPrompt,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Selector{model: m, catalog: catalog, prompt: opts.Prompt, logger: opts.Logger}
}

type selection struct {
	Tools []string `json:"tools"`
}

// Select returns the capability names chosen for input in model order with
// duplicates removed. Names are not checked against the catalog. Any failure
// yields an empty selection.
func (s *Selector) Select(ctx context.Context, input string) []string {
	names, err := s.selectNames(ctx, input)
	if err != nil {
		s.logger.Warn("router.select.fallback", "error", err)
		return []string{}
	}

	s.logger.Debug("router.select.completed", "tools", names)

	return names
}

func (s *Selector) selectNames(ctx context.Context, input string) ([]string, error) {
	prompt, err := util.RenderTemplate(s.prompt, map[string]any{
		"Tools": s.catalog.All(),
		"Input": strings.TrimSpace(input),
	})
	if err != nil {
		return nil, &core.SelectionError{Err: err}
	}

	resp, err := model.Collect(ctx, s.model, model.Request{
		Contents: []core.Content{core.NewTextContent(core.RoleUser, prompt)},
	})
	if err != nil {
		return nil, &core.SelectionError{Err: err}
	}

	raw := resp.Content.Text()

	body := stripCodeFence(raw)
	if body == "" {
		return nil, &core.SelectionError{Err: errEmptySelection, Raw: raw}
	}

	var sel selection
	if err := json.Unmarshal([]byte(body), &sel); err != nil {
		return nil, &core.SelectionError{Err: err, Raw: raw}
	}

	names, dups := dedupe(sel.Tools)
	if dups > 0 {
		s.logger.Debug("router.select.duplicates", "count", dups)
	}

	return names, nil
}

// stripCodeFence removes a surrounding markdown code fence such as ```json.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}

	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}

func dedupe(names []string) ([]string, int) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	dups := 0

	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			dups++
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	return out, dups
}
