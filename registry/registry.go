// Package registry holds the process-wide catalog of capabilities.
//
// Capabilities are registered during startup (usually through providers),
// after which the registry is frozen. Every request then reads the same
// immutable catalog and picks its own subset with ByNames.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/tool"
)

// ErrRegistryFrozen is returned by Register after Freeze.
var ErrRegistryFrozen = errors.New("registry is frozen")

// Descriptor describes one registered capability.
type Descriptor struct {
	Name        string
	Description string
	Tool        tool.Tool
}

// Provider supplies a static list of capabilities.
type Provider interface {
	Capabilities() []tool.Tool
}

// Options configures a Registry.
type Options struct {
	Logger logging.Logger
}

// Registry maps capability names to descriptors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	frozen  bool
	logger  logging.Logger
}

// New creates an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Registry{
		entries: make(map[string]Descriptor),
		logger:  opts.Logger,
	}
}

// Register adds a capability. A later registration under an existing name
// replaces the earlier one.
func (r *Registry) Register(t tool.Tool) error {
	if t == nil {
		return errors.New("registry: nil tool")
	}

	name := t.Name()
	if name == "" {
		return errors.New("registry: tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", name, ErrRegistryFrozen)
	}

	if _, exists := r.entries[name]; exists {
		r.logger.Warn("registry.register.collision", "name", name)
	}

	r.entries[name] = Descriptor{Name: name, Description: t.Description(), Tool: t}
	r.logger.Debug("registry.register", "name", name)

	return nil
}

// RegisterProviders performs the startup registration pass over providers
// in order.
func (r *Registry) RegisterProviders(providers ...Provider) error {
	for _, p := range providers {
		for _, t := range p.Capabilities() {
			if err := r.Register(t); err != nil {
				return err
			}
		}
	}

	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.frozen {
		r.frozen = true
		r.logger.Info("registry.frozen", "capabilities", len(r.entries))
	}
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	return d, ok
}

// All returns every descriptor sorted by name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// ByNames resolves names to descriptors. Input order is preserved, unknown
// names are dropped and repeated names resolve once.
func (r *Registry) ByNames(names []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(names))
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if d, ok := r.entries[name]; ok {
			out = append(out, d)
		}
	}

	return out
}

// Names returns the names of the given descriptors in order.
func Names(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

// Tools returns the bindings of the given descriptors in order.
func Tools(ds []Descriptor) []tool.Tool {
	out := make([]tool.Tool, len(ds))
	for i, d := range ds {
		out[i] = d.Tool
	}
	return out
}
