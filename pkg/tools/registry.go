package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/providers"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-schema object with "properties" and
	// optionally "required".
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Re-registering a name replaces the previous
// tool; the collision is logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		logger.WarnCF("tools", "Replacing already registered tool",
			map[string]interface{}{"tool": t.Name()})
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// UnregisterPrefix drops every tool whose name starts with prefix and
// returns how many were removed.
func (r *Registry) UnregisterPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
			removed++
		}
	}
	return removed
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs converts the registered tools into provider tool definitions.
func (r *Registry) Defs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// RequiredParams extracts the "required" list from a JSON-schema map.
func RequiredParams(schema map[string]interface{}) []string {
	switch r := schema["required"].(type) {
	case []string:
		return r
	case []interface{}:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasParam reports whether the schema declares a property with the
// given name.
func HasParam(schema map[string]interface{}, name string) bool {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = props[name]
	return ok
}

// MissingRequired returns the first required parameter absent or empty
// in args, or "" when all are present.
func MissingRequired(schema map[string]interface{}, args map[string]interface{}) string {
	for _, name := range RequiredParams(schema) {
		v, ok := args[name]
		if !ok || v == nil {
			return name
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return name
		}
	}
	return ""
}
