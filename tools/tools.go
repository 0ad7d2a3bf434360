package tools

import (
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/docchat/config"
)

// Declaration describes a tool the model may request. Declarations come from
// the tool host and are passed unchanged with every completion request.
type Declaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Properties returns the "properties" member of the input schema, or an
// empty map when the schema has none.
func (d Declaration) Properties() map[string]interface{} {
	if props, ok := d.InputSchema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

// Required returns the names listed in the schema's "required" member.
func (d Declaration) Required() []string {
	var required []string
	switch r := d.InputSchema["required"].(type) {
	case []string:
		required = append(required, r...)
	case []interface{}:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return required
}

// ToolRegistry holds the declarations advertised by the tool host, keyed by name.
type ToolRegistry struct {
	tools map[string]Declaration
	order []string
}

func NewToolRegistry(decls []Declaration) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Declaration)}
	for _, d := range decls {
		r.Register(d)
	}
	return r
}

// Register adds a declaration. A later declaration with the same name
// replaces the earlier one but keeps its position.
func (r *ToolRegistry) Register(d Declaration) {
	if _, exists := r.tools[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = d
}

func (r *ToolRegistry) GetTool(name string) (Declaration, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// All returns every registered declaration in registration order.
func (r *ToolRegistry) All() []Declaration {
	all := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.tools[name])
	}
	return all
}

// GetActiveTools returns the declarations selected by a toolset. Entries are
// glob patterns ("*", "read_*", "edit_document"); a nil toolset selects
// everything. A literal entry that matches nothing is an error, a pattern
// that matches nothing is only logged.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Declaration, error) {
	if ts == nil {
		return r.All(), nil
	}

	var active []Declaration
	seen := make(map[string]bool)
	for _, pattern := range ts.Tools {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid tool pattern '%s' in toolset '%s'", pattern, ts.Name)
		}
		matched := false
		for _, name := range r.order {
			ok, err := doublestar.Match(pattern, name)
			if err != nil {
				return nil, fmt.Errorf("invalid tool pattern '%s' in toolset '%s': %w", pattern, ts.Name, err)
			}
			if !ok {
				continue
			}
			matched = true
			if !seen[name] {
				seen[name] = true
				active = append(active, r.tools[name])
			}
		}
		if !matched {
			if !isPattern(pattern) {
				return nil, fmt.Errorf("tool '%s' from toolset '%s' is not provided by the tool host", pattern, ts.Name)
			}
			slog.Warn("tool pattern matched nothing", "toolset", ts.Name, "pattern", pattern)
		}
	}
	return active, nil
}

func isPattern(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
