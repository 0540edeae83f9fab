package tools

import (
	"context"
	"fmt"

	"github.com/arashpx/seekly/internal/fragment"
)

// Params carries the planner-supplied arguments for one tool call.
type Params map[string]interface{}

// String reads a string argument, empty when missing or mistyped.
func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Int reads a numeric argument. JSON numbers arrive as float64.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Strings reads a string-list argument. A bare string is treated as a
// one-element list since planners emit both shapes.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// CallerContext identifies who and what a tool call runs on behalf of.
type CallerContext struct {
	UserEmail   string
	WorkspaceID string
	AgentPrompt string
	Message     string
}

// Result is the normalized outcome every tool produces. Failures live in
// Error; tools never panic and never return a Go error to the dispatcher.
type Result struct {
	Result    string              `json:"result"`
	Fragments []fragment.Fragment `json:"contexts,omitempty"`
	Error     string              `json:"error,omitempty"`
	Clamped   bool                `json:"-"`
}

// Errorf builds a failed Result with a descriptive message.
func Errorf(format string, args ...interface{}) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Failed reports whether the call produced an error.
func (r Result) Failed() bool { return r.Error != "" }

// Tool is the single capability both internal retrieval tools and external
// connector tools implement.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params Params, caller CallerContext) Result
}
