package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExecutionRecord tracks repeated calls to one tool+arguments combination.
type ExecutionRecord struct {
	Tool         string
	Args         map[string]interface{}
	Calls        int
	FailureCount int
	LastCall     time.Time
}

// Guard detects stagnation: the planner re-selecting a tool call that keeps
// failing, or circling through calls it has already made. It holds the
// per-request tool history, keyed by a canonical rendering of tool name plus
// arguments so map iteration order cannot split identical calls.
type Guard struct {
	threshold int
	history   map[string]*ExecutionRecord
	order     []string
}

func NewGuard(failureThreshold int) *Guard {
	if failureThreshold <= 0 {
		failureThreshold = 2
	}
	return &Guard{
		threshold: failureThreshold,
		history:   make(map[string]*ExecutionRecord),
	}
}

// Record notes one completed tool call and whether it failed.
func (g *Guard) Record(tool string, args map[string]interface{}, failed bool) {
	key := callKey(tool, args)
	rec, ok := g.history[key]
	if !ok {
		rec = &ExecutionRecord{Tool: tool, Args: args}
		g.history[key] = rec
		g.order = append(g.order, key)
	}
	rec.Calls++
	if failed {
		rec.FailureCount++
	} else {
		rec.FailureCount = 0
	}
	rec.LastCall = time.Now().UTC()
}

// Critique produces a directive for the next planning prompt, or empty when
// there is no history yet. Above the failure threshold the directive is a
// hard demand for a different tool or different arguments; below it, a
// softer reminder of what was already tried.
func (g *Guard) Critique(proposedTool string) string {
	if len(g.order) == 0 {
		return ""
	}
	last := g.history[g.order[len(g.order)-1]]
	if last.FailureCount > g.threshold || (proposedTool != "" && proposedTool == last.Tool && last.FailureCount >= g.threshold) {
		args, _ := json.Marshal(last.Args)
		return fmt.Sprintf(
			"IMPORTANT: the call %s(%s) has now failed %d times in a row. Do NOT repeat it. "+
				"Choose a different tool or substantially different arguments, or answer with the evidence you already have.",
			last.Tool, args, last.FailureCount)
	}
	return fmt.Sprintf(
		"You already tried the following tool calls:\n%s"+
			"Try something different instead of repeating them.",
		g.renderHistory())
}

// Exhausted reports whether the most recent call is past the failure
// threshold, used to pick a broadening step.
func (g *Guard) Exhausted() bool {
	if len(g.order) == 0 {
		return false
	}
	return g.history[g.order[len(g.order)-1]].FailureCount > g.threshold
}

func (g *Guard) renderHistory() string {
	var b strings.Builder
	for _, key := range g.order {
		rec := g.history[key]
		args, _ := json.Marshal(rec.Args)
		b.WriteString(fmt.Sprintf("- %s(%s), called %d time(s)", rec.Tool, args, rec.Calls))
		if rec.FailureCount > 0 {
			b.WriteString(fmt.Sprintf(", %d failure(s)", rec.FailureCount))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// callKey renders a stable key for one tool invocation. Arguments are
// serialized with sorted keys so logically identical calls collide.
func callKey(tool string, args map[string]interface{}) string {
	if len(args) == 0 {
		return tool + "()"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(tool)
	b.WriteString("(")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		v, _ := json.Marshal(args[k])
		b.WriteString(k)
		b.WriteString("=")
		b.Write(v)
	}
	b.WriteString(")")
	return b.String()
}
