package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StepKind tags one entry in the reasoning log.
type StepKind string

const (
	StepIteration        StepKind = "Iteration"
	StepPlanning         StepKind = "Planning"
	StepToolSelected     StepKind = "ToolSelected"
	StepToolExecuting    StepKind = "ToolExecuting"
	StepToolResult       StepKind = "ToolResult"
	StepSynthesis        StepKind = "Synthesis"
	StepValidationError  StepKind = "ValidationError"
	StepPageSizeClamp    StepKind = "PageSizeClamp"
	StepBroadeningSearch StepKind = "BroadeningSearch"
	StepLogMessage       StepKind = "LogMessage"
)

// ReasoningStep is one entry of the append-only reasoning log. The log is
// streamed to the client as human-readable text and replayed verbatim into
// the next planning prompt.
type ReasoningStep struct {
	Kind      StepKind               `json:"kind"`
	Text      string                 `json:"text"`
	Tool      string                 `json:"tool,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Iteration int                    `json:"iteration,omitempty"`
	At        time.Time              `json:"at"`
}

// Line renders the step for the reasoning stream.
func (s ReasoningStep) Line() string {
	switch s.Kind {
	case StepIteration:
		return fmt.Sprintf("--- iteration %d ---", s.Iteration)
	case StepToolSelected:
		if len(s.Args) > 0 {
			if args, err := json.Marshal(s.Args); err == nil {
				return fmt.Sprintf("selected tool %s with %s", s.Tool, args)
			}
		}
		return fmt.Sprintf("selected tool %s", s.Tool)
	case StepToolExecuting:
		return fmt.Sprintf("running %s", s.Tool)
	case StepToolResult, StepPageSizeClamp:
		return fmt.Sprintf("%s: %s", s.Tool, s.Text)
	default:
		return s.Text
	}
}

// ReasoningLog is the ordered, append-only record of one request.
type ReasoningLog struct {
	steps []ReasoningStep
}

func (l *ReasoningLog) Append(step ReasoningStep) {
	if step.At.IsZero() {
		step.At = time.Now().UTC()
	}
	l.steps = append(l.steps, step)
}

func (l *ReasoningLog) Steps() []ReasoningStep {
	out := make([]ReasoningStep, len(l.steps))
	copy(out, l.steps)
	return out
}

func (l *ReasoningLog) Len() int { return len(l.steps) }

// Render joins the log as the verbatim context block re-injected into each
// planning prompt.
func (l *ReasoningLog) Render() string {
	if len(l.steps) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range l.steps {
		b.WriteString(s.Line())
		b.WriteString("\n")
	}
	return b.String()
}

// Serialize encodes the log for trace persistence.
func (l *ReasoningLog) Serialize() ([]byte, error) {
	return json.Marshal(l.steps)
}
