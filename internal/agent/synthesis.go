package agent

import (
	"context"
	"encoding/json"
	"log"
	"strings"
)

// SynthesisState classifies whether accumulated evidence answers the query.
type SynthesisState string

const (
	SynthesisComplete SynthesisState = "Complete"
	SynthesisPartial  SynthesisState = "Partial"
	SynthesisNotFound SynthesisState = "NotFound"
)

// SynthesisResult is the evaluator's verdict, with an optional draft answer
// when the evidence is complete.
type SynthesisResult struct {
	State  SynthesisState
	Answer string
}

// llmCaller is the single non-streaming completion the evaluator needs.
type llmCaller interface {
	Generate(ctx context.Context, prompt string, model string) (string, error)
}

// Synthesizer judges evidence sufficiency with one non-streaming model call
// per evaluation. Its defaults are deliberately conservative: a malformed or
// failed evaluation never short-circuits the loop into a wrong "done".
type Synthesizer struct {
	llm    llmCaller
	model  string
	logger *log.Logger
}

func NewSynthesizer(llm llmCaller, model string, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{llm: llm, model: model, logger: logger}
}

type synthesisPayload struct {
	SynthesisState *string `json:"synthesisState"`
	Answer         string  `json:"answer"`
}

// Evaluate classifies the evidence gathered so far against the query.
// Failure handling: a failed model call or valid JSON missing the state key
// degrade to Partial (force another iteration); unparsable output degrades
// to NotFound (the evidence judgment cannot be trusted at all).
func (s *Synthesizer) Evaluate(ctx context.Context, query, evidence string) SynthesisResult {
	prompt := synthesisPrompt(query, evidence)
	raw, err := s.llm.Generate(ctx, prompt, s.model)
	if err != nil {
		s.logger.Printf("synthesis call failed, defaulting to Partial: %v", err)
		return SynthesisResult{State: SynthesisPartial}
	}

	var payload synthesisPayload
	if err := json.Unmarshal([]byte(extractObject(raw)), &payload); err != nil {
		s.logger.Printf("synthesis output unparsable, defaulting to NotFound: %v", err)
		return SynthesisResult{State: SynthesisNotFound}
	}
	if payload.SynthesisState == nil {
		s.logger.Printf("synthesis output missing state, defaulting to Partial")
		return SynthesisResult{State: SynthesisPartial, Answer: payload.Answer}
	}

	switch SynthesisState(strings.TrimSpace(*payload.SynthesisState)) {
	case SynthesisComplete:
		return SynthesisResult{State: SynthesisComplete, Answer: payload.Answer}
	case SynthesisNotFound:
		return SynthesisResult{State: SynthesisNotFound, Answer: payload.Answer}
	case SynthesisPartial:
		return SynthesisResult{State: SynthesisPartial, Answer: payload.Answer}
	default:
		s.logger.Printf("synthesis returned unknown state %q, defaulting to Partial", *payload.SynthesisState)
		return SynthesisResult{State: SynthesisPartial, Answer: payload.Answer}
	}
}

// extractObject trims any prose or markdown fencing around the first JSON
// object in raw model output.
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
