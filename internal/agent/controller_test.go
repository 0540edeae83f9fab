package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/arashpx/seekly/internal/fragment"
	"github.com/arashpx/seekly/internal/stream"
	"github.com/arashpx/seekly/internal/tools"
)

// scriptedLLM replays canned responses: one entry per Stream call, chunked
// into small pieces, and one entry per Generate call.
type scriptedLLM struct {
	streams     []string
	gens        []string
	streamCalls int
	genCalls    int
	failStream  bool
}

func (s *scriptedLLM) Stream(ctx context.Context, prompt, model string, fn func(delta string) error) error {
	if s.failStream {
		return errors.New("provider unavailable")
	}
	if s.streamCalls >= len(s.streams) {
		return fmt.Errorf("unexpected stream call %d", s.streamCalls+1)
	}
	text := s.streams[s.streamCalls]
	s.streamCalls++
	for len(text) > 0 {
		n := 7
		if n > len(text) {
			n = len(text)
		}
		if err := fn(text[:n]); err != nil {
			return err
		}
		text = text[n:]
	}
	return nil
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt, model string) (string, error) {
	if s.genCalls >= len(s.gens) {
		return "", fmt.Errorf("unexpected generate call %d", s.genCalls+1)
	}
	out := s.gens[s.genCalls]
	s.genCalls++
	return out, nil
}

// scriptedTool returns canned results in order, repeating the last one.
type scriptedTool struct {
	name    string
	results []tools.Result
	calls   int
	onCall  func(call int)
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "scripted test tool" }
func (t *scriptedTool) Execute(ctx context.Context, params tools.Params, caller tools.CallerContext) tools.Result {
	t.calls++
	if t.onCall != nil {
		t.onCall(t.calls)
	}
	i := t.calls - 1
	if i >= len(t.results) {
		i = len(t.results) - 1
	}
	return t.results[i]
}

func budgetFragments() []fragment.Fragment {
	return []fragment.Fragment{
		{
			ID:      "drive-42",
			Content: "Q3 budget totals and breakdown",
			Source: fragment.Citation{
				DocID: "drive-42", Title: "Q3 budget.xlsx", URL: "https://drive/q3", App: "drive", Entity: "file",
			},
			Confidence: 0.92,
		},
		{
			ID:      "mail-9",
			Content: "thread discussing the Q3 budget draft",
			Source: fragment.Citation{
				DocID: "mail-9", Title: "Re: Q3 budget", URL: "https://mail/9", App: "mail", Entity: "message",
			},
			Confidence: 0.81,
		},
	}
}

func newTestController(llm *scriptedLLM, maxIterations int) *Controller {
	synth := NewSynthesizer(llm, "synth-model", nil)
	return NewController(llm, synth, maxIterations, 2, time.Second, nil)
}

func registryWith(t *testing.T, tls ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range tls {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return reg
}

func countType(types []stream.EventType, want stream.EventType) int {
	n := 0
	for _, ty := range types {
		if ty == want {
			n++
		}
	}
	return n
}

func TestRunDirectAnswerWithoutTools(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{streams: []string{`{"answer": "your email is sam@acme.test"}`}}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()

	out := c.Run(context.Background(), Request{
		Message:  "What's my email?",
		ChatID:   "chat-1",
		Model:    "planner",
		History:  "user: my email is sam@acme.test",
		Registry: registryWith(t),
	}, sink)

	if out.Err != nil || out.Aborted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ToolCalls != 0 {
		t.Errorf("tool calls = %d, want 0", out.ToolCalls)
	}
	if out.Answer != "your email is sam@acme.test" {
		t.Errorf("answer = %q", out.Answer)
	}
	types := sink.Types()
	if countType(types, stream.EventStart) != 1 {
		t.Errorf("Start emitted %d times", countType(types, stream.EventStart))
	}
	if countType(types, stream.EventResponseUpdate) == 0 {
		t.Error("no ResponseUpdate events")
	}
	if countType(types, stream.EventEnd) != 1 {
		t.Errorf("End emitted %d times", countType(types, stream.EventEnd))
	}

	var assembled strings.Builder
	for _, ev := range sink.Events() {
		if ev.Type == stream.EventResponseUpdate {
			assembled.WriteString(ev.Payload.(stream.UpdatePayload).Delta)
		}
	}
	if assembled.String() != out.Answer {
		t.Errorf("reassembled deltas %q != answer %q", assembled.String(), out.Answer)
	}
}

func TestRunSingleRetrievalWithCitation(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "Q3 budget"}}`,
			`{"answer": "The Q3 budget doc is in Drive [1]."}`,
		},
		gens: []string{`{"synthesisState": "Complete"}`},
	}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()
	search := &scriptedTool{name: "search", results: []tools.Result{
		{Result: "found 2 result(s)", Fragments: budgetFragments()},
	}}

	out := c.Run(context.Background(), Request{
		Message:  "find the Q3 budget doc",
		ChatID:   "chat-2",
		Model:    "planner",
		Registry: registryWith(t, search),
	}, sink)

	if out.Err != nil || out.Aborted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", out.ToolCalls)
	}
	if len(out.Citations) != 1 {
		t.Fatalf("citations = %+v, want exactly one", out.Citations)
	}
	if out.Citations[0].DocID != "drive-42" {
		t.Errorf("citation = %+v, want drive-42", out.Citations[0])
	}
	if got, ok := out.CitationMap[1]; !ok || got != 0 {
		t.Errorf("citation map = %v, want {1: 0}", out.CitationMap)
	}
	if countType(sink.Types(), stream.EventCitationsUpdate) == 0 {
		t.Error("no CitationsUpdate event emitted")
	}
}

func TestRunExhaustedIterationsStillAnswers(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "missing thing"}}`,
			`{"tool": "search", "arguments": {"filter_query": "missing thing"}}`,
			`{"tool": "search", "arguments": {"filter_query": "missing thing"}}`,
			`{"answer": "I could not find anything relevant in your workspace."}`,
		},
	}
	c := newTestController(llm, 3)
	sink := stream.NewRecorder()
	failing := &scriptedTool{name: "search", results: []tools.Result{{Error: "no results"}}}

	out := c.Run(context.Background(), Request{
		Message:  "find the missing thing",
		ChatID:   "chat-3",
		Model:    "planner",
		Registry: registryWith(t, failing),
	}, sink)

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", out.Iterations)
	}
	if out.Answer == "" {
		t.Error("expected a best-effort answer")
	}
	types := sink.Types()
	if countType(types, stream.EventError) != 0 {
		t.Error("exhaustion must not produce an Error event")
	}
	if countType(types, stream.EventEnd) != 1 {
		t.Errorf("End emitted %d times", countType(types, stream.EventEnd))
	}
}

func TestRunClientDisconnectStopsLoop(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "budget"}}`,
			`{"tool": "search", "arguments": {"filter_query": "budget details"}}`,
		},
		gens: []string{`{"synthesisState": "Partial"}`},
	}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()
	search := &scriptedTool{
		name: "search",
		results: []tools.Result{
			{Result: "found 1 result(s)", Fragments: budgetFragments()[:1]},
			{Result: "found 1 result(s)", Fragments: budgetFragments()[1:]},
		},
		onCall: func(call int) {
			if call == 2 {
				sink.Close()
			}
		},
	}

	out := c.Run(context.Background(), Request{
		Message:  "find the budget",
		ChatID:   "chat-4",
		Model:    "planner",
		Registry: registryWith(t, search),
	}, sink)

	if !out.Aborted {
		t.Fatal("expected aborted outcome")
	}
	if llm.streamCalls != 2 {
		t.Errorf("stream calls = %d, want 2 (no turn 3)", llm.streamCalls)
	}
	if len(out.Fragments) == 0 {
		t.Error("partial evidence should survive for persistence")
	}
	if countType(sink.Types(), stream.EventEnd) != 1 {
		t.Errorf("End emitted %d times", countType(sink.Types(), stream.EventEnd))
	}
}

func TestRunPlannerFailureIsFatal(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{failStream: true}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()

	out := c.Run(context.Background(), Request{
		Message:  "anything",
		ChatID:   "chat-5",
		Model:    "planner",
		Registry: registryWith(t),
	}, sink)

	if out.Err == nil {
		t.Fatal("expected fatal error")
	}
	types := sink.Types()
	if countType(types, stream.EventError) != 1 {
		t.Errorf("Error emitted %d times, want 1", countType(types, stream.EventError))
	}
	if countType(types, stream.EventEnd) != 1 {
		t.Errorf("End emitted %d times, want 1", countType(types, stream.EventEnd))
	}
}

func TestRunToolErrorTriggersReplanning(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "bad"}}`,
			`{"answer": "Nothing matched that query."}`,
		},
	}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()
	failing := &scriptedTool{name: "search", results: []tools.Result{{Error: "connector down"}}}

	out := c.Run(context.Background(), Request{
		Message:  "find it",
		ChatID:   "chat-6",
		Model:    "planner",
		Registry: registryWith(t, failing),
	}, sink)

	if out.Err != nil || out.Aborted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", out.Iterations)
	}
	if countType(sink.Types(), stream.EventError) != 0 {
		t.Error("a tool failure must not surface as an Error event")
	}
}

func TestTitleTrimsQuotes(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{gens: []string{"\"Q3 budget hunt\"\n"}}
	c := newTestController(llm, 10)
	title, err := c.Title(context.Background(), "find the Q3 budget", "title-model")
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if title != "Q3 budget hunt" {
		t.Errorf("title = %q", title)
	}
}

func countKind(steps []ReasoningStep, want StepKind) int {
	n := 0
	for _, s := range steps {
		if s.Kind == want {
			n++
		}
	}
	return n
}

func TestRunCommentaryThenFinalAnswer(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"answer": "Let me look that up.", "tool": "search", "arguments": {"filter_query": "Q3 budget"}}`,
			`{"answer": "The Q3 budget doc is in Drive [1]."}`,
		},
		gens: []string{`{"synthesisState": "Complete"}`},
	}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()
	search := &scriptedTool{name: "search", results: []tools.Result{
		{Result: "found 2 result(s)", Fragments: budgetFragments()},
	}}

	out := c.Run(context.Background(), Request{
		Message:  "find the Q3 budget doc",
		ChatID:   "chat-7",
		Model:    "planner",
		Registry: registryWith(t, search),
	}, sink)

	if out.Err != nil || out.Aborted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", out.ToolCalls)
	}
	if out.Answer != "The Q3 budget doc is in Drive [1]." {
		t.Errorf("answer = %q, want the final answer, not planning commentary", out.Answer)
	}

	// Each stream that produces answer text opens with its own Start.
	types := sink.Types()
	if countType(types, stream.EventStart) != 2 {
		t.Errorf("Start emitted %d times, want 2", countType(types, stream.EventStart))
	}

	// The deltas after the second Start must reassemble the final answer.
	starts := 0
	var final strings.Builder
	for _, ev := range sink.Events() {
		switch ev.Type {
		case stream.EventStart:
			starts++
		case stream.EventResponseUpdate:
			if starts == 2 {
				final.WriteString(ev.Payload.(stream.UpdatePayload).Delta)
			}
		}
	}
	if final.String() != out.Answer {
		t.Errorf("final-stream deltas %q != answer %q", final.String(), out.Answer)
	}

	if len(out.Citations) != 1 || out.Citations[0].DocID != "drive-42" {
		t.Errorf("citations = %+v, want drive-42", out.Citations)
	}
	if countType(types, stream.EventCitationsUpdate) == 0 {
		t.Error("no CitationsUpdate event for the final answer")
	}
}

func TestRunRecordsPageSizeClamp(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "Q3 budget", "limit": 500}}`,
			`{"answer": "The Q3 budget doc is in Drive [1]."}`,
		},
		gens: []string{`{"synthesisState": "Complete"}`},
	}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()
	search := &scriptedTool{name: "search", results: []tools.Result{
		{Result: "found 2 result(s)", Fragments: budgetFragments()},
	}}

	out := c.Run(context.Background(), Request{
		Message:  "find the Q3 budget doc",
		ChatID:   "chat-8",
		Model:    "planner",
		Registry: registryWith(t, search),
	}, sink)

	if out.Err != nil || out.Aborted {
		t.Fatalf("outcome = %+v", out)
	}
	if countKind(out.Trace, StepPageSizeClamp) != 1 {
		t.Fatalf("trace has %d clamp step(s), want 1: %+v", countKind(out.Trace, StepPageSizeClamp), out.Trace)
	}
	for _, step := range out.Trace {
		if step.Kind == StepPageSizeClamp && step.Tool != "search" {
			t.Errorf("clamp step tool = %q, want search", step.Tool)
		}
	}
}

func TestRunRepeatedFailureAddsBroadeningStep(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "missing thing"}}`,
			`{"tool": "search", "arguments": {"filter_query": "missing thing"}}`,
			`{"tool": "search", "arguments": {"filter_query": "missing thing"}}`,
			`{"answer": "I could not find anything relevant."}`,
		},
	}
	c := newTestController(llm, 3)
	sink := stream.NewRecorder()
	failing := &scriptedTool{name: "search", results: []tools.Result{{Error: "no results"}}}

	out := c.Run(context.Background(), Request{
		Message:  "find the missing thing",
		ChatID:   "chat-9",
		Model:    "planner",
		Registry: registryWith(t, failing),
	}, sink)

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if countKind(out.Trace, StepBroadeningSearch) == 0 {
		t.Error("no broadening step after the failure threshold was passed")
	}
}

func TestRunDuplicateEvidenceStillEvaluated(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{
		streams: []string{
			`{"tool": "search", "arguments": {"filter_query": "budget"}}`,
			`{"tool": "search", "arguments": {"filter_query": "budget details"}}`,
			`{"answer": "The Q3 budget doc is in Drive [1]."}`,
		},
		gens: []string{
			`{"synthesisState": "Partial"}`,
			`{"synthesisState": "Complete"}`,
		},
	}
	c := newTestController(llm, 10)
	sink := stream.NewRecorder()
	search := &scriptedTool{name: "search", results: []tools.Result{
		{Result: "found 2 result(s)", Fragments: budgetFragments()},
		{Result: "found 2 result(s)", Fragments: budgetFragments()},
	}}

	out := c.Run(context.Background(), Request{
		Message:  "find the Q3 budget doc",
		ChatID:   "chat-10",
		Model:    "planner",
		Registry: registryWith(t, search),
	}, sink)

	if out.Err != nil || out.Aborted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ToolCalls != 2 {
		t.Errorf("tool calls = %d, want 2", out.ToolCalls)
	}
	// The second call added nothing new, but evidence exists, so the
	// evaluator still ran and ended the loop.
	if llm.genCalls != 2 {
		t.Errorf("evaluator ran %d time(s), want 2", llm.genCalls)
	}
	if len(out.Fragments) != 2 {
		t.Errorf("fragments = %d, want 2 (duplicates dropped)", len(out.Fragments))
	}
	if out.Answer == "" {
		t.Error("expected a final answer")
	}
}
