package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arashpx/seekly/internal/cite"
	"github.com/arashpx/seekly/internal/fragment"
	"github.com/arashpx/seekly/internal/jsonpartial"
	"github.com/arashpx/seekly/internal/stream"
	"github.com/arashpx/seekly/internal/telemetry"
	"github.com/arashpx/seekly/internal/tools"
)

var controllerTracer trace.Tracer = otel.Tracer("seekly/internal/agent/controller")

// errStreamClosed aborts in-flight work once the client is gone. The result
// of whatever call was running is discarded, never emitted.
var errStreamClosed = errors.New("client stream closed")

const evidenceSummaryChars = 400

// LLM is the slice of the provider the loop needs.
type LLM interface {
	Generate(ctx context.Context, prompt string, model string) (string, error)
	Stream(ctx context.Context, prompt string, model string, fn func(delta string) error) error
}

// Request is one validated chat turn handed to the loop by the HTTP layer.
type Request struct {
	Message     string
	ChatID      string
	MessageID   string
	Model       string
	AgentPrompt string
	History     string
	Caller      tools.CallerContext
	Registry    *tools.Registry

	// Fragments may be supplied by the caller so tools can exclude evidence
	// already gathered this request. A nil store gets allocated on entry.
	Fragments *fragment.Store
}

// Outcome is everything the caller persists after the loop finishes. It is
// produced on every exit path, including abort, so the message and trace are
// written exactly once per request.
type Outcome struct {
	Answer      string
	Citations   []fragment.Citation
	CitationMap map[int]int
	Fragments   []fragment.Fragment
	Trace       []ReasoningStep
	Iterations  int
	ToolCalls   int
	Aborted     bool
	Err         error
}

// Controller drives the bounded retrieval loop for one request at a time.
// A single Controller is shared across requests; all mutable state lives in
// the per-run state so no locking is needed.
type Controller struct {
	llm           LLM
	synth         *Synthesizer
	maxIterations int
	threshold     int
	toolTimeout   time.Duration
	logger        *log.Logger
	metrics       *telemetry.Metrics
}

func NewController(llm LLM, synth *Synthesizer, maxIterations, failureThreshold int, toolTimeout time.Duration, metrics *telemetry.Metrics) *Controller {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &Controller{
		llm:           llm,
		synth:         synth,
		maxIterations: maxIterations,
		threshold:     failureThreshold,
		toolTimeout:   toolTimeout,
		logger:        log.New(log.Writer(), "[LOOP] ", log.LstdFlags),
		metrics:       metrics,
	}
}

// Title generates a short chat title for a new conversation with one
// non-streaming call.
func (c *Controller) Title(ctx context.Context, message, model string) (string, error) {
	raw, err := c.llm.Generate(ctx, titlePrompt(message), model)
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}
	title := strings.Trim(strings.TrimSpace(raw), `"`)
	if title == "" {
		return "", errors.New("title generation returned empty text")
	}
	return title, nil
}

// runState is the mutable state of one request: evidence, reasoning log,
// tool history, and the answer emission machinery. Owned by one goroutine.
// tracker and started belong to the current model stream and are reset by
// streamPlan: a final answer is not a prefix extension of earlier planning
// commentary, so deltas are only monotonic within one stream.
type runState struct {
	frags   *fragment.Store
	log     *ReasoningLog
	guard   *Guard
	tracker *jsonpartial.DeltaTracker
	seen    map[int]struct{}

	citations []fragment.Citation
	citeMap   map[int]int
	started   bool

	// answer mirrors the emitted text of the last stream that produced
	// any, so a partial answer survives a later answer-less planning turn.
	answer string
}

// Run executes the loop until it answers, exhausts its iteration budget,
// hits a fatal planner failure, or loses the client. The terminal End event
// is emitted on every one of those paths.
func (c *Controller) Run(ctx context.Context, req Request, sink stream.Emitter) (out Outcome) {
	ctx, span := controllerTracer.Start(ctx, "agent.Run",
		trace.WithAttributes(attribute.String("chat_id", req.ChatID)))
	defer span.End()
	started := time.Now()

	if req.Fragments == nil {
		req.Fragments = fragment.NewStore()
	}
	st := &runState{
		frags:   req.Fragments,
		log:     &ReasoningLog{},
		guard:   NewGuard(c.threshold),
		tracker: &jsonpartial.DeltaTracker{},
		seen:    make(map[int]struct{}),
		citeMap: make(map[int]int),
	}
	dispatcher := tools.NewDispatcher(req.Registry, c.toolTimeout)

	defer func() {
		out.Answer = st.answer
		out.Citations = st.citations
		out.CitationMap = st.citeMap
		out.Fragments = st.frags.All()
		out.Trace = st.log.Steps()
		span.SetAttributes(
			attribute.Int("iterations", out.Iterations),
			attribute.Int("tool_calls", out.ToolCalls),
			attribute.Bool("aborted", out.Aborted),
		)
		c.metrics.ObserveRequest(outcomeLabel(out), out.Iterations, time.Since(started).Seconds())
		c.emit(sink, stream.Event{Type: stream.EventResponseMetadata, Payload: stream.MetadataPayload{
			ChatID: req.ChatID, MessageID: req.MessageID, Model: req.Model,
		}})
		c.emit(sink, stream.Event{Type: stream.EventEnd})
	}()

	c.emit(sink, stream.Event{Type: stream.EventResponseMetadata, Payload: stream.MetadataPayload{
		ChatID: req.ChatID, MessageID: req.MessageID, Model: req.Model,
	}})

	for iter := 1; iter <= c.maxIterations; iter++ {
		out.Iterations = iter
		if c.aborted(ctx, sink) {
			out.Aborted = true
			return
		}

		c.step(sink, st, ReasoningStep{Kind: StepIteration, Iteration: iter})

		critique := ""
		if iter > 1 {
			critique = st.guard.Critique("")
		}
		prompt := planningPrompt(promptInput{
			Message:     req.Message,
			AgentPrompt: req.AgentPrompt,
			ToolCatalog: req.Registry.Describe(),
			History:     req.History,
			Reasoning:   st.log.Render(),
			Evidence:    st.frags.Summary(evidenceSummaryChars),
			Critique:    critique,
		})
		c.step(sink, st, ReasoningStep{Kind: StepPlanning, Text: "deciding the next step"})

		plan, err := c.streamPlan(ctx, prompt, req.Model, sink, st)
		if err != nil {
			if errors.Is(err, errStreamClosed) || errors.Is(err, context.Canceled) {
				out.Aborted = true
				return
			}
			// A planner failure is fatal: without a plan there is nothing
			// left to drive the loop.
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			out.Err = fmt.Errorf("planning call failed: %w", err)
			c.emit(sink, stream.Event{Type: stream.EventError, Payload: stream.ErrorPayload{
				Message: "the assistant hit an internal error while planning",
			}})
			return
		}

		if plan.Tool == "" {
			if strings.TrimSpace(plan.Answer) != "" {
				// The planner answered directly; the text already went out
				// through the delta tracker while streaming.
				st.resolveCitations(sink, c)
				return
			}
			c.step(sink, st, ReasoningStep{
				Kind: StepValidationError,
				Text: "the planner returned neither a tool nor an answer, retrying",
			})
			continue
		}

		c.step(sink, st, ReasoningStep{Kind: StepToolSelected, Tool: plan.Tool, Args: plan.Arguments})
		if c.aborted(ctx, sink) {
			out.Aborted = true
			return
		}
		c.step(sink, st, ReasoningStep{Kind: StepToolExecuting, Tool: plan.Tool})

		res := dispatcher.Dispatch(ctx, plan.Tool, tools.Params(plan.Arguments), req.Caller)
		out.ToolCalls++
		c.metrics.ObserveToolCall(plan.Tool, res.Failed())
		st.guard.Record(plan.Tool, plan.Arguments, res.Failed())
		if res.Clamped {
			c.step(sink, st, ReasoningStep{
				Kind: StepPageSizeClamp,
				Tool: plan.Tool,
				Text: fmt.Sprintf("requested page size capped at %d", tools.MaxPageSize),
			})
		}

		if c.aborted(ctx, sink) {
			out.Aborted = true
			return
		}

		if res.Failed() {
			c.step(sink, st, ReasoningStep{Kind: StepToolResult, Tool: plan.Tool, Text: res.Error})
			if st.guard.Exhausted() {
				c.step(sink, st, ReasoningStep{
					Kind: StepBroadeningSearch,
					Text: "the same call keeps failing, broadening the search",
				})
			}
			continue
		}

		added := st.frags.Add(res.Fragments...)
		c.step(sink, st, ReasoningStep{
			Kind: StepToolResult,
			Tool: plan.Tool,
			Text: fmt.Sprintf("%s (%d new evidence fragment(s))", res.Result, added),
		})

		// Sufficiency is judged whenever any evidence exists, even when
		// this call only returned duplicates of what is already held.
		if st.frags.Len() == 0 {
			continue
		}

		verdict := c.synth.Evaluate(ctx, req.Message, st.frags.Summary(evidenceSummaryChars))
		c.step(sink, st, ReasoningStep{
			Kind: StepSynthesis,
			Text: fmt.Sprintf("evidence judged %s", verdict.State),
		})
		if c.aborted(ctx, sink) {
			out.Aborted = true
			return
		}

		switch verdict.State {
		case SynthesisComplete:
			err := c.streamFinal(ctx, req, sink, st, bestEffortPrompt(req.Message, st.frags.Summary(evidenceSummaryChars)))
			if errors.Is(err, errStreamClosed) || errors.Is(err, context.Canceled) {
				out.Aborted = true
			} else if err != nil {
				out.Err = err
			}
			return
		case SynthesisNotFound:
			c.step(sink, st, ReasoningStep{
				Kind: StepBroadeningSearch,
				Text: "current evidence does not match, broadening the search",
			})
		}
	}

	// Iteration budget spent: still answer with whatever evidence exists.
	c.step(sink, st, ReasoningStep{
		Kind: StepLogMessage,
		Text: "iteration budget exhausted, answering with available evidence",
	})
	err := c.streamFinal(ctx, req, sink, st, bestEffortPrompt(req.Message, st.frags.Summary(evidenceSummaryChars)))
	if errors.Is(err, errStreamClosed) || errors.Is(err, context.Canceled) {
		out.Aborted = true
	} else if err != nil {
		// Even the best-effort call failed; surface the error but End still
		// follows via the deferred cleanup.
		span.RecordError(err)
		out.Err = err
		c.emit(sink, stream.Event{Type: stream.EventError, Payload: stream.ErrorPayload{
			Message: "the assistant could not produce an answer",
		}})
	}
	return
}

// streamPlan runs one planning call, feeding every chunk's full buffer to
// the incremental parser and emitting any answer text as it grows.
func (c *Controller) streamPlan(ctx context.Context, prompt, model string, sink stream.Emitter, st *runState) (jsonpartial.Result, error) {
	parser := jsonpartial.NewParser()
	st.tracker = &jsonpartial.DeltaTracker{}
	st.started = false
	var buffer strings.Builder
	err := c.llm.Stream(ctx, prompt, model, func(delta string) error {
		if sink.Closed() {
			return errStreamClosed
		}
		buffer.WriteString(delta)
		res := parser.Parse(buffer.String())
		if res.Answer != "" {
			st.emitAnswer(sink, c, res.Answer)
		}
		return nil
	})
	if err != nil {
		return parser.Last(), err
	}
	return parser.Parse(buffer.String()), nil
}

// streamFinal runs the answering call after evidence is judged sufficient or
// the budget is spent.
func (c *Controller) streamFinal(ctx context.Context, req Request, sink stream.Emitter, st *runState, prompt string) error {
	if sink.Closed() || ctx.Err() != nil {
		return errStreamClosed
	}
	_, err := c.streamPlan(ctx, prompt, req.Model, sink, st)
	if err != nil {
		return err
	}
	st.resolveCitations(sink, c)
	return nil
}

// aborted checks the only cancellation mechanism the loop honors: a closed
// sink or cancelled request context, re-checked at every suspension point.
func (c *Controller) aborted(ctx context.Context, sink stream.Emitter) bool {
	return sink.Closed() || ctx.Err() != nil
}

// emitAnswer pushes the monotonic suffix of the growing answer and re-scans
// the emitted text for new citation markers.
func (st *runState) emitAnswer(sink stream.Emitter, c *Controller, answer string) {
	delta := st.tracker.Delta(answer)
	if delta == "" {
		return
	}
	if !st.started {
		st.started = true
		c.emit(sink, stream.Event{Type: stream.EventStart})
	}
	c.emit(sink, stream.Event{Type: stream.EventResponseUpdate, Payload: stream.UpdatePayload{Delta: delta}})
	st.answer = st.tracker.Sent()
	st.resolveCitations(sink, c)
}

// resolveCitations extracts any newly visible markers from the emitted text
// and re-sends the full citation list when the set grew. The marker map is
// append-only for the duration of one answer.
func (st *runState) resolveCitations(sink stream.Emitter, c *Controller) {
	events := cite.ExtractNew(st.tracker.Sent(), st.seen, st.frags.All(), c.logger)
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		st.citeMap[ev.Index] = len(st.citations)
		st.citations = append(st.citations, ev.Citation)
	}
	c.emit(sink, stream.Event{Type: stream.EventCitationsUpdate, Payload: stream.CitationsPayload{
		Citations: st.citations,
		Map:       st.citeMap,
	}})
}

func (c *Controller) step(sink stream.Emitter, st *runState, step ReasoningStep) {
	st.log.Append(step)
	c.emit(sink, stream.Event{Type: stream.EventReasoning, Payload: stream.ReasoningPayload{Text: step.Line()}})
}

func (c *Controller) emit(sink stream.Emitter, ev stream.Event) {
	c.metrics.ObserveEvent(string(ev.Type))
	if err := sink.Emit(ev); err != nil && ev.Type != stream.EventEnd {
		c.logger.Printf("emit %s failed: %v", ev.Type, err)
	}
}

func outcomeLabel(out Outcome) string {
	switch {
	case out.Aborted:
		return "aborted"
	case out.Err != nil:
		return "error"
	default:
		return "answered"
	}
}
