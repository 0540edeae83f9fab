package tools

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dispatchTracer trace.Tracer = otel.Tracer("seekly/internal/tools/dispatcher")

// MaxPageSize caps the limit any single tool call may request.
const MaxPageSize = 50

// Dispatcher resolves tool names against a registry and normalizes every
// failure mode into a Result. It never returns a Go error: an unknown tool,
// invalid parameters, or a connector crash all come back as Result.Error so
// the planning loop can react.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *log.Logger
}

func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// Dispatch runs one tool call. Page-size arguments are clamped to
// MaxPageSize before execution rather than rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params Params, caller CallerContext) Result {
	ctx, span := dispatchTracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	tool, ok := d.registry.Get(name)
	if !ok {
		d.logger.Printf("unknown tool requested: %s", name)
		span.SetStatus(codes.Error, "unknown tool")
		return Errorf("unknown tool %q; available tools: %v", name, d.registry.Names())
	}

	if params == nil {
		params = Params{}
	}
	clamped := clampPageSize(params)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res := tool.Execute(ctx, params, caller)
	res.Clamped = res.Clamped || clamped
	if res.Failed() {
		d.logger.Printf("tool %s failed: %s", name, res.Error)
		span.SetStatus(codes.Error, res.Error)
	} else {
		span.SetAttributes(attribute.Int("tool.fragments", len(res.Fragments)))
	}
	return res
}

// clampPageSize caps the common size arguments in place and reports whether
// anything was changed.
func clampPageSize(params Params) bool {
	clamped := false
	for _, key := range []string{"limit", "page_size", "max_results"} {
		n, ok := params.Int(key)
		if !ok {
			continue
		}
		if n > MaxPageSize {
			params[key] = float64(MaxPageSize)
			clamped = true
		}
		if n < 1 {
			params[key] = float64(1)
			clamped = true
		}
	}
	return clamped
}
