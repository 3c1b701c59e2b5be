package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mapache-ai/shaper/internal/learn"
	"github.com/mapache-ai/shaper/internal/ticket"
)

const pipelineScopeName = "github.com/mapache-ai/shaper/engine"

// Pipeline holds the engine's spans and metrics. Instruments are created
// eagerly; when telemetry is disabled the no-op providers make every
// record free.
type Pipeline struct {
	tracer     trace.Tracer
	triaged    metric.Int64Counter
	stageDur   metric.Float64Histogram
	dispatched metric.Int64Counter
}

// NewPipeline builds the engine instruments. Call after Init.
func NewPipeline() *Pipeline {
	m := Meter(pipelineScopeName)
	triaged, _ := m.Int64Counter("shaper.tickets.triaged",
		metric.WithDescription("Tickets run through the triage pipeline, by outcome"),
	)
	stageDur, _ := m.Float64Histogram("shaper.stage.duration",
		metric.WithDescription("Pipeline stage duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	dispatched, _ := m.Int64Counter("shaper.dispatches",
		metric.WithDescription("Agent dispatch attempts, by outcome"),
	)
	return &Pipeline{
		tracer:     Tracer(pipelineScopeName),
		triaged:    triaged,
		stageDur:   stageDur,
		dispatched: dispatched,
	}
}

// StartRun opens a span around one engine operation.
func (p *Pipeline) StartRun(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

// EndRun closes the span, recording err when present.
func EndRun(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ObserveStage records one pipeline stage's duration.
func (p *Pipeline) ObserveStage(ctx context.Context, stage string, start time.Time) {
	p.stageDur.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// CountTriaged counts one completed pipeline run. Failed and skipped runs
// report those outcomes instead of the lifecycle status.
func (p *Pipeline) CountTriaged(ctx context.Context, status ticket.Status, skipped, failed bool) {
	outcome := string(status)
	switch {
	case failed:
		outcome = "failed"
	case skipped:
		outcome = "skipped"
	}
	p.triaged.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CountDispatch counts one agent dispatch attempt.
func (p *Pipeline) CountDispatch(ctx context.Context, outcome string) {
	p.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// instrumentedCreator wraps the improvement-ticket creator with a span and
// a counter per filing.
type instrumentedCreator struct {
	inner  learn.Creator
	tracer trace.Tracer
	filed  metric.Int64Counter
}

// WrapCreator returns c decorated with OTel instrumentation. When
// telemetry is disabled, c is returned as-is with zero overhead. Call
// after Init.
func WrapCreator(c learn.Creator) learn.Creator {
	if !Enabled() {
		return c
	}
	m := Meter(pipelineScopeName)
	filed, _ := m.Int64Counter("shaper.improvements.filed",
		metric.WithDescription("Improvement tickets filed by the self-learning recorder"),
	)
	return &instrumentedCreator{
		inner:  c,
		tracer: Tracer(pipelineScopeName),
		filed:  filed,
	}
}

func (c *instrumentedCreator) Create(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	ctx, span := c.tracer.Start(ctx, "learn.file",
		trace.WithAttributes(attribute.String("shaper.ticket.title", t.Title)),
	)
	created, err := c.inner.Create(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		c.filed.Add(ctx, 1)
	}
	span.End()
	return created, err
}
