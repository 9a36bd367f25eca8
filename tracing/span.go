package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/colorfulnotion/eravm"

// SpanTracer opens one span per far frame, nested the way the frames are.
// Near calls are recorded as events on the span of their far frame.
type SpanTracer struct {
	tracer trace.Tracer
	spans  []trace.Span
	ctxs   []context.Context
	steps  []uint64
}

// NewSpanTracer creates spans below ctx. Call Finish once the run has ended.
func NewSpanTracer(ctx context.Context, tp trace.TracerProvider) *SpanTracer {
	return &SpanTracer{
		tracer: tp.Tracer(instrumentationName),
		ctxs:   []context.Context{ctx},
	}
}

func (t *SpanTracer) start(f vm.FrameInfo, name string) {
	parent := t.ctxs[len(t.ctxs)-1]
	ctx, span := t.tracer.Start(parent, name, trace.WithAttributes(
		attribute.String("eravm.address", f.Address.String()),
		attribute.String("eravm.code_address", f.CodeAddress.String()),
		attribute.String("eravm.caller", f.Caller.String()),
		attribute.Int64("eravm.gas", int64(f.Gas)),
		attribute.Bool("eravm.static", f.IsStatic),
		attribute.Bool("eravm.kernel", f.IsKernel),
	))
	t.ctxs = append(t.ctxs, ctx)
	t.spans = append(t.spans, span)
	t.steps = append(t.steps, 0)
}

func (t *SpanTracer) end(result string, gas uint32, failed bool) {
	n := len(t.spans)
	if n == 0 {
		return
	}
	span := t.spans[n-1]
	span.SetAttributes(
		attribute.String("eravm.result", result),
		attribute.Int64("eravm.gas_left", int64(gas)),
		attribute.Int64("eravm.steps", int64(t.steps[n-1])),
	)
	if failed {
		span.SetStatus(codes.Error, result)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	t.spans = t.spans[:n-1]
	t.steps = t.steps[:n-1]
	t.ctxs = t.ctxs[:len(t.ctxs)-1]
}

func (t *SpanTracer) BeforeInstruction(_ program.Opcode, s vm.StateInterface) {
	if len(t.spans) == 0 && len(t.ctxs) == 1 {
		f, _ := s.CallframeAt(s.NumberOfCallframes() - 1)
		t.start(f, "eravm.run")
	}
}

func (t *SpanTracer) AfterInstruction(program.Opcode, vm.StateInterface) vm.ShouldStop {
	if n := len(t.steps); n > 0 {
		t.steps[n-1]++
	}
	return vm.Continue
}

func (t *SpanTracer) OnExtraProverCycles(stats vm.CycleStats) {
	if n := len(t.spans); n > 0 {
		t.spans[n-1].AddEvent("prover_cycles", trace.WithAttributes(
			attribute.String("kind", stats.Kind.String()),
			attribute.Int64("cycles", int64(stats.Cycles)),
		))
	}
}

func (t *SpanTracer) OnFrameEnter(kind vm.FrameKind, s vm.StateInterface) {
	f, _ := s.CallframeAt(0)
	if kind == vm.FrameNear {
		if n := len(t.spans); n > 0 {
			t.spans[n-1].AddEvent("near_call", trace.WithAttributes(
				attribute.Int("pc", f.PC),
				attribute.Int64("gas", int64(f.Gas)),
			))
		}
		return
	}
	t.start(f, fmt.Sprintf("far_call %s", f.Address))
}

func (t *SpanTracer) OnFrameExit(kind vm.FrameKind, ret vm.ReturnKind, s vm.StateInterface) {
	f, _ := s.CallframeAt(0)
	if kind == vm.FrameNear {
		if n := len(t.spans); n > 0 {
			t.spans[n-1].AddEvent("near_return", trace.WithAttributes(
				attribute.String("result", ret.String()),
				attribute.Int64("gas", int64(f.Gas)),
			))
		}
		return
	}
	t.end(ret.String(), f.Gas, ret.IsFailure())
}

// Finish closes any span still open, which happens when the run stopped without the root
// frame returning.
func (t *SpanTracer) Finish(end vm.ExecutionEnd) {
	for len(t.spans) > 0 {
		if end.Err != nil {
			t.spans[len(t.spans)-1].RecordError(end.Err)
		}
		t.end(end.Kind.String(), 0, end.Kind != vm.ProgramFinished)
	}
}

// NewOTLPProvider exports spans over OTLP/HTTP to endpoint (host:port). The caller shuts the
// provider down, which flushes pending spans.
func NewOTLPProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", "eravm"))
	log.Info(log.Tracing, "exporting spans", "endpoint", endpoint)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

var (
	_ vm.Tracer      = (*SpanTracer)(nil)
	_ vm.FrameTracer = (*SpanTracer)(nil)
)
