// Package tracing records dispatch rounds and subscriber invocations as
// OpenTelemetry spans.
//
// Each round is a "dispatch.round" span; each invocation is a child
// "dispatch.invoke" span. Invocations reached through WaitFor nest under the
// invocation that waited, so the span tree mirrors the dependency order.
package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flux/internal/dispatch"
)

// InstrumentationName identifies the tracer.
const InstrumentationName = "github.com/roach88/flux/internal/dispatch"

// Span names.
const (
	SpanRound  = "dispatch.round"
	SpanInvoke = "dispatch.invoke"
)

// Attribute keys.
const (
	AttrRoundID   = attribute.Key("dispatch.round_id")
	AttrToken     = attribute.Key("dispatch.token")
	AttrMembers   = attribute.Key("dispatch.members")
	AttrErrorCode = attribute.Key("dispatch.error_code")
)

type (
	roundSpanKey  struct{}
	invokeSpanKey struct{}
)

// Observer implements dispatch.Observer with a trace.Tracer.
type Observer struct {
	tracer trace.Tracer
}

var _ dispatch.Observer = (*Observer)(nil)

// New creates an Observer using tp. A nil tp uses the global provider set
// with otel.SetTracerProvider.
func New(tp trace.TracerProvider) *Observer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Observer{tracer: tp.Tracer(InstrumentationName)}
}

// RoundStarted opens the round span.
func (o *Observer) RoundStarted(ctx context.Context, round dispatch.RoundInfo) context.Context {
	ctx, span := o.tracer.Start(ctx, SpanRound, trace.WithAttributes(
		AttrRoundID.String(round.ID),
		AttrMembers.Int(round.Members),
	))
	return context.WithValue(ctx, roundSpanKey{}, span)
}

// InvocationStarted opens an invocation span under the current span.
func (o *Observer) InvocationStarted(ctx context.Context, round dispatch.RoundInfo, token dispatch.Token) context.Context {
	ctx, span := o.tracer.Start(ctx, SpanInvoke, trace.WithAttributes(
		AttrRoundID.String(round.ID),
		AttrToken.String(token.String()),
	))
	return context.WithValue(ctx, invokeSpanKey{}, span)
}

// InvocationFinished ends the invocation span.
func (o *Observer) InvocationFinished(ctx context.Context, _ dispatch.RoundInfo, _ dispatch.Token, err error) {
	if span, ok := ctx.Value(invokeSpanKey{}).(trace.Span); ok {
		end(span, err)
	}
}

// RoundFinished ends the round span.
func (o *Observer) RoundFinished(ctx context.Context, _ dispatch.RoundInfo, err error) {
	if span, ok := ctx.Value(roundSpanKey{}).(trace.Span); ok {
		end(span, err)
	}
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var de *dispatch.Error
		if errors.As(err, &de) {
			span.SetAttributes(AttrErrorCode.String(string(de.Code)))
		}
	}
	span.End()
}
