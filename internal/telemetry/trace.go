package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
// This is a convenience wrapper around otel.Tracer().Start() with common patterns.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, "bastion/services/sts", "sts.AssumeRole",
//	    attribute.String("role.arn", roleARN),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
// This is a convenience wrapper to ensure consistent error recording.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
// Use for business events like denied decisions, revocation sweeps, etc.
//
// Example:
//
//	telemetry.AddEvent(span, "decision.denied",
//	    attribute.String("reason", "explicit deny"),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for bastion services
const (
	// Account / principal attributes
	AttrAccountID     = "account.id"
	AttrPrincipalARN  = "principal.arn"
	AttrPrincipalType = "principal.type"

	// Policy engine attributes
	AttrPolicyAction   = "policy.action"
	AttrPolicyResource = "policy.resource"
	AttrPolicyDecision = "policy.decision"

	// STS attributes
	AttrRoleARN         = "sts.role_arn"
	AttrSessionName     = "sts.session_name"
	AttrSessionDuration = "sts.duration_seconds"

	// Revocation attributes
	AttrRevocationTier = "revocation.tier"
	AttrTokenFamily    = "token.family"
)
