package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrRunID    = "deploy.run.id"
	AttrTags     = "deploy.run.tags"
	AttrNetwork  = "network.name"
	AttrChainID  = "network.chain_id"
	AttrStep     = "deploy.step"
	AttrOutcome  = "deploy.step.outcome"
	AttrAddress  = "contract.address"
	AttrTxHash   = "tx.hash"
	AttrBlock    = "tx.block"
	AttrFrom     = "handover.from"
	AttrTo       = "handover.to"
	AttrVerified = "verify.ok"

	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span names and prefixes.
const (
	SpanRun                = "deploy.run"
	SpanPrefixStep         = "deploy.step."
	SpanPrefixHandover     = "handover.transition."
	SpanVerify             = "verify"
	EventRegistryHit       = "registry.hit"
	EventSubmitted         = "tx.submitted"
	EventConfirmed         = "tx.confirmed"
	EventRecorded          = "registry.recorded"
	EventArgsDrift         = "constructor_args.drift"
	EventTransitionSkipped = "handover.transition.satisfied"
)

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
}
