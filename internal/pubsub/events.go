// Package pubsub provides a generic publish/subscribe event system used to
// fan out deployment progress and log lines to listeners.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// LogEvent carries a formatted log line.
	LogEvent EventType = "log"

	// Deployment progress events.
	StepStartedEvent     EventType = "step.started"
	StepSkippedEvent     EventType = "step.skipped"
	StepDeployedEvent    EventType = "step.deployed"
	StepFailedEvent      EventType = "step.failed"
	ArgsDriftEvent       EventType = "step.args_drift"
	VerificationEvent    EventType = "step.verification"
	HandoverTransitioned EventType = "handover.transitioned"
	RunFinishedEvent     EventType = "run.finished"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
