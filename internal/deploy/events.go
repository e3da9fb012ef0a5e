package deploy

import (
	"github.com/zjrosen/arbor/internal/registry"
)

// Outcome is how a step finished.
type Outcome string

const (
	OutcomeDeployed  Outcome = "deployed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomePerformed Outcome = "performed"
	OutcomeFailed    Outcome = "failed"
)

// Event is the payload published for run progress.
type Event struct {
	RunID   string
	Step    string
	Outcome Outcome
	Record  *registry.Record
	Message string
	Error   string
}
