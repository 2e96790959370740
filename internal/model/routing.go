package model

// ExecutionMode selects how dispatched units are scheduled.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// RoutingSource records which path produced the routing decision.
type RoutingSource string

const (
	RoutingSourceModel RoutingSource = "model"
	RoutingSourceRules RoutingSource = "rules"
)

// RoutingDecision maps each file in a job to an extraction procedure.
// Produced once per job and read-only afterward.
type RoutingDecision struct {
	JobID            string            `json:"job_id"`
	Assignments      map[string]string `json:"assignments"` // file id → procedure id
	Reasons          map[string]string `json:"reasons"`     // file id → routing reason
	Mode             ExecutionMode     `json:"mode"`
	EstimatedSeconds int               `json:"estimated_seconds"`
	Source           RoutingSource     `json:"source"`
}
