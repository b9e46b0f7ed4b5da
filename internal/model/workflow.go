package model

// Workflows is the compile-time task_type -> required capability sequence
// table. Grounded on original_source/core/orchestrator.py's
// task_agent_mapping, normalized onto the placeholder capability vocabulary
// (ingest, analyze, synthesize, video_detection, alerting, api_caller,
// transcript_summary) instead of inventing new names. content_summarization
// maps onto transcript_summary rather than a standalone "summary"
// capability: no agent constructor builds a distinct summary worker, and a
// transcript_summary agent already performs the same condense-to-digest
// operation the task name describes.
var Workflows = map[string][]string{
	"report_generation":       {"ingest", "analyze", "synthesize"},
	"real_time_monitoring":    {"video_detection", "alerting"},
	"content_summarization":   {"transcript_summary"},
	"data_analysis":           {"analyze"},
	"api_call":                {"api_caller"},
	"podcast_intelligence":    {"ingest", "transcript_summary", "synthesize"},
	"document_intelligence":   {"ingest", "transcript_summary", "synthesize"},
	"industry_synthesis_only": {"synthesize"},
}

// EstimatorMultipliers are advisory per-task-type duration multipliers used
// only to compute estimated_completion_ms on submit. Ported from
// orchestrator.py's type_multipliers; unlisted types default to 1.0.
var EstimatorMultipliers = map[string]float64{
	"report_generation":    3.0,
	"real_time_monitoring": 0.5,
	"data_analysis":        2.0,
	"api_call":             0.3,
}

// EstimatorBaselineMs is the baseline duration the estimator scales by
// EstimatorMultipliers before returning estimated_completion_ms.
const EstimatorBaselineMs = 1000

// RequiredCapabilities looks up the workflow for a task type. ok is false
// for an unknown task type.
func RequiredCapabilities(taskType string) (caps []string, ok bool) {
	caps, ok = Workflows[taskType]
	return
}

// EstimateCompletionMs applies the advisory estimator: baseline times the
// task type's multiplier, defaulting to 1.0 for unlisted types.
func EstimateCompletionMs(taskType string) int64 {
	mult, ok := EstimatorMultipliers[taskType]
	if !ok {
		mult = 1.0
	}
	return int64(float64(EstimatorBaselineMs) * mult)
}

// PlanStage is one materialized stage of an ExecutionPlan: a capability
// bound to an already-selected worker.
type PlanStage struct {
	Capability string
	AgentID    string
	Endpoint   string
	Inputs     []Input
	Parameters map[string]any
}

// ExecutionPlan is a runtime-materialized workflow, derived at dispatch
// time and never persisted.
type ExecutionPlan []PlanStage
