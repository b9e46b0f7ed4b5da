package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
)

// Mode selects one of the three execution strategies.
type Mode string

const (
	Parallel   Mode = "parallel"
	Sequential Mode = "sequential"
	Hybrid     Mode = "hybrid"
)

// Result is the aggregated outcome of executing an ExecutionPlan, reported
// back to the orchestrator for the task's terminal transition.
type Result struct {
	Mode              Mode
	ExecutionTimeMs   int64
	Stages            []StageResult
	SuccessfulOutputs []*model.Output
	FinalOutput       *model.Output
	AllFailed         bool
}

// Engine runs an ExecutionPlan under one of the three modes.
type Engine struct {
	dispatcher *Dispatcher
}

// NewEngine builds an Engine over the given dispatcher.
func NewEngine(d *Dispatcher) *Engine {
	return &Engine{dispatcher: d}
}

// Run executes plan under mode, returning the aggregated Result.
func (e *Engine) Run(ctx context.Context, taskID string, plan model.ExecutionPlan, mode Mode) Result {
	switch mode {
	case Parallel:
		return e.runParallel(ctx, taskID, plan)
	case Hybrid:
		return e.runHybrid(ctx, taskID, plan)
	default:
		return e.runSequential(ctx, taskID, plan)
	}
}

// runParallel dispatches every stage concurrently. Success requires at
// least one stage to succeed; failed stages are recorded but non-fatal
// unless all stages failed.
func (e *Engine) runParallel(ctx context.Context, taskID string, plan model.ExecutionPlan) Result {
	start := time.Now()
	results := make([]StageResult, len(plan))

	var wg sync.WaitGroup
	for i, stage := range plan {
		wg.Add(1)
		go func(i int, stage model.PlanStage) {
			defer wg.Done()
			results[i] = e.dispatcher.DispatchStage(ctx, taskID, stage)
		}(i, stage)
	}
	wg.Wait()

	var outputs []*model.Output
	failed := 0
	for _, r := range results {
		if r.Status == "completed" {
			if r.Output != nil {
				outputs = append(outputs, r.Output)
			}
		} else {
			failed++
		}
	}

	res := Result{
		Mode:              Parallel,
		ExecutionTimeMs:   time.Since(start).Milliseconds(),
		Stages:            results,
		SuccessfulOutputs: outputs,
		FinalOutput:       aggregateOutput(outputs),
		AllFailed:         len(plan) > 0 && failed == len(plan),
	}
	return res
}

// aggregateOutput folds a set of successful stage outputs into the single
// Output envelope a TaskState's output field can hold. A lone success passes
// through unwrapped; two or more are folded into a "parallel_aggregate"
// envelope carrying every success's data, so a multi-success parallel stage
// doesn't silently expose only one of its results.
func aggregateOutput(outputs []*model.Output) *model.Output {
	if len(outputs) == 0 {
		return nil
	}
	if len(outputs) == 1 {
		return outputs[0]
	}
	data := make([]any, len(outputs))
	for i, o := range outputs {
		data[i] = o.Data
	}
	return &model.Output{OutputType: "parallel_aggregate", Data: data}
}

// runSequential chains stages: stage k's inputs are overridden by stage
// k-1's output. Stops at the first failure, and then reports no
// FinalOutput, so the task as a whole fails.
func (e *Engine) runSequential(ctx context.Context, taskID string, plan model.ExecutionPlan) Result {
	start := time.Now()
	var results []StageResult
	var lastOutput *model.Output

	for i, stage := range plan {
		if i > 0 && lastOutput != nil {
			stage.Inputs = []model.Input{{
				InputID: "pipeline", Type: lastOutput.OutputType, Data: lastOutput.Data,
			}}
		}
		r := e.dispatcher.DispatchStage(ctx, taskID, stage)
		results = append(results, r)
		if r.Status == "completed" {
			lastOutput = r.Output
		} else {
			lastOutput = nil
			break
		}
	}

	failed := 0
	for _, r := range results {
		if r.Status != "completed" {
			failed++
		}
	}

	return Result{
		Mode:              Sequential,
		ExecutionTimeMs:   time.Since(start).Milliseconds(),
		Stages:            results,
		SuccessfulOutputs: outputsOf(results),
		FinalOutput:       lastOutput,
		AllFailed:         len(plan) > 0 && failed == len(plan) && lastOutput == nil,
	}
}

// runHybrid splits the plan at its midpoint (n/2, rounded down; a
// single-stage plan runs entirely in the parallel phase), runs the first
// half PARALLEL, then feeds its aggregate output into a SEQUENTIAL second
// half.
func (e *Engine) runHybrid(ctx context.Context, taskID string, plan model.ExecutionPlan) Result {
	start := time.Now()
	mid := len(plan) / 2
	if len(plan) <= 1 {
		mid = len(plan)
	}
	phase1, phase2 := plan[:mid], plan[mid:]

	stage1 := e.runParallel(ctx, taskID, phase1)

	if len(phase2) == 0 {
		return Result{
			Mode:              Hybrid,
			ExecutionTimeMs:   time.Since(start).Milliseconds(),
			Stages:            stage1.Stages,
			SuccessfulOutputs: stage1.SuccessfulOutputs,
			FinalOutput:       stage1.FinalOutput,
			AllFailed:         stage1.AllFailed,
		}
	}

	if len(stage1.SuccessfulOutputs) > 0 {
		inputs := make([]model.Input, len(stage1.SuccessfulOutputs))
		for i, out := range stage1.SuccessfulOutputs {
			inputs[i] = model.Input{
				InputID: fmt.Sprintf("hybrid_stage1_%d", i), Type: out.OutputType, Data: out.Data,
			}
		}
		for i := range phase2 {
			phase2[i].Inputs = inputs
		}
	}
	stage2 := e.runSequential(ctx, taskID, phase2)

	return Result{
		Mode:              Hybrid,
		ExecutionTimeMs:   time.Since(start).Milliseconds(),
		Stages:            append(stage1.Stages, stage2.Stages...),
		SuccessfulOutputs: stage2.SuccessfulOutputs,
		FinalOutput:       stage2.FinalOutput,
		AllFailed:         stage1.AllFailed && stage2.AllFailed,
	}
}

func outputsOf(results []StageResult) []*model.Output {
	var out []*model.Output
	for _, r := range results {
		if r.Output != nil {
			out = append(out, r.Output)
		}
	}
	return out
}
