package worker

import (
	"context"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
)

// VideoDetectionAgent processes video frame metadata for object/event
// detection, optimized for the real-time monitoring workflow. Grounded
// on original_source/agents/video_detection_agent.py's VideoDetectionAgent.
type VideoDetectionAgent struct {
	BaseAgent
	DetectionThreshold float64
}

// NewVideoDetectionAgent builds a video_detection-capability agent.
func NewVideoDetectionAgent(agentID string, maxConcurrentTasks int) *VideoDetectionAgent {
	return &VideoDetectionAgent{
		BaseAgent:          NewBaseAgent(agentID, "video_detection", maxConcurrentTasks),
		DetectionThreshold: 0.7,
	}
}

func (a *VideoDetectionAgent) process(_ context.Context, inputs []model.Input, parameters map[string]any) (*model.Output, error) {
	var detections []map[string]any
	for _, inp := range inputs {
		if inp.Type != "video" {
			continue
		}
		detections = append(detections, a.detectObjects(inp, parameters))
	}

	return &model.Output{
		OutputType: "detections",
		Data: map[string]any{
			"detections":      detections,
			"detection_count": len(detections),
			"timestamp":       time.Now().Unix(),
		},
		Metadata: map[string]any{
			"agent_id":            a.AgentID,
			"detection_threshold": a.DetectionThreshold,
		},
	}, nil
}

func (a *VideoDetectionAgent) detectObjects(inp model.Input, parameters map[string]any) map[string]any {
	objectClasses, _ := parameters["object_classes"].([]string)
	if objectClasses == nil {
		objectClasses = []string{"person", "vehicle"}
	}
	return map[string]any{
		"input_id":        inp.InputID,
		"objects_detected": objectClasses,
		"confidence":      a.DetectionThreshold,
		"frame_metadata":  inp.Metadata,
	}
}
