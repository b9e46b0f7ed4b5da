package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/taskmesh/orchestrator/internal/model"
)

// IngestAgent normalizes multi-modal inputs (text, json, image metadata,
// video metadata) into a uniform record shape. Grounded on
// original_source/agents/data_ingest_agent.py's DataIngestAgent.
type IngestAgent struct {
	BaseAgent
}

// NewIngestAgent builds an ingest-capability agent.
func NewIngestAgent(agentID string, maxConcurrentTasks int) *IngestAgent {
	return &IngestAgent{BaseAgent: NewBaseAgent(agentID, "ingest", maxConcurrentTasks)}
}

func (a *IngestAgent) process(_ context.Context, inputs []model.Input, _ map[string]any) (*model.Output, error) {
	records := make([]map[string]any, 0, len(inputs))
	types := make(map[string]struct{})

	for _, inp := range inputs {
		types[inp.Type] = struct{}{}
		switch inp.Type {
		case "text":
			records = append(records, processText(inp))
		case "json":
			records = append(records, processJSON(inp))
		case "image":
			records = append(records, processImage(inp))
		case "video":
			records = append(records, processVideo(inp))
		default:
			records = append(records, map[string]any{"type": inp.Type, "data": inp.Data})
		}
	}

	typeList := make([]string, 0, len(types))
	for t := range types {
		typeList = append(typeList, t)
	}

	return &model.Output{
		OutputType: "ingested_data",
		Data: map[string]any{
			"records": records,
			"count":   len(records),
			"types":   typeList,
		},
		Metadata: map[string]any{"agent_id": a.AgentID},
	}, nil
}

func processText(inp model.Input) map[string]any {
	text, _ := inp.Data.(string)
	return map[string]any{
		"type":       "text",
		"content":    text,
		"length":     len(text),
		"word_count": len(strings.Fields(text)),
		"metadata":   inp.Metadata,
	}
}

func processJSON(inp model.Input) map[string]any {
	data := inp.Data
	if s, ok := inp.Data.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			data = parsed
		} else {
			data = map[string]any{"error": "invalid JSON"}
		}
	}
	keys := []string{}
	if m, ok := data.(map[string]any); ok {
		for k := range m {
			keys = append(keys, k)
		}
	}
	return map[string]any{"type": "json", "data": data, "keys": keys, "metadata": inp.Metadata}
}

func processImage(inp model.Input) map[string]any {
	format, _ := inp.Metadata["format"].(string)
	if format == "" {
		format = "unknown"
	}
	return map[string]any{"type": "image", "format": format, "metadata": inp.Metadata}
}

func processVideo(inp model.Input) map[string]any {
	format, _ := inp.Metadata["format"].(string)
	if format == "" {
		format = "unknown"
	}
	return map[string]any{
		"type":       "video",
		"format":     format,
		"duration_sec": inp.Metadata["duration"],
		"fps":        inp.Metadata["fps"],
		"resolution": inp.Metadata["resolution"],
		"metadata":   inp.Metadata,
	}
}
