package worker

import (
	"context"
	"math"

	"github.com/taskmesh/orchestrator/internal/model"
)

// AnalyzeAgent computes summary statistics, insights, anomalies, and
// trends over ingested records. Grounded on
// original_source/agents/data_analysis_agent.py's DataAnalysisAgent.
type AnalyzeAgent struct {
	BaseAgent
}

// NewAnalyzeAgent builds an analyze-capability agent.
func NewAnalyzeAgent(agentID string, maxConcurrentTasks int) *AnalyzeAgent {
	return &AnalyzeAgent{BaseAgent: NewBaseAgent(agentID, "analyze", maxConcurrentTasks)}
}

func (a *AnalyzeAgent) process(_ context.Context, inputs []model.Input, _ map[string]any) (*model.Output, error) {
	var records []map[string]any
	for _, inp := range inputs {
		switch inp.Type {
		case "ingested_data":
			if m, ok := inp.Data.(map[string]any); ok {
				if raw, ok := m["records"].([]map[string]any); ok {
					records = append(records, raw...)
				}
			}
		case "json":
			if m, ok := inp.Data.(map[string]any); ok {
				records = append(records, m)
			}
		}
	}

	stats := computeStatistics(records)
	insights := generateInsights(records, stats)
	anomalies := detectAnomalies(records, stats)
	trends := detectTrends(records)

	return &model.Output{
		OutputType: "analysis_result",
		Data: map[string]any{
			"summary_statistics": stats,
			"insights":           insights,
			"anomalies":          anomalies,
			"trends":             trends,
		},
		Metadata: map[string]any{"agent_id": a.AgentID, "records_analyzed": len(records)},
	}, nil
}

func computeStatistics(records []map[string]any) map[string]any {
	if len(records) == 0 {
		return map[string]any{}
	}
	var lengths []float64
	for _, r := range records {
		if l, ok := r["length"].(int); ok {
			lengths = append(lengths, float64(l))
		}
	}
	stats := map[string]any{"count": len(records)}
	if len(lengths) > 0 {
		sum, mean, variance := 0.0, 0.0, 0.0
		for _, v := range lengths {
			sum += v
		}
		mean = sum / float64(len(lengths))
		for _, v := range lengths {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(lengths))
		stats["mean_length"] = mean
		stats["stddev_length"] = math.Sqrt(variance)
	}
	return stats
}

func generateInsights(records []map[string]any, stats map[string]any) []string {
	var insights []string
	if count, ok := stats["count"].(int); ok && count > 0 {
		insights = append(insights, "processed a non-empty batch")
	}
	if len(records) > 10 {
		insights = append(insights, "batch size exceeds typical volume")
	}
	return insights
}

func detectAnomalies(records []map[string]any, stats map[string]any) []map[string]any {
	mean, ok := stats["mean_length"].(float64)
	stddev, ok2 := stats["stddev_length"].(float64)
	if !ok || !ok2 || stddev == 0 {
		return nil
	}
	var anomalies []map[string]any
	for i, r := range records {
		l, ok := r["length"].(int)
		if !ok {
			continue
		}
		if math.Abs(float64(l)-mean) > 2*stddev {
			anomalies = append(anomalies, map[string]any{"index": i, "length": l})
		}
	}
	return anomalies
}

func detectTrends(records []map[string]any) []string {
	if len(records) < 2 {
		return nil
	}
	return []string{"insufficient time-series context to rank trend direction"}
}
