package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
)

// SynthesizeAgent turns analysis results into a structured report.
// Grounded on original_source/agents/synthesis_agent.py's SynthesisAgent.
type SynthesizeAgent struct {
	BaseAgent
}

// NewSynthesizeAgent builds a synthesize-capability agent.
func NewSynthesizeAgent(agentID string, maxConcurrentTasks int) *SynthesizeAgent {
	return &SynthesizeAgent{BaseAgent: NewBaseAgent(agentID, "synthesize", maxConcurrentTasks)}
}

func (a *SynthesizeAgent) process(_ context.Context, inputs []model.Input, parameters map[string]any) (*model.Output, error) {
	var analysis map[string]any
	for _, inp := range inputs {
		if inp.Type == "analysis_result" {
			if m, ok := inp.Data.(map[string]any); ok {
				analysis = m
			}
		}
	}

	title, _ := parameters["report_title"].(string)
	if title == "" {
		title = "Data Analysis Report"
	}

	report := map[string]any{
		"report_id":          fmt.Sprintf("report_%d", time.Now().Unix()),
		"generated_at":       time.Now().Format(time.RFC3339),
		"title":              title,
		"executive_summary":  executiveSummary(analysis),
		"detailed_findings":  detailedFindings(analysis),
		"recommendations":    recommendations(analysis),
		"metadata": map[string]any{
			"analysis_depth":      "comprehensive",
			"confidence_level":    "high",
			"data_quality_score":  0.95,
		},
	}

	return &model.Output{
		OutputType: "json_report",
		Data:       report,
		Metadata:   map[string]any{"agent_id": a.AgentID, "report_version": "1.0"},
	}, nil
}

func executiveSummary(analysis map[string]any) string {
	if analysis == nil {
		return "No analysis input was provided."
	}
	summary := ""
	if stats, ok := analysis["summary_statistics"].(map[string]any); ok {
		if count, ok := stats["count"].(int); ok && count > 0 {
			summary += fmt.Sprintf("Analysis completed on %d data points. ", count)
		}
	}
	if insights, ok := analysis["insights"].([]string); ok && len(insights) > 0 {
		summary += fmt.Sprintf("Key insights identified: %d significant patterns detected. ", len(insights))
	}
	if anomalies, ok := analysis["anomalies"].([]map[string]any); ok && len(anomalies) > 0 {
		summary += fmt.Sprintf("Attention required: %d anomalies detected requiring investigation.", len(anomalies))
	} else {
		summary += "No critical anomalies detected."
	}
	return summary
}

func detailedFindings(analysis map[string]any) map[string]any {
	if analysis == nil {
		return map[string]any{}
	}
	return map[string]any{
		"statistics": analysis["summary_statistics"],
		"insights":   analysis["insights"],
		"anomalies":  analysis["anomalies"],
		"trends":     analysis["trends"],
	}
}

func recommendations(analysis map[string]any) []map[string]string {
	var out []map[string]string
	if analysis != nil {
		if anomalies, ok := analysis["anomalies"].([]map[string]any); ok && len(anomalies) > 0 {
			out = append(out, map[string]string{
				"priority":       "high",
				"recommendation": "Investigate detected anomalies for potential data quality issues",
				"rationale":      fmt.Sprintf("%d outliers detected in the dataset", len(anomalies)),
			})
		}
		if insights, ok := analysis["insights"].([]string); ok && len(insights) > 0 {
			out = append(out, map[string]string{
				"priority":       "medium",
				"recommendation": "Leverage identified patterns for predictive modeling",
				"rationale":      "Multiple significant patterns detected in historical data",
			})
		}
	}
	out = append(out, map[string]string{
		"priority":       "low",
		"recommendation": "Schedule regular data quality audits",
		"rationale":      "Maintain data integrity for future analyses",
	})
	return out
}
