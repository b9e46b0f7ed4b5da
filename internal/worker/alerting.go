package worker

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
)

// AlertingAgent turns detection results into deduplicated, prioritized
// alerts. Grounded on original_source/agents/alerting_agent.py's
// AlertingAgent.
type AlertingAgent struct {
	BaseAgent
}

// NewAlertingAgent builds an alerting-capability agent.
func NewAlertingAgent(agentID string, maxConcurrentTasks int) *AlertingAgent {
	return &AlertingAgent{BaseAgent: NewBaseAgent(agentID, "alerting", maxConcurrentTasks)}
}

func (a *AlertingAgent) process(_ context.Context, inputs []model.Input, parameters map[string]any) (*model.Output, error) {
	var generated []map[string]any
	for _, inp := range inputs {
		if inp.Type != "detections" {
			continue
		}
		data, ok := inp.Data.(map[string]any)
		if !ok {
			continue
		}
		generated = append(generated, alertsFromDetections(data, parameters)...)
	}

	unique := deduplicateAlerts(generated)
	prioritized := prioritizeAlerts(unique)

	return &model.Output{
		OutputType: "alerts",
		Data: map[string]any{
			"alerts":      prioritized,
			"alert_count": len(prioritized),
			"timestamp":   time.Now().Unix(),
		},
		Metadata: map[string]any{
			"agent_id":        a.AgentID,
			"total_generated": len(generated),
			"after_dedup":     len(unique),
		},
	}, nil
}

func alertsFromDetections(detections map[string]any, parameters map[string]any) []map[string]any {
	list, _ := detections["detections"].([]map[string]any)
	severity, _ := parameters["severity"].(string)
	if severity == "" {
		severity = "medium"
	}
	var alerts []map[string]any
	for _, d := range list {
		alerts = append(alerts, map[string]any{
			"severity": severity,
			"source":   d["input_id"],
			"message":  "detection event requires review",
			"detail":   d,
		})
	}
	return alerts
}

func deduplicateAlerts(alerts []map[string]any) []map[string]any {
	seen := make(map[string]bool, len(alerts))
	var out []map[string]any
	for _, alert := range alerts {
		key := fmt.Sprintf("%x", sha1.Sum([]byte(fmt.Sprintf("%v|%v", alert["source"], alert["message"]))))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, alert)
	}
	return out
}

var severityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

func prioritizeAlerts(alerts []map[string]any) []map[string]any {
	sort.SliceStable(alerts, func(i, j int) bool {
		si, _ := alerts[i]["severity"].(string)
		sj, _ := alerts[j]["severity"].(string)
		return severityRank[si] < severityRank[sj]
	})
	return alerts
}
