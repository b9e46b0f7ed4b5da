package worker

import (
	"context"
	"strings"

	"github.com/taskmesh/orchestrator/internal/model"
)

// TranscriptSummaryAgent extracts an executive summary, key insights, and
// topic tags from a transcript. Grounded on
// original_source/agents/transcript_summary_agent.py's
// TranscriptSummaryAgent; the source delegates extraction to an external
// LLM provider, which has no equivalent dependency anywhere else in this
// codebase's stack, so this agent performs the same extractive shape
// heuristically over sentence boundaries instead of introducing an LLM
// client with nothing to ground it on.
type TranscriptSummaryAgent struct {
	BaseAgent
}

// NewTranscriptSummaryAgent builds a transcript_summary-capability agent.
func NewTranscriptSummaryAgent(agentID string, maxConcurrentTasks int) *TranscriptSummaryAgent {
	return &TranscriptSummaryAgent{BaseAgent: NewBaseAgent(agentID, "transcript_summary", maxConcurrentTasks)}
}

func (a *TranscriptSummaryAgent) process(_ context.Context, inputs []model.Input, parameters map[string]any) (*model.Output, error) {
	var transcript string
	for _, inp := range inputs {
		if inp.Type == "text" || inp.Type == "transcript" {
			if s, ok := inp.Data.(string); ok {
				transcript += s + " "
			}
		}
	}
	transcript = strings.TrimSpace(transcript)

	sentences := splitSentences(transcript)
	maxSentences, _ := parameters["summary_sentences"].(int)
	if maxSentences <= 0 {
		maxSentences = 3
	}

	summary := strings.Join(firstN(sentences, maxSentences), " ")
	topics := extractTopics(transcript)
	quotes := firstN(sentences, min(2, len(sentences)))

	return &model.Output{
		OutputType: "transcript_summary",
		Data: map[string]any{
			"executive_summary": summary,
			"key_insights":      bulletize(sentences, maxSentences),
			"topics":            topics,
			"notable_quotes":    quotes,
			"word_count":        len(strings.Fields(transcript)),
		},
		Metadata: map[string]any{"agent_id": a.AgentID},
	}, nil
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstN(items []string, n int) []string {
	if n > len(items) {
		n = len(items)
	}
	return items[:n]
}

func bulletize(sentences []string, n int) []string {
	items := firstN(sentences, n)
	out := make([]string, len(items))
	copy(out, items)
	return out
}

func extractTopics(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	counts := make(map[string]int, len(words))
	for _, w := range words {
		w = strings.Trim(w, ",;:\"'()")
		if len(w) < 5 || stopWords[w] {
			continue
		}
		counts[w]++
	}
	var topics []string
	for w, c := range counts {
		if c >= 2 {
			topics = append(topics, w)
		}
	}
	return topics
}

var stopWords = map[string]bool{
	"about": true, "which": true, "their": true, "there": true, "would": true,
	"could": true, "should": true, "these": true, "those": true,
}
