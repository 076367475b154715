package engine

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer produces abstractive summaries at a target length using the
// chat model. It satisfies the summarizer interfaces consumed by the
// pyramid builder and the cluster engine.
type Summarizer struct {
	engine Engine
	model  string
}

// NewSummarizer creates a Summarizer backed by the given engine and model.
func NewSummarizer(e Engine, model string) *Summarizer {
	return &Summarizer{engine: e, model: model}
}

const summarizeSystemPrompt = `You are a precise summarizer. Summarize the given content in roughly the requested number of words. Preserve key entities, decisions, and outcomes. Respond with the summary text only, no preamble.`

// Summarize asks the chat model for a summary of text near targetWords words.
func (s *Summarizer) Summarize(ctx context.Context, text string, targetWords int) (string, error) {
	messages := []Message{
		{Role: "system", Content: summarizeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Summarize the following in about %d words:\n\n%s", targetWords, text)},
	}

	out, err := s.engine.Chat(ctx, s.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("summarizing: %w", err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("summarizing: empty response")
	}
	return out, nil
}
