package core

import (
	"context"
	"strings"
	"sync"
)

// mockLLM routes by prompt: the extraction prompt opens with "Extract all",
// everything else is treated as a reasoning call.
type mockLLM struct {
	mu              sync.Mutex
	ExtractionReply string
	ReasoningReply  string
	Err             error
	Prompts         []string
}

func (m *mockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if strings.Contains(prompt, "Extract all clinically significant findings") {
		return m.ExtractionReply, nil
	}
	return m.ReasoningReply, nil
}

type mockEmbedder struct {
	Vector []float32
	Err    error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vector, nil
}
