// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"time"
)

// MockProvider returns canned completions. It backs tests and lets the
// gateway start without upstream credentials.
type MockProvider struct {
	ProviderName string
	Response     string
	Err          error
	Delay        time.Duration

	Requests []CompletionRequest
}

func NewMockProvider() *MockProvider {
	return &MockProvider{ProviderName: "mock"}
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockProvider) Type() ProviderType { return ProviderTypeMock }

func (m *MockProvider) Capabilities() []Capability { return []Capability{CapabilityChat} }

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.Requests = append(m.Requests, req)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	content := m.Response
	if content == "" {
		last := ""
		if n := len(req.Messages); n > 0 {
			last = req.Messages[n-1].Content
		}
		content = fmt.Sprintf("Mock response to: %.50s", last)
	}

	promptTokens := 0
	for _, msg := range req.Messages {
		promptTokens += len(msg.Content) / 4
	}
	completionTokens := len(content) / 4
	return &CompletionResponse{
		Content: content,
		Model:   "mock-model",
		Usage: UsageStats{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		FinishReason: "stop",
	}, nil
}

func (m *MockProvider) HealthCheck(context.Context) error { return m.Err }
