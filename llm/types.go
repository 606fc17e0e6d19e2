// Copyright 2025 AegisFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm defines the upstream completion interface and its provider
// implementations. The gateway treats every upstream as a single
// messages-in, text-and-usage-out call with a hard timeout.
package llm

import "time"

// ProviderType identifies the provider implementation family.
type ProviderType string

const (
	ProviderTypeOpenAICompatible ProviderType = "openai-compatible"
	ProviderTypeBedrock          ProviderType = "bedrock"
	ProviderTypeMock             ProviderType = "mock"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-agnostic completion request.
type CompletionRequest struct {
	Messages      []Message              `json:"messages"`
	Model         string                 `json:"model,omitempty"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	Temperature   float64                `json:"temperature,omitempty"`
	TopP          float64                `json:"top_p,omitempty"`
	StopSequences []string               `json:"stop,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// UsageStats carries token accounting from the upstream.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the normalized upstream response.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Usage        UsageStats    `json:"usage"`
	Latency      time.Duration `json:"latency"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// Capability describes what a provider can do.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityReasoning  Capability = "reasoning"
	CapabilityCode       Capability = "code_generation"
	CapabilityLongInput  Capability = "long_context"
	CapabilityStructured Capability = "structured_output"
)
