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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// GroqBaseURL is the default endpoint. Groq speaks the OpenAI
	// chat-completions wire format, so the same provider serves both.
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OpenAIBaseURL = "https://api.openai.com/v1"

	defaultGroqModel = "llama-3.3-70b-versatile"
)

// HTTPDoer is the slice of http.Client the provider needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	Name    string        // registry name, default "groq"
	APIKey  string        // required
	BaseURL string        // default GroqBaseURL
	Model   string        // default model when the request carries none
	Timeout time.Duration // default 60s
	Client  HTTPDoer      // default http.Client with Timeout
}

// OpenAIProvider calls any OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  HTTPDoer
}

// NewOpenAIProvider validates the config and applies defaults.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "groq"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = GroqBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGroqModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIProvider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
	}, nil
}

func (p *OpenAIProvider) Name() string       { return p.name }
func (p *OpenAIProvider) Type() ProviderType { return ProviderTypeOpenAICompatible }

func (p *OpenAIProvider) Capabilities() []Capability {
	return []Capability{CapabilityChat, CapabilityReasoning, CapabilityCode, CapabilityLongInput}
}

type chatCompletionsPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatCompletionsReply struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete posts one chat-completions call. HTTP >= 400 comes back as an
// *UpstreamError carrying the response body.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 1.0
	}
	topP := req.TopP
	if topP == 0 {
		topP = 1.0
	}

	payload := chatCompletionsPayload{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Message:    upstreamErrorMessage(raw),
		}
	}

	var reply chatCompletionsReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(reply.Choices) == 0 {
		return nil, &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode,
			Message: "no choices in response"}
	}

	out := &CompletionResponse{
		Content: reply.Choices[0].Message.Content,
		Model:   reply.Model,
		Usage: UsageStats{
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.TotalTokens,
		},
		Latency:      time.Since(start),
		FinishReason: reply.Choices[0].FinishReason,
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

// HealthCheck lists models, the cheapest authenticated call the API offers.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

// upstreamErrorMessage extracts the error detail from an error body,
// tolerating both {"error": {"message": ...}} and plain text.
func upstreamErrorMessage(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "upstream returned an error with no body"
	}
	return msg
}
