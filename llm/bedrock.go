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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const defaultBedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// ModelInvoker is the slice of the Bedrock runtime client the provider uses.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider calls Anthropic models on AWS Bedrock. Authentication is
// SigV4 via the ambient IAM role, so no API key is involved.
type BedrockProvider struct {
	client ModelInvoker
	region string
	model  string
}

// NewBedrockProvider resolves AWS config for the region and builds a provider.
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewBedrockProviderWithClient(bedrockruntime.NewFromConfig(awsCfg), region, model), nil
}

// NewBedrockProviderWithClient wires an explicit client, used by tests.
func NewBedrockProviderWithClient(client ModelInvoker, region, model string) *BedrockProvider {
	if model == "" {
		model = defaultBedrockModel
	}
	return &BedrockProvider{client: client, region: region, model: model}
}

func (p *BedrockProvider) Name() string       { return "bedrock" }
func (p *BedrockProvider) Type() ProviderType { return ProviderTypeBedrock }

func (p *BedrockProvider) Capabilities() []Capability {
	return []Capability{CapabilityChat, CapabilityReasoning, CapabilityCode, CapabilityLongInput}
}

type anthropicMessagesBody struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature,omitempty"`
	System           string    `json:"system,omitempty"`
	Messages         []Message `json:"messages"`
}

type anthropicMessagesReply struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete invokes the model with the anthropic messages body shape. System
// messages are lifted into the top-level system field as the API requires.
func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := anthropicMessagesBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, m)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, &UpstreamError{Provider: "bedrock", Message: err.Error()}
	}

	var reply anthropicMessagesReply
	if err := json.Unmarshal(output.Body, &reply); err != nil {
		return nil, &UpstreamError{Provider: "bedrock",
			Message: fmt.Sprintf("malformed response: %v", err)}
	}

	var content string
	for _, block := range reply.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &CompletionResponse{
		Content: content,
		Model:   model,
		Usage: UsageStats{
			PromptTokens:     reply.Usage.InputTokens,
			CompletionTokens: reply.Usage.OutputTokens,
			TotalTokens:      reply.Usage.InputTokens + reply.Usage.OutputTokens,
		},
		Latency:      time.Since(start),
		FinishReason: reply.StopReason,
	}, nil
}

// HealthCheck sends a one-token probe. Bedrock has no cheap list call that
// exercises InvokeModel permissions, so a minimal completion is the check.
func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, CompletionRequest{
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}
