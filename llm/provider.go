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
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single upstream call. The gateway never retries;
// the call is attempted once and failures surface to the client.
const DefaultTimeout = 60 * time.Second

// Provider is the contract every upstream implements.
type Provider interface {
	// Name returns the provider's registry name ("groq", "bedrock", ...).
	Name() string

	// Type returns the implementation family.
	Type() ProviderType

	// Complete performs one completion call. Implementations must honour
	// the context deadline and return an *UpstreamError for HTTP-level
	// failures so handlers can map them to 502.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error

	// Capabilities lists what the provider supports.
	Capabilities() []Capability
}

// UpstreamError tags a provider failure with its origin. Handlers render it
// as a 502 with a {provider, error} body.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Provider, e.Message)
}

// AsUpstreamError unwraps err into an *UpstreamError if it is one.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
