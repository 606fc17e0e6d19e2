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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/gateway/audit"
	"aegisflow/platform/gateway/halluc"
	"aegisflow/platform/llm"
	"aegisflow/platform/shared/types"
)

// BlockedResponseMarker replaces a completion whose risk exceeds policy.
const BlockedResponseMarker = "[RESPONSE_BLOCKED_DUE_TO_HIGH_RISK]"

const dataFetchTimeout = 30 * time.Second

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// chatRequest is the OpenAI-compatible payload plus the risk controls.
type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Provider    string        `json:"provider,omitempty"`

	EnableRiskDetection *bool    `json:"enableRiskDetection,omitempty"`
	ProcessingMode      string   `json:"processingMode,omitempty"`
	MaxRiskScore        *float64 `json:"maxRiskScore,omitempty"`
	SanitizeInput       *bool    `json:"sanitizeInput,omitempty"`
	SanitizeOutput      *bool    `json:"sanitizeOutput,omitempty"`

	EnableDataAccess bool                   `json:"enableDataAccess,omitempty"`
	DataSourceName   string                 `json:"dataSourceName,omitempty"`
	DataQuery        string                 `json:"dataQuery,omitempty"`
	DataParams       map[string]interface{} `json:"dataParams,omitempty"`
}

type riskMetadata struct {
	InputRiskScore    float64  `json:"inputRiskScore"`
	OutputRiskScore   float64  `json:"outputRiskScore"`
	InputSanitized    bool     `json:"inputSanitized"`
	OutputSanitized   bool     `json:"outputSanitized"`
	ProcessingMs      float64  `json:"processingMs"`
	RiskFactors       []string `json:"riskFactors,omitempty"`
	MitigationApplied bool     `json:"mitigationApplied"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID           string        `json:"id"`
	Object       string        `json:"object"`
	Created      int64         `json:"created"`
	Model        string        `json:"model"`
	Choices      []chatChoice  `json:"choices"`
	Usage        chatUsage     `json:"usage"`
	RiskMetadata *riskMetadata `json:"riskMetadata,omitempty"`
}

type blockedBody struct {
	Error       string   `json:"error"`
	RiskScore   float64  `json:"risk_score"`
	MaxAllowed  float64  `json:"max_allowed"`
	RiskFactors []string `json:"risk_factors,omitempty"`
}

type upstreamBody struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// handleChatCompletions is the policy-enforcing proxy: analyze the prompt,
// block or sanitize, forward upstream, then analyze and sanitize the reply.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	identity, _ := IdentityFrom(r.Context())
	requestID := RequestIDFrom(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		writeError(w, http.StatusBadRequest, "max_tokens must be at least 1")
		return
	}
	if req.MaxRiskScore != nil && (*req.MaxRiskScore < 0 || *req.MaxRiskScore > 10) {
		writeError(w, http.StatusBadRequest, "maxRiskScore must be between 0 and 10")
		return
	}
	inputText := joinUserContent(req.Messages)
	if utf8.RuneCountInString(inputText) > s.cfg.MaxInputLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("input exceeds %d characters", s.cfg.MaxInputLength))
		return
	}

	settings := s.settingsFor(r.Context(), identity)
	mode, err := resolveMode(req.ProcessingMode, settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxRisk := s.cfg.DefaultRiskThreshold
	if settings != nil && settings.MaxRiskScore > 0 {
		maxRisk = settings.MaxRiskScore
	}
	if req.MaxRiskScore != nil {
		maxRisk = *req.MaxRiskScore
	}
	detectRisk := boolOr(req.EnableRiskDetection, true)
	sanitizeIn := boolOr(req.SanitizeInput, settings == nil || settings.SanitizeByDefault)
	sanitizeOut := boolOr(req.SanitizeOutput, settings == nil || settings.SanitizeByDefault)

	meta := &riskMetadata{}
	userID := identity.User.ID

	// Input analysis.
	var inputResult *types.ProcessingResult
	if detectRisk {
		inputResult = s.agentFor(mode).Analyze(inputText)
		meta.InputRiskScore = inputResult.Assessment.OverallScore
		meta.RiskFactors = inputResult.Assessment.RiskFactors

		if inputResult.ShouldBlock || inputResult.Assessment.OverallScore > maxRisk {
			promPolicyBlocksTotal.WithLabelValues("input").Inc()
			s.recordAudit(&audit.RiskLog{
				UserID:         userID,
				RequestID:      requestID,
				InputRiskScore: inputResult.Assessment.OverallScore,
				RiskFactors:    inputResult.Assessment.RiskFactors,
				Blocked:        true,
				ProcessingMs:   elapsedMs(start),
				CreatedAt:      time.Now().UTC(),
			})
			go s.alerts.ProcessRiskAlert(userID, inputResult.Assessment.OverallScore,
				map[string]interface{}{"blocked": true, "request_id": requestID})
			writeJSON(w, http.StatusBadRequest, blockedBody{
				Error:       "request blocked by risk policy",
				RiskScore:   inputResult.Assessment.OverallScore,
				MaxAllowed:  maxRisk,
				RiskFactors: inputResult.Assessment.RiskFactors,
			})
			return
		}
	}

	// Input sanitization rewrites user messages before they leave the
	// trust boundary; originals go to the vault for later resolution.
	outbound := make([]llm.Message, len(req.Messages))
	copy(outbound, req.Messages)
	if sanitizeIn {
		for i, msg := range outbound {
			if msg.Role != "user" {
				continue
			}
			sanitized, masked := s.sanitizeText(r.Context(), msg.Content)
			if masked > 0 {
				outbound[i].Content = sanitized
				meta.InputSanitized = true
			}
		}
	}

	// Optional data context from a registered source.
	var sourceRow map[string]interface{}
	if req.EnableDataAccess && req.DataSourceName != "" {
		contextText, row, warn := s.fetchDataContext(r.Context(), &req)
		if warn != "" {
			meta.RiskFactors = append(meta.RiskFactors, warn)
		}
		if contextText != "" {
			outbound = append([]llm.Message{{
				Role:    "system",
				Content: "Relevant data:\n" + contextText,
			}}, outbound...)
			sourceRow = row
		}
	}

	// Upstream call.
	providerName := req.Provider
	if providerName == "" && settings != nil {
		providerName = settings.PreferredProvider
	}
	provider, err := s.providers.Get(providerName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upstreamReq := llm.CompletionRequest{
		Messages:    outbound,
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens != nil {
		upstreamReq.MaxTokens = *req.MaxTokens
	}
	upstreamCtx, cancel := context.WithTimeout(r.Context(), llm.DefaultTimeout)
	resp, err := provider.Complete(upstreamCtx, upstreamReq)
	cancel()
	if err != nil {
		promUpstreamErrors.WithLabelValues(provider.Name()).Inc()
		if ue, ok := llm.AsUpstreamError(err); ok {
			writeJSON(w, http.StatusBadGateway, upstreamBody{Provider: ue.Provider, Error: ue.Message})
			return
		}
		writeJSON(w, http.StatusBadGateway, upstreamBody{Provider: provider.Name(), Error: err.Error()})
		return
	}
	promUpstreamTokens.WithLabelValues(provider.Name(), "prompt").Add(float64(resp.Usage.PromptTokens))
	promUpstreamTokens.WithLabelValues(provider.Name(), "completion").Add(float64(resp.Usage.CompletionTokens))

	// A gone client gets a blocked result and no partial audit row.
	if r.Context().Err() != nil {
		return
	}

	// Output analysis.
	content := resp.Content
	mitigationApplied := false
	if detectRisk {
		outputResult := s.agentFor(mode).Analyze(content)
		meta.OutputRiskScore = outputResult.Assessment.OverallScore

		// A flagged response is tagged in balanced and permissive modes;
		// strict mode withholds it entirely.
		if sourceRow != nil {
			ha := s.halluc.Detect(content, sourceRow, lastUserMessage(req.Messages))
			if ha.Score >= halluc.FlagThreshold {
				meta.RiskFactors = append(meta.RiskFactors, "potential_hallucination")
				if mode == types.ModeStrict {
					content = BlockedResponseMarker
					mitigationApplied = true
				}
			}
		}

		if outputResult.ShouldBlock || outputResult.Assessment.OverallScore > maxRisk {
			promPolicyBlocksTotal.WithLabelValues("output").Inc()
			content = BlockedResponseMarker
			mitigationApplied = true
			meta.RiskFactors = append(meta.RiskFactors, "response_blocked")
		} else if sanitizeOut {
			if sanitized, masked := s.sanitizeText(r.Context(), content); masked > 0 {
				content = sanitized
				meta.OutputSanitized = true
			}
		}
		meta.RiskFactors = append(meta.RiskFactors, outputRiskFactors(outputResult)...)
	} else if sanitizeOut {
		if sanitized, masked := s.sanitizeText(r.Context(), content); masked > 0 {
			content = sanitized
			meta.OutputSanitized = true
		}
	}
	meta.MitigationApplied = mitigationApplied
	meta.ProcessingMs = elapsedMs(start)

	s.recordAudit(&audit.RiskLog{
		UserID:           userID,
		RequestID:        requestID,
		InputRiskScore:   meta.InputRiskScore,
		OutputRiskScore:  meta.OutputRiskScore,
		RiskFactors:      meta.RiskFactors,
		Blocked:          mitigationApplied,
		InputSanitized:   meta.InputSanitized,
		OutputSanitized:  meta.OutputSanitized,
		Provider:         provider.Name(),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ProcessingMs:     meta.ProcessingMs,
		CreatedAt:        time.Now().UTC(),
	})
	maxScore := meta.InputRiskScore
	if meta.OutputRiskScore > maxScore {
		maxScore = meta.OutputRiskScore
	}
	go s.alerts.ProcessRiskAlert(userID, maxScore, map[string]interface{}{
		"blocked":    mitigationApplied,
		"request_id": requestID,
	})
	if identity.Key != nil && identity.Key.UsageLimit > 0 {
		key := identity.Key
		go s.alerts.ProcessUsageAlert(userID, key.ID, key.UsageCount+1, key.UsageLimit)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []chatChoice{{
			Message:      llm.Message{Role: "assistant", Content: content},
			FinishReason: resp.FinishReason,
		}},
		Usage: chatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		RiskMetadata: meta,
	})
}

// sanitizeText masks PII in a single text and vaults the originals. The
// second return is the number of masked entities.
func (s *Server) sanitizeText(ctx context.Context, text string) (string, int) {
	entities := s.piiDetector.Detect(text, s.detectCfg)
	if len(entities) == 0 {
		return text, 0
	}
	result := s.sanitizer.Sanitize(text, entities, s.detectCfg.ConfidenceThreshold)
	if s.vault != nil {
		for _, e := range result.MaskedEntities {
			if _, err := s.vault.Store(ctx, e.Span.OriginalText, e.Kind, 24*time.Hour, nil); err != nil {
				s.log.Warn("", "", "vault store failed", map[string]interface{}{
					"kind":  string(e.Kind),
					"error": err.Error(),
				})
			}
		}
	}
	return result.SanitizedText, len(result.MaskedEntities)
}

// fetchDataContext queries a registered source and renders its rows for the
// prompt. Failures degrade to a warning rather than failing the request.
func (s *Server) fetchDataContext(ctx context.Context, req *chatRequest) (string, map[string]interface{}, string) {
	src, err := s.sources.Get(req.DataSourceName)
	if err != nil {
		return "", nil, "data_source_not_found"
	}
	fetchCtx, cancel := context.WithTimeout(ctx, dataFetchTimeout)
	defer cancel()
	result, err := src.Query(fetchCtx, &base.Query{
		Statement:  req.DataQuery,
		Parameters: req.DataParams,
	})
	if err != nil {
		s.log.Warn("", "", "data context fetch failed", map[string]interface{}{
			"source": req.DataSourceName,
			"error":  err.Error(),
		})
		return "", nil, "data_access_failed"
	}
	if !result.IsSafe {
		return "", nil, "data_result_blocked"
	}
	var row map[string]interface{}
	if len(result.Rows) > 0 {
		row = result.Rows[0]
	}
	return result.RenderText(), row, ""
}

type analyzeRequest struct {
	Text              string `json:"text"`
	ProcessingMode    string `json:"processingMode,omitempty"`
	IncludeSanitized  bool   `json:"includeSanitized,omitempty"`
	IncludeDetections bool   `json:"includeDetections,omitempty"`
}

type analyzeResponse struct {
	Assessment    *types.RiskAssessment `json:"assessment"`
	IsSafe        bool                  `json:"isSafe"`
	ShouldBlock   bool                  `json:"shouldBlock"`
	Warnings      []string              `json:"warnings,omitempty"`
	SanitizedText string                `json:"sanitizedText,omitempty"`
	EntityCounts  map[string]int        `json:"entityCounts,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if utf8.RuneCountInString(req.Text) > s.cfg.MaxInputLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("text exceeds %d characters", s.cfg.MaxInputLength))
		return
	}
	mode := types.DefaultMode
	if req.ProcessingMode != "" {
		var err error
		mode, err = types.ParseMode(req.ProcessingMode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	result := s.agentFor(mode).Analyze(req.Text)

	counts := make(map[string]int)
	for _, e := range result.Assessment.PIIEntities {
		counts[string(e.Kind)]++
	}
	resp := analyzeResponse{
		Assessment:   result.Assessment,
		IsSafe:       result.IsSafe,
		ShouldBlock:  result.ShouldBlock,
		Warnings:     result.Warnings,
		EntityCounts: counts,
	}
	if req.IncludeSanitized {
		resp.SanitizedText = result.SanitizedText
	}
	if !req.IncludeDetections {
		stripped := *result.Assessment
		stripped.PIIEntities = nil
		stripped.BiasDetections = nil
		stripped.AdvDetections = nil
		resp.Assessment = &stripped
	}
	writeJSON(w, http.StatusOK, resp)
}

type sanitizeRequest struct {
	Text                string   `json:"text"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
}

type sanitizeResponse struct {
	OriginalLength int     `json:"originalLength"`
	SanitizedText  string  `json:"sanitizedText"`
	EntitiesFound  int     `json:"entitiesFound"`
	EntitiesMasked int     `json:"entitiesMasked"`
	RiskReduced    float64 `json:"riskReduced"`
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if utf8.RuneCountInString(req.Text) > s.cfg.MaxInputLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("text exceeds %d characters", s.cfg.MaxInputLength))
		return
	}
	threshold := s.detectCfg.ConfidenceThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
		if threshold < 0 || threshold > 1 {
			writeError(w, http.StatusBadRequest, "confidenceThreshold must be between 0 and 1")
			return
		}
	}

	entities := s.piiDetector.Detect(req.Text, s.detectCfg)
	result := s.sanitizer.Sanitize(req.Text, entities, threshold)

	writeJSON(w, http.StatusOK, sanitizeResponse{
		OriginalLength: utf8.RuneCountInString(req.Text),
		SanitizedText:  result.SanitizedText,
		EntitiesFound:  len(entities),
		EntitiesMasked: len(result.MaskedEntities),
		RiskReduced:    result.RiskReduced,
	})
}

type vaultStoreRequest struct {
	Value      string                 `json:"value"`
	Kind       string                 `json:"kind"`
	TTLSeconds int64                  `json:"ttlSeconds,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleVaultStore(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "vault is not configured")
		return
	}
	var req vaultStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "value must not be empty")
		return
	}
	kind := types.PIIKind(req.Kind)
	if !kind.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid kind %q", req.Kind))
		return
	}
	ttl := 24 * time.Hour
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	masked, err := s.vault.Store(r.Context(), req.Value, kind, ttl, req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vault store failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"maskedValue": masked})
}

type vaultLookupRequest struct {
	MaskedValue string `json:"maskedValue"`
	Kind        string `json:"kind,omitempty"`
}

func (s *Server) handleVaultRetrieve(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "vault is not configured")
		return
	}
	var req vaultLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	value, found := s.vault.Retrieve(r.Context(), req.MaskedValue, types.PIIKind(req.Kind))
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": value, "found": found})
}

func (s *Server) handleVaultRevoke(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "vault is not configured")
		return
	}
	var req vaultLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	revoked := s.vault.Revoke(r.Context(), req.MaskedValue)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (s *Server) handleVaultStats(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "vault is not configured")
		return
	}
	stats, err := s.vault.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vault statistics failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRiskLogs(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	logs, err := s.auditStore.ListRiskLogs(r.Context(), identity.User.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing risk logs failed")
		return
	}
	if logs == nil {
		logs = []audit.RiskLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}

func (s *Server) handleRiskStats(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	days := queryInt(r, "days", 30)
	stats, err := s.auditStore.RiskStatistics(r.Context(), identity.User.ID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "aggregating risk logs failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":     s.agentFor(types.DefaultMode).GetStats(),
		"audit":     s.recorder.GetStats(),
		"mitigator": s.mitigator.GetStats(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.providers.Names(),
		"default":   s.cfg.DefaultLLMProvider,
	})
}

func (s *Server) handleDataSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": s.sources.Names()})
}

func (s *Server) handleAlertRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": s.alerts.Rules()})
}

func (s *Server) handleAlertRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events := s.alerts.Recent(limit)
	if events == nil {
		events = []types.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{}
	if err := s.agentFor(types.DefaultMode).HealthCheck(); err != nil {
		status = "degraded"
		components["agent"] = err.Error()
	} else {
		components["agent"] = "ok"
	}
	components["providers"] = strings.Join(s.providers.Names(), ",")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	user := &User{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		IsActive:     true,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "user account is inactive")
		return
	}
	token, err := s.auth.IssueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": token,
		"tokenType":   "bearer",
		"expiresIn":   s.cfg.JWTExpirationHours * 3600,
	})
}

type createKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	UsageLimit  int64    `json:"usageLimit,omitempty"`
	RateLimit   int      `json:"rateLimit,omitempty"`
	ExpiresDays int      `json:"expiresDays,omitempty"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	plaintext, keyHash, keyPrefix, err := GenerateAPIKey(s.cfg.APIKeyPrefix, s.cfg.APIKeyLength)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	key := &APIKey{
		UserID:      identity.User.ID,
		Name:        req.Name,
		KeyHash:     keyHash,
		KeyPrefix:   keyPrefix,
		Permissions: req.Permissions,
		UsageLimit:  req.UsageLimit,
		RateLimit:   req.RateLimit,
		IsActive:    true,
	}
	if key.RateLimit == 0 {
		key.RateLimit = s.cfg.DefaultRateLimit
	}
	if req.ExpiresDays > 0 {
		exp := time.Now().UTC().Add(time.Duration(req.ExpiresDays) * 24 * time.Hour)
		key.ExpiresAt = &exp
	}
	if err := s.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "key creation failed")
		return
	}
	// The plaintext key is returned once and never again.
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":       plaintext,
		"id":        key.ID,
		"keyPrefix": key.KeyPrefix,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	keys, err := s.store.ListKeysByUser(r.Context(), identity.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing keys failed")
		return
	}
	if keys == nil {
		keys = []APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	keyID := mux.Vars(r)["id"]

	keys, err := s.store.ListKeysByUser(r.Context(), identity.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deleting key failed")
		return
	}
	owned := false
	for _, k := range keys {
		if k.ID == keyID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err := s.store.SoftDeleteKey(r.Context(), keyID); err != nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	settings, err := s.store.GetUserSettings(r.Context(), identity.User.ID)
	if errors.Is(err, ErrNotFound) {
		settings = s.defaultSettings(identity.User.ID)
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "loading settings failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var settings UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if settings.DefaultMode != "" {
		if _, err := types.ParseMode(settings.DefaultMode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if settings.MaxRiskScore < 0 || settings.MaxRiskScore > 10 {
		writeError(w, http.StatusBadRequest, "maxRiskScore must be between 0 and 10")
		return
	}
	settings.UserID = identity.User.ID
	if err := s.store.UpsertUserSettings(r.Context(), &settings); err != nil {
		writeError(w, http.StatusInternalServerError, "saving settings failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) settingsFor(ctx context.Context, identity *Identity) *UserSettings {
	if identity == nil {
		return nil
	}
	settings, err := s.store.GetUserSettings(ctx, identity.User.ID)
	if err != nil {
		return nil
	}
	return settings
}

func (s *Server) defaultSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:            userID,
		DefaultMode:       string(types.DefaultMode),
		MaxRiskScore:      s.cfg.DefaultRiskThreshold,
		SanitizeByDefault: true,
	}
}

// recordAudit hands the row to the async recorder; a full queue only logs.
func (s *Server) recordAudit(rl *audit.RiskLog) {
	if !s.recorder.Record(rl) {
		s.log.Warn(rl.UserID, rl.RequestID, "audit queue full, row dropped", nil)
	}
}

func resolveMode(requested string, settings *UserSettings) (types.ProcessingMode, error) {
	if requested != "" {
		return types.ParseMode(requested)
	}
	if settings != nil && settings.DefaultMode != "" {
		if mode, err := types.ParseMode(settings.DefaultMode); err == nil {
			return mode, nil
		}
	}
	return types.DefaultMode, nil
}

func joinUserContent(messages []llm.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func outputRiskFactors(result *types.ProcessingResult) []string {
	var out []string
	for _, f := range result.Assessment.RiskFactors {
		out = append(out, "output:"+f)
	}
	return out
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
