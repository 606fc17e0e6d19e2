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

// Package risk scores detector output and orchestrates the per-request
// analysis pipeline.
package risk

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"aegisflow/platform/gateway/detect"
	"aegisflow/platform/gateway/sanitize"
	"aegisflow/platform/shared/logger"
	"aegisflow/platform/shared/types"
)

// BlockedContentMarker replaces the text of a request short-circuited by the
// adversarial detector.
const BlockedContentMarker = "[CONTENT_BLOCKED_DUE_TO_ADVERSARIAL_ATTEMPT]"

// AgentConfig is the orchestrator configuration. A zero value is filled with
// defaults at construction.
type AgentConfig struct {
	Mode                types.ProcessingMode
	ConfidenceThreshold float64
	MaxTextLength       int
	EnablePII           bool
	EnableBias          bool
	EnableAdversarial   bool
	Thresholds          LevelThresholds
}

// DefaultAgentConfig returns balanced-mode defaults with all detectors on.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Mode:                types.DefaultMode,
		ConfidenceThreshold: 0.7,
		MaxTextLength:       50000,
		EnablePII:           true,
		EnableBias:          true,
		EnableAdversarial:   true,
		Thresholds:          DefaultThresholds(),
	}
}

// Mitigator enforces actions on top of an assessment. The agent holds it as
// a late-bound handle: with none attached, the decision table's threshold
// outcome stands on its own.
type Mitigator interface {
	Apply(text string, assessment *types.RiskAssessment, pii []types.PIIEntity,
		bias []types.BiasDetection, adv []types.AdversarialDetection) types.MitigationResult
}

// Agent runs the full analysis pipeline: adversarial short-circuit, PII and
// bias detection, scoring, sanitization, mitigation, and the mode decision
// table. Safe for concurrent use; configuration reads take an immutable
// snapshot.
type Agent struct {
	mu        sync.RWMutex
	cfg       AgentConfig
	mitigator Mitigator

	pii       *detect.PIIDetector
	bias      *detect.BiasDetector
	adv       *detect.AdversarialDetector
	scorer    *Scorer
	sanitizer *sanitize.Sanitizer
	log       *logger.Logger

	totalProcessed  int64
	totalBlocked    int64
	totalSanitized  int64
	avgProcessingMs uint64 // float64 bits, updated via CAS
}

// NewAgent builds an agent, validating the level thresholds up front.
func NewAgent(cfg AgentConfig, log *logger.Logger) (*Agent, error) {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 50000
	}
	if !cfg.Mode.IsValid() {
		cfg.Mode = types.DefaultMode
	}
	if (cfg.Thresholds == LevelThresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	scorer, err := NewScorerWithThresholds(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("risk-agent")
	}

	return &Agent{
		cfg:       cfg,
		pii:       detect.NewPIIDetector(),
		bias:      detect.NewBiasDetector(),
		adv:       detect.NewAdversarialDetector(),
		scorer:    scorer,
		sanitizer: sanitize.New(),
		log:       log,
	}, nil
}

// Config returns a copy of the current configuration.
func (a *Agent) Config() AgentConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// SetMitigator attaches the enforcement handle used by subsequent analyses.
func (a *Agent) SetMitigator(m Mitigator) {
	a.mu.Lock()
	a.mitigator = m
	a.mu.Unlock()
}

func (a *Agent) mitigatorHandle() Mitigator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mitigator
}

// ApplyMitigation runs the attached mitigator over analyzed content. A nil
// return means no mitigator is attached.
func (a *Agent) ApplyMitigation(text string, assessment *types.RiskAssessment,
	pii []types.PIIEntity, bias []types.BiasDetection,
	adv []types.AdversarialDetection) *types.MitigationResult {

	m := a.mitigatorHandle()
	if m == nil {
		return nil
	}
	res := m.Apply(text, assessment, pii, bias, adv)
	return &res
}

// SetMode switches the processing mode for subsequent analyses.
func (a *Agent) SetMode(mode types.ProcessingMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid processing mode: %q", mode)
	}
	a.mu.Lock()
	a.cfg.Mode = mode
	a.mu.Unlock()
	return nil
}

// Analyze runs the pipeline and updates counters. Errors inside any stage
// produce a conservative fallback result rather than propagating.
func (a *Agent) Analyze(text string) *types.ProcessingResult {
	start := time.Now()
	cfg := a.Config()

	result := a.run(text, cfg)

	ms := float64(time.Since(start).Microseconds()) / 1000.0
	if result.Assessment != nil {
		result.Assessment.ProcessingMs = ms
	}

	atomic.AddInt64(&a.totalProcessed, 1)
	if result.ShouldBlock {
		atomic.AddInt64(&a.totalBlocked, 1)
		promBlockedTotal.Inc()
	}
	if result.Sanitization != nil && len(result.Sanitization.MaskedEntities) > 0 {
		atomic.AddInt64(&a.totalSanitized, 1)
		promSanitizedTotal.Inc()
	}
	a.recordProcessingMs(ms)

	promAnalysesTotal.WithLabelValues(decisionLabel(result)).Inc()
	promAnalysisDuration.Observe(ms)

	return result
}

func (a *Agent) run(text string, cfg AgentConfig) (result *types.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("", "", "analysis stage failed", map[string]interface{}{"panic": fmt.Sprint(r)})
			result = fallbackResult(text, fmt.Sprintf("analysis failed: %v", r))
		}
	}()

	var warnings []string
	if n := utf8.RuneCountInString(text); n > cfg.MaxTextLength {
		text = string([]rune(text)[:cfg.MaxTextLength])
		warnings = append(warnings, fmt.Sprintf("input truncated to %d characters", cfg.MaxTextLength))
	}

	dcfg := detect.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		StrictMode:          cfg.Mode == types.ModeStrict,
		EnableNER:           true,
		EnableStatistical:   true,
	}

	var adv []types.AdversarialDetection
	if cfg.EnableAdversarial {
		adv = a.adv.Detect(text, dcfg)
		if detect.HasCriticalShortCircuit(adv) {
			return a.shortCircuitResult(text, adv, warnings, cfg)
		}
	}

	var pii []types.PIIEntity
	if cfg.EnablePII {
		pii = a.pii.Detect(text, dcfg)
	}
	var bias []types.BiasDetection
	if cfg.EnableBias {
		bias = a.bias.Detect(text, dcfg)
	}

	assessment := a.scorer.Score(text, pii, bias, adv, cfg.Mode, 0)

	result = &types.ProcessingResult{
		OriginalText:  text,
		SanitizedText: text,
		Assessment:    assessment,
		Warnings:      warnings,
		Metadata:      map[string]interface{}{"mode": string(cfg.Mode)},
	}

	if len(pii) > 0 {
		san := a.sanitizer.Sanitize(text, pii, cfg.ConfidenceThreshold)
		result.Sanitization = &san
		result.SanitizedText = san.SanitizedText
	}

	shouldBlock, sanitizeAdvised := decide(cfg.Mode, assessment, pii, bias, adv)

	// Enforcement can only tighten the threshold decision, never relax it.
	if mres := a.ApplyMitigation(text, assessment, pii, bias, adv); mres != nil {
		result.Mitigation = mres
		if mres.Sanitized {
			result.SanitizedText = mres.MitigatedText
			sanitizeAdvised = true
		}
		if mres.Blocked {
			result.SanitizedText = mres.MitigatedText
			shouldBlock = true
		}
	}

	result.ShouldBlock = shouldBlock
	result.IsSafe = !shouldBlock
	result.Metadata["sanitize_advised"] = sanitizeAdvised

	return result
}

func (a *Agent) shortCircuitResult(text string, adv []types.AdversarialDetection,
	warnings []string, cfg AgentConfig) *types.ProcessingResult {

	assessment := &types.RiskAssessment{
		OverallScore:  10,
		Level:         types.RiskLevelCritical,
		AdvScore:      10,
		AdvDetections: adv,
		TextLength:    utf8.RuneCountInString(text),
		RiskFactors:   []string{fmt.Sprintf("adversarial_detected (%d patterns)", len(adv))},
		Suggestions:   []string{"Remove instruction-override or jailbreak phrasing"},
	}
	assessment.Confidence = assessmentConfidence(assessment)

	a.log.Warn("", "", "adversarial short circuit", map[string]interface{}{
		"detections": len(adv),
		"mode":       string(cfg.Mode),
	})

	return &types.ProcessingResult{
		OriginalText:  text,
		SanitizedText: BlockedContentMarker,
		Assessment:    assessment,
		IsSafe:        false,
		ShouldBlock:   true,
		Warnings:      warnings,
		Metadata: map[string]interface{}{
			"mode":          string(cfg.Mode),
			"short_circuit": true,
		},
	}
}

// decide applies the per-mode decision table. Tightening the mode can only
// turn allow into sanitize or block, never the reverse.
func decide(mode types.ProcessingMode, assessment *types.RiskAssessment,
	pii []types.PIIEntity, bias []types.BiasDetection, adv []types.AdversarialDetection) (block, sanitizeAdvised bool) {

	criticalAdv := false
	for _, d := range adv {
		if d.Severity == types.SeverityCritical {
			criticalAdv = true
			break
		}
	}
	criticalBias := false
	for _, d := range bias {
		if d.Severity == types.SeverityCritical {
			criticalBias = true
			break
		}
	}
	highRiskPII := false
	for _, e := range pii {
		if e.Kind.IsFinancialClass() && e.Confidence > 0.8 {
			highRiskPII = true
			break
		}
	}

	level := assessment.Level
	switch mode {
	case types.ModeStrict:
		block = level == types.RiskLevelHigh || level == types.RiskLevelCritical || criticalAdv || criticalBias
		sanitizeAdvised = !block && (level == types.RiskLevelMedium || highRiskPII)
	case types.ModePermissive:
		block = level == types.RiskLevelCritical || criticalAdv || criticalBias
	default:
		block = level == types.RiskLevelHigh || level == types.RiskLevelCritical || criticalAdv || criticalBias
		sanitizeAdvised = !block && highRiskPII
	}
	return block, sanitizeAdvised
}

func fallbackResult(text, warning string) *types.ProcessingResult {
	return &types.ProcessingResult{
		OriginalText:  text,
		SanitizedText: text,
		Assessment: &types.RiskAssessment{
			OverallScore: 10,
			Level:        types.RiskLevelCritical,
			TextLength:   utf8.RuneCountInString(text),
			Confidence:   0.95,
		},
		IsSafe:      false,
		ShouldBlock: true,
		Warnings:    []string{warning},
		Metadata:    map[string]interface{}{"fallback": true},
	}
}

func decisionLabel(result *types.ProcessingResult) string {
	switch {
	case result.ShouldBlock:
		return "blocked"
	case result.Sanitization != nil && len(result.Sanitization.MaskedEntities) > 0:
		return "sanitized"
	}
	return "allowed"
}

// recordProcessingMs folds one sample into the cumulative moving average
// without taking a lock.
func (a *Agent) recordProcessingMs(ms float64) {
	n := atomic.LoadInt64(&a.totalProcessed)
	if n <= 0 {
		n = 1
	}
	for {
		old := atomic.LoadUint64(&a.avgProcessingMs)
		cur := math.Float64frombits(old)
		next := cur + (ms-cur)/float64(n)
		if atomic.CompareAndSwapUint64(&a.avgProcessingMs, old, math.Float64bits(next)) {
			return
		}
	}
}

// GetStats returns the agent's counters for the stats endpoint.
func (a *Agent) GetStats() map[string]interface{} {
	cfg := a.Config()
	return map[string]interface{}{
		"mode":                 string(cfg.Mode),
		"confidence_threshold": cfg.ConfidenceThreshold,
		"total_processed":      atomic.LoadInt64(&a.totalProcessed),
		"total_blocked":        atomic.LoadInt64(&a.totalBlocked),
		"total_sanitized":      atomic.LoadInt64(&a.totalSanitized),
		"avg_processing_ms":    math.Float64frombits(atomic.LoadUint64(&a.avgProcessingMs)),
	}
}

// HealthCheck verifies the pipeline end to end on a tiny benign input.
func (a *Agent) HealthCheck() error {
	result := a.Analyze("health check probe")
	if result == nil || result.Assessment == nil {
		return fmt.Errorf("risk agent produced no assessment")
	}
	if _, ok := result.Metadata["fallback"]; ok {
		return fmt.Errorf("risk agent is degraded: %v", result.Warnings)
	}
	return nil
}
