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

// Package alerts evaluates risk, usage, and anomaly rules against per-actor
// thresholds and dispatches notifications. Dispatch is best-effort and runs
// off the request path.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aegisflow/platform/shared/logger"
	"aegisflow/platform/shared/types"
)

// Rule is one alert trigger. Threshold semantics depend on the kind: a risk
// score for high_risk, a usage percentage for usage_limit, a spike multiplier
// for anomaly.
type Rule struct {
	Kind            types.AlertKind    `json:"kind" yaml:"kind"`
	Threshold       float64            `json:"threshold" yaml:"threshold"`
	Channel         types.AlertChannel `json:"channel" yaml:"channel"`
	Target          string             `json:"target" yaml:"target"`
	CooldownMinutes int                `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Active          bool               `json:"active" yaml:"active"`
}

// DefaultRules returns the built-in rule set. Per-actor customization layers
// on top of these.
func DefaultRules(adminEmail, webhookURL string) []Rule {
	return []Rule{
		{Kind: types.AlertHighRisk, Threshold: 7.0, Channel: types.ChannelEmail, Target: adminEmail, CooldownMinutes: 60, Active: true},
		{Kind: types.AlertBlocked, Threshold: 1.0, Channel: types.ChannelWebhook, Target: webhookURL, CooldownMinutes: 30, Active: true},
		{Kind: types.AlertUsageLimit, Threshold: 90.0, Channel: types.ChannelEmail, Target: adminEmail, CooldownMinutes: 360, Active: true},
		{Kind: types.AlertAnomaly, Threshold: 2.0, Channel: types.ChannelBoth, Target: adminEmail, CooldownMinutes: 720, Active: true},
	}
}

// TaskQueue runs alert dispatches in the background. Enqueue returns false
// when the queue rejects the task; the alert is then dropped.
type TaskQueue interface {
	Enqueue(task func()) bool
}

// goQueue is the fallback queue: one goroutine per task.
type goQueue struct{}

func (goQueue) Enqueue(task func()) bool { go task(); return true }

// EmailFunc delivers an email alert. Wiring an actual mail provider is the
// caller's concern.
type EmailFunc func(event types.AlertEvent, target string)

// RiskStats is the aggregate the anomaly check compares across windows.
type RiskStats struct {
	AvgRiskScore  float64
	TotalRequests int64
}

// StatsSource supplies per-actor risk aggregates over a trailing window.
type StatsSource interface {
	RiskStatistics(ctx context.Context, actorID string, days int) (RiskStats, error)
}

// Engine evaluates rules and dispatches alerts. Safe for concurrent use.
type Engine struct {
	queue  TaskQueue
	email  EmailFunc
	client *http.Client
	stats  StatsSource
	log    *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	rules     []Rule
	history   map[string]time.Time
	cooldowns CooldownStore
	recent    []types.AlertEvent
}

// maxRecentEvents bounds the in-memory event history.
const maxRecentEvents = 100

// New builds an engine with the default rule set. A nil queue falls back to
// per-task goroutines; a nil email function logs instead of sending.
func New(rules []Rule, queue TaskQueue, email EmailFunc, stats StatsSource, log *logger.Logger) *Engine {
	if queue == nil {
		queue = goQueue{}
	}
	if log == nil {
		log = logger.New("alert-engine")
	}
	e := &Engine{
		queue:   queue,
		email:   email,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   stats,
		log:     log,
		now:     time.Now,
		rules:   rules,
		history: make(map[string]time.Time),
	}
	if e.email == nil {
		e.email = e.logEmail
	}
	return e
}

// SetCooldownStore swaps the in-memory cooldown map for a shared store,
// typically Redis when the gateway runs more than one instance.
func (e *Engine) SetCooldownStore(store CooldownStore) {
	e.mu.Lock()
	e.cooldowns = store
	e.mu.Unlock()
}

// SetRules replaces the rule set.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

func (e *Engine) snapshotRules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Rules returns a copy of the active rule set.
func (e *Engine) Rules() []Rule {
	return e.snapshotRules()
}

// Recent returns the newest dispatched events, most recent first, up to n.
func (e *Engine) Recent(n int) []types.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.recent) {
		n = len(e.recent)
	}
	out := make([]types.AlertEvent, n)
	for i := 0; i < n; i++ {
		out[i] = e.recent[len(e.recent)-1-i]
	}
	return out
}

func (e *Engine) remember(event types.AlertEvent) {
	e.mu.Lock()
	e.recent = append(e.recent, event)
	if len(e.recent) > maxRecentEvents {
		e.recent = e.recent[len(e.recent)-maxRecentEvents:]
	}
	e.mu.Unlock()
}

// ProcessRiskAlert evaluates the high_risk and blocked rules for one
// analyzed request. Returns the events that fired.
func (e *Engine) ProcessRiskAlert(actorID string, riskScore float64, riskLog map[string]interface{}) []types.AlertEvent {
	var fired []types.AlertEvent
	for _, rule := range e.snapshotRules() {
		if !rule.Active {
			continue
		}

		var event *types.AlertEvent
		switch {
		case rule.Kind == types.AlertHighRisk && riskScore >= rule.Threshold:
			event = &types.AlertEvent{
				Kind:     types.AlertHighRisk,
				ActorID:  actorID,
				Severity: severityForScore(riskScore),
				Message:  fmt.Sprintf("High risk detected: %.2f/10", riskScore),
				Details: map[string]interface{}{
					"risk_score": riskScore,
					"request_id": riskLog["request_id"],
					"provider":   riskLog["provider"],
				},
				Threshold: rule.Threshold,
				Actual:    riskScore,
			}
		case rule.Kind == types.AlertBlocked && wasBlocked(riskLog):
			event = &types.AlertEvent{
				Kind:     types.AlertBlocked,
				ActorID:  actorID,
				Severity: types.EscalationMedium,
				Message:  "Request blocked by risk policy",
				Details: map[string]interface{}{
					"risk_score": riskScore,
					"request_id": riskLog["request_id"],
				},
				Threshold: rule.Threshold,
				Actual:    1,
			}
		}

		if event != nil && e.passCooldown(actorID, rule) {
			event.At = e.now().UTC()
			fired = append(fired, *event)
			e.dispatch(*event, rule)
		}
	}
	return fired
}

// ProcessUsageAlert fires when a key's usage percentage crosses the
// usage_limit threshold. A zero limit means unlimited.
func (e *Engine) ProcessUsageAlert(actorID, keyID string, usage, limit int64) []types.AlertEvent {
	if limit <= 0 {
		return nil
	}
	pct := float64(usage) / float64(limit) * 100

	var fired []types.AlertEvent
	for _, rule := range e.snapshotRules() {
		if !rule.Active || rule.Kind != types.AlertUsageLimit || pct < rule.Threshold {
			continue
		}
		severity := types.EscalationMedium
		if pct >= 95 {
			severity = types.EscalationHigh
		}
		event := types.AlertEvent{
			Kind:     types.AlertUsageLimit,
			ActorID:  actorID,
			Severity: severity,
			Message:  fmt.Sprintf("API key usage at %.1f%%", pct),
			Details: map[string]interface{}{
				"api_key_id":    keyID,
				"current_usage": usage,
				"usage_limit":   limit,
			},
			Threshold: rule.Threshold,
			Actual:    pct,
		}
		if e.passCooldown(actorID, rule) {
			event.At = e.now().UTC()
			fired = append(fired, event)
			e.dispatch(event, rule)
		}
	}
	return fired
}

// CheckAnomalies compares the trailing day's average risk against the
// 30-day historical average and fires when the spike multiplier crosses
// the anomaly threshold.
func (e *Engine) CheckAnomalies(ctx context.Context, actorID string) []types.AlertEvent {
	if e.stats == nil {
		return nil
	}
	recent, err := e.stats.RiskStatistics(ctx, actorID, 1)
	if err != nil {
		e.log.Warn(actorID, "", "anomaly check failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	historical, err := e.stats.RiskStatistics(ctx, actorID, 30)
	if err != nil {
		e.log.Warn(actorID, "", "anomaly check failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if historical.AvgRiskScore <= 0 {
		return nil
	}
	multiplier := recent.AvgRiskScore / historical.AvgRiskScore

	var fired []types.AlertEvent
	for _, rule := range e.snapshotRules() {
		if !rule.Active || rule.Kind != types.AlertAnomaly || multiplier < rule.Threshold {
			continue
		}
		event := types.AlertEvent{
			Kind:     types.AlertAnomaly,
			ActorID:  actorID,
			Severity: types.EscalationMedium,
			Message:  "Anomalous risk spike detected",
			Details: map[string]interface{}{
				"recent_avg_risk":     recent.AvgRiskScore,
				"historical_avg_risk": historical.AvgRiskScore,
				"spike_multiplier":    multiplier,
			},
			Threshold: rule.Threshold,
			Actual:    multiplier,
		}
		if e.passCooldown(actorID, rule) {
			event.At = e.now().UTC()
			fired = append(fired, event)
			e.dispatch(event, rule)
		}
	}
	return fired
}

// passCooldown consults and updates the per-(actor, kind) history. A shared
// store acquires per key on its own, outside the engine lock, so a slow
// Redis round trip never stalls unrelated actors.
func (e *Engine) passCooldown(actorID string, rule Rule) bool {
	key := actorID + ":" + string(rule.Kind)
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	now := e.now()

	e.mu.Lock()
	store := e.cooldowns
	e.mu.Unlock()
	if store != nil {
		return store.Acquire(key, cooldown)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.history[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	e.history[key] = now
	return true
}

// dispatch hands delivery to the background queue. Failures are logged,
// never surfaced.
func (e *Engine) dispatch(event types.AlertEvent, rule Rule) {
	e.remember(event)
	if rule.Target == "" {
		e.log.Warn(event.ActorID, "", "alert has no target", map[string]interface{}{
			"kind": string(rule.Kind),
		})
		return
	}
	ok := e.queue.Enqueue(func() {
		if rule.Channel == types.ChannelEmail || rule.Channel == types.ChannelBoth {
			e.email(event, rule.Target)
		}
		if rule.Channel == types.ChannelWebhook || rule.Channel == types.ChannelBoth {
			e.postWebhook(event, rule.Target)
		}
	})
	if !ok {
		e.log.Warn(event.ActorID, "", "alert queue full, dropping alert", map[string]interface{}{
			"kind": string(rule.Kind),
		})
	}
}

func (e *Engine) postWebhook(event types.AlertEvent, url string) {
	body, err := json.Marshal(event)
	if err != nil {
		e.log.Error(event.ActorID, "", "alert payload marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		e.log.Warn(event.ActorID, "", "alert webhook failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer resp.Body.Close()
	e.log.Info(event.ActorID, "", "alert webhook delivered", map[string]interface{}{
		"kind":   string(event.Kind),
		"status": resp.StatusCode,
	})
}

func (e *Engine) logEmail(event types.AlertEvent, target string) {
	e.log.Info(event.ActorID, "", "email alert", map[string]interface{}{
		"to":       target,
		"kind":     string(event.Kind),
		"severity": string(event.Severity),
		"message":  event.Message,
	})
}

func severityForScore(score float64) types.EscalationLevel {
	switch {
	case score >= 9:
		return types.EscalationCritical
	case score >= 7:
		return types.EscalationHigh
	case score >= 5:
		return types.EscalationMedium
	}
	return types.EscalationLow
}

// wasBlocked inspects the risk log for a block outcome.
func wasBlocked(riskLog map[string]interface{}) bool {
	if blocked, ok := riskLog["blocked"].(bool); ok && blocked {
		return true
	}
	if applied, ok := riskLog["mitigation_applied"].(map[string]interface{}); ok {
		if b, ok := applied["blocked"].(bool); ok && b {
			return true
		}
	}
	return false
}
