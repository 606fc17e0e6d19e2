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

// Package audit persists per-request risk logs asynchronously. The request
// path enqueues and moves on; workers write to the store with retries and
// spill to a JSONL fallback file when the store is down.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"aegisflow/platform/shared/logger"
)

// RiskLog is one audit record. (UserID, RequestID) is the idempotency key:
// replays of the same request never duplicate rows.
type RiskLog struct {
	UserID           string                 `json:"user_id"`
	RequestID        string                 `json:"request_id"`
	InputRiskScore   float64                `json:"input_risk_score"`
	OutputRiskScore  float64                `json:"output_risk_score"`
	RiskFactors      []string               `json:"risk_factors,omitempty"`
	Blocked          bool                   `json:"blocked"`
	InputSanitized   bool                   `json:"input_sanitized"`
	OutputSanitized  bool                   `json:"output_sanitized"`
	Provider         string                 `json:"provider,omitempty"`
	Model            string                 `json:"model,omitempty"`
	PromptTokens     int                    `json:"prompt_tokens"`
	CompletionTokens int                    `json:"completion_tokens"`
	TotalTokens      int                    `json:"total_tokens"`
	ProcessingMs     float64                `json:"processing_ms"`
	Mitigation       map[string]interface{} `json:"mitigation,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// RecorderConfig sizes the async machinery.
type RecorderConfig struct {
	QueueSize    int
	Workers      int
	FallbackPath string
}

// DefaultRecorderConfig returns production sizing.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{QueueSize: 1000, Workers: 2, FallbackPath: "audit_fallback.jsonl"}
}

// Recorder drains risk logs into a Store. Safe for concurrent use.
type Recorder struct {
	store    Store
	queue    chan *RiskLog
	wg       sync.WaitGroup
	log      *logger.Logger
	archiver *Archiver

	fallbackMu   sync.Mutex
	fallbackFile *os.File

	enqueued  uint64
	processed uint64
	failed    uint64
	dropped   uint64
}

// NewRecorder opens the fallback file and starts the worker pool.
func NewRecorder(store Store, cfg RecorderConfig, log *logger.Logger) (*Recorder, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if log == nil {
		log = logger.New("audit-recorder")
	}

	var fallback *os.File
	if cfg.FallbackPath != "" {
		// Read-write so the archiver can drain and truncate the segment.
		f, err := os.OpenFile(cfg.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening fallback file: %w", err)
		}
		fallback = f
	}

	r := &Recorder{
		store:        store,
		queue:        make(chan *RiskLog, cfg.QueueSize),
		log:          log,
		fallbackFile: fallback,
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r, nil
}

// SetArchiver attaches an S3 archiver for rotated fallback segments.
func (r *Recorder) SetArchiver(a *Archiver) { r.archiver = a }

// Record enqueues one risk log without blocking. When the queue is full the
// record spills to the fallback file; if that also fails it is dropped and
// counted.
func (r *Recorder) Record(rl *RiskLog) bool {
	if rl.CreatedAt.IsZero() {
		rl.CreatedAt = time.Now().UTC()
	}
	select {
	case r.queue <- rl:
		atomic.AddUint64(&r.enqueued, 1)
		return true
	default:
	}

	atomic.AddUint64(&r.dropped, 1)
	r.log.Warn(rl.UserID, rl.RequestID, "audit queue full", map[string]interface{}{
		"dropped": atomic.LoadUint64(&r.dropped),
	})
	return r.writeFallback(rl) == nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for rl := range r.queue {
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err = r.store.CreateRiskLog(ctx, rl)
			cancel()
			if err == nil {
				atomic.AddUint64(&r.processed, 1)
				break
			}
			time.Sleep(time.Duration(100*(attempt+1)) * time.Millisecond)
		}
		if err != nil {
			atomic.AddUint64(&r.failed, 1)
			r.log.Error(rl.UserID, rl.RequestID, "audit write failed", map[string]interface{}{
				"error": err.Error(),
			})
			if ferr := r.writeFallback(rl); ferr != nil {
				r.log.Error(rl.UserID, rl.RequestID, "fallback write failed", map[string]interface{}{
					"error": ferr.Error(),
				})
			}
		}
	}
}

func (r *Recorder) writeFallback(rl *RiskLog) error {
	if r.fallbackFile == nil {
		return fmt.Errorf("no fallback file configured")
	}
	data, err := json.Marshal(rl)
	if err != nil {
		return fmt.Errorf("marshaling risk log: %w", err)
	}

	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()
	if _, err := fmt.Fprintf(r.fallbackFile, "%s\n", data); err != nil {
		return fmt.Errorf("writing fallback: %w", err)
	}
	return r.fallbackFile.Sync()
}

// ArchiveFallback uploads the fallback file through the attached archiver and
// truncates it. No-op without an archiver or a fallback file.
func (r *Recorder) ArchiveFallback(ctx context.Context) error {
	if r.archiver == nil || r.fallbackFile == nil {
		return nil
	}
	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()
	return r.archiver.ArchiveFile(ctx, r.fallbackFile)
}

// Shutdown stops intake and waits for the workers to drain, up to the
// context deadline. Records still queued at the deadline spill to fallback.
func (r *Recorder) Shutdown(ctx context.Context) error {
	close(r.queue)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		for rl := range r.queue {
			if err := r.writeFallback(rl); err != nil {
				r.log.Error(rl.UserID, rl.RequestID, "drain to fallback failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		return ctx.Err()
	}

	if r.fallbackFile != nil {
		return r.fallbackFile.Close()
	}
	return nil
}

// GetStats returns the recorder's counters.
func (r *Recorder) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"enqueued":  atomic.LoadUint64(&r.enqueued),
		"processed": atomic.LoadUint64(&r.processed),
		"failed":    atomic.LoadUint64(&r.failed),
		"dropped":   atomic.LoadUint64(&r.dropped),
		"pending":   len(r.queue),
	}
}
