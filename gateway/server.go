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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"aegisflow/platform/connectors/registry"
	"aegisflow/platform/gateway/alerts"
	"aegisflow/platform/gateway/audit"
	"aegisflow/platform/gateway/detect"
	"aegisflow/platform/gateway/halluc"
	"aegisflow/platform/gateway/mitigate"
	"aegisflow/platform/gateway/risk"
	"aegisflow/platform/gateway/sanitize"
	"aegisflow/platform/gateway/vault"
	"aegisflow/platform/llm"
	"aegisflow/platform/shared/logger"
	"aegisflow/platform/shared/types"
)

// Server wires the risk pipeline behind the HTTP API.
type Server struct {
	cfg  Config
	log  *logger.Logger
	auth *Authenticator

	store      Store
	auditStore audit.Store

	agents      map[types.ProcessingMode]*risk.Agent
	piiDetector *detect.PIIDetector
	detectCfg   detect.Config
	sanitizer   *sanitize.Sanitizer
	mitigator   *mitigate.Mitigator
	halluc      *halluc.Checker

	vault     *vault.Vault
	recorder  *audit.Recorder
	alerts    *alerts.Engine
	providers *llm.Registry
	sources   *registry.Registry

	httpServer *http.Server
}

// Deps carries the injected collaborators. Zero-value fields get in-process
// defaults; Providers is required.
type Deps struct {
	Store      Store
	AuditStore audit.Store
	Providers  *llm.Registry
	Sources    *registry.Registry
	Vault      *vault.Vault
	Limiter    *RateLimiter
	Recorder   *audit.Recorder
	Alerts     *alerts.Engine
	Log        *logger.Logger
}

// NewServer builds the gateway. One risk agent is kept per processing mode
// so concurrent requests with different modes never contend.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Providers == nil {
		return nil, fmt.Errorf("at least one llm provider is required")
	}
	log := deps.Log
	if log == nil {
		log = logger.New("gateway")
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if deps.AuditStore == nil {
		deps.AuditStore = audit.NewMemoryStore()
	}
	if deps.Sources == nil {
		deps.Sources = registry.New()
	}

	agents := make(map[types.ProcessingMode]*risk.Agent, len(types.ValidModes()))
	for _, mode := range types.ValidModes() {
		agentCfg := risk.DefaultAgentConfig()
		agentCfg.Mode = mode
		agentCfg.MaxTextLength = cfg.MaxInputLength
		agentCfg.EnablePII = cfg.DetectorEnablePII
		agentCfg.EnableBias = cfg.DetectorEnableBias
		agentCfg.EnableAdversarial = cfg.DetectorEnableAdversarial
		agent, err := risk.NewAgent(agentCfg, log)
		if err != nil {
			return nil, fmt.Errorf("building %s agent: %w", mode, err)
		}
		agents[mode] = agent
	}

	mitigator := mitigate.New(log)
	for _, agent := range agents {
		agent.SetMitigator(mitigator)
	}

	detectCfg := detect.DefaultConfig()
	detectCfg.EnableNER = cfg.DetectorEnableNER

	recorder := deps.Recorder
	if recorder == nil {
		var err error
		recorder, err = audit.NewRecorder(deps.AuditStore, audit.DefaultRecorderConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("building audit recorder: %w", err)
		}
	}

	engine := deps.Alerts
	if engine == nil {
		engine = alerts.New(alerts.DefaultRules("", cfg.AlertWebhookURL), nil, nil, nil, log)
	}

	s := &Server{
		cfg:         cfg,
		log:         log,
		store:       deps.Store,
		auditStore:  deps.AuditStore,
		agents:      agents,
		piiDetector: detect.NewPIIDetector(),
		detectCfg:   detectCfg,
		sanitizer:   sanitize.New(),
		mitigator:   mitigator,
		halluc:      halluc.NewChecker(),
		vault:       deps.Vault,
		recorder:    recorder,
		alerts:      engine,
		providers:   deps.Providers,
		sources:     deps.Sources,
	}
	s.auth = NewAuthenticator(deps.Store, deps.Limiter, cfg, log)
	return s, nil
}

func (s *Server) agentFor(mode types.ProcessingMode) *risk.Agent {
	if agent, ok := s.agents[mode]; ok {
		return agent
	}
	return s.agents[types.DefaultMode]
}

// Auth exposes the authenticator, used by tests to mint tokens.
func (s *Server) Auth() *Authenticator { return s.auth }

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := func(perm string, h http.HandlerFunc) http.Handler {
		return s.auth.Middleware(perm)(h)
	}

	v1.Handle("/chat/completions", authed(PermChatCompletions, s.handleChatCompletions)).Methods(http.MethodPost)

	v1.Handle("/analyze", authed(PermAnalyze, s.handleAnalyze)).Methods(http.MethodPost)
	v1.Handle("/sanitize", authed(PermAnalyze, s.handleSanitize)).Methods(http.MethodPost)
	v1.Handle("/risk/logs", authed(PermAnalyze, s.handleRiskLogs)).Methods(http.MethodGet)
	v1.Handle("/risk/stats", authed(PermAnalyze, s.handleRiskStats)).Methods(http.MethodGet)
	v1.Handle("/models", authed(PermAnalyze, s.handleModels)).Methods(http.MethodGet)
	v1.Handle("/data/sources", authed(PermAnalyze, s.handleDataSources)).Methods(http.MethodGet)
	v1.Handle("/stats", authed(PermAnalyze, s.handleStats)).Methods(http.MethodGet)
	v1.Handle("/alerts/rules", authed(PermAnalyze, s.handleAlertRules)).Methods(http.MethodGet)
	v1.Handle("/alerts/recent", authed(PermAnalyze, s.handleAlertRecent)).Methods(http.MethodGet)

	v1.Handle("/vault/store", authed(PermVault, s.handleVaultStore)).Methods(http.MethodPost)
	v1.Handle("/vault/retrieve", authed(PermVault, s.handleVaultRetrieve)).Methods(http.MethodPost)
	v1.Handle("/vault/revoke", authed(PermVault, s.handleVaultRevoke)).Methods(http.MethodPost)
	v1.Handle("/vault/stats", authed(PermVault, s.handleVaultStats)).Methods(http.MethodGet)

	v1.Handle("/keys", authed("", s.handleCreateKey)).Methods(http.MethodPost)
	v1.Handle("/keys", authed("", s.handleListKeys)).Methods(http.MethodGet)
	v1.Handle("/keys/{id}", authed("", s.handleDeleteKey)).Methods(http.MethodDelete)
	v1.Handle("/settings", authed("", s.handleGetSettings)).Methods(http.MethodGet)
	v1.Handle("/settings", authed("", s.handleUpdateSettings)).Methods(http.MethodPut)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Start serves until the context is cancelled, then drains the audit queue.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("", "", "gateway listening", map[string]interface{}{"addr": s.cfg.Addr()})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("", "", "http shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	return s.recorder.Shutdown(shutdownCtx)
}

type requestIDKeyType string

const requestIDKey requestIDKeyType = "gateway.request_id"

// RequestIDFrom returns the request id attached by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		promRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		promRequestDuration.WithLabelValues(endpoint).Observe(elapsedMs(start))
	})
}
