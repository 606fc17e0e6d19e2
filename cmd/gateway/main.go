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

// Package main is the entry point for the AegisFlow gateway service.
//
// The gateway is a policy-enforcing proxy between clients and LLM
// providers: it analyzes prompts and completions for PII, bias, and
// adversarial content, sanitizes or blocks risky traffic, and records an
// idempotent audit trail.
//
// Usage:
//
//	./gateway [-config path]
//
// Environment Variables:
//
//	AEGISFLOW_PORT - HTTP server port (default: 8000)
//	AEGISFLOW_DATABASE_URL - PostgreSQL connection string
//	AEGISFLOW_REDIS_URL - Redis connection string for rate limiting
//	AEGISFLOW_JWT_SECRET_KEY - Secret for session token signing
//	AEGISFLOW_VAULT_MASTER_KEY - Master key for the token vault
//	AEGISFLOW_VAULT_MASTER_KEY_ARN - Secrets Manager secret holding the master key
//	GROQ_API_KEY / OPENAI_API_KEY - Upstream provider credentials
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	connconfig "aegisflow/platform/connectors/config"
	connregistry "aegisflow/platform/connectors/registry"
	"aegisflow/platform/connectors/secure"
	"aegisflow/platform/gateway"
	"aegisflow/platform/gateway/alerts"
	"aegisflow/platform/gateway/audit"
	"aegisflow/platform/gateway/risk"
	gwvault "aegisflow/platform/gateway/vault"
	"aegisflow/platform/llm"
	"aegisflow/platform/shared/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	sourcesPath := flag.String("sources", "", "path to YAML data sources file")
	flag.Parse()

	if err := run(*configPath, *sourcesPath); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run(configPath, sourcesPath string) error {
	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := logger.New("gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := gateway.Deps{Log: log}

	// Persistence: Postgres when configured, in-memory otherwise.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		store := gateway.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		deps.Store = store

		auditStore := audit.NewPostgresStore(db)
		if err := auditStore.Migrate(ctx); err != nil {
			return err
		}
		deps.AuditStore = auditStore
	}

	// Shared rate limiting and alert cooldowns through Redis.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	deps.Limiter = gateway.NewRateLimiter(redisClient, cfg.DefaultRateLimit, log)

	engine := alerts.New(alerts.DefaultRules("", cfg.AlertWebhookURL), nil, nil, nil, log)
	if redisClient != nil {
		engine.SetCooldownStore(alerts.NewRedisCooldowns(redisClient))
	}
	deps.Alerts = engine

	// Token vault, swept in the background. A Secrets Manager ARN takes
	// precedence over an inline master key.
	masterKey := []byte(cfg.VaultMasterKey)
	if cfg.VaultMasterKeyArn != "" {
		secretsClient, err := gwvault.DefaultSecretsClient(ctx)
		if err != nil {
			return err
		}
		masterKey, err = gwvault.MasterKeyFromSecretsManager(ctx, secretsClient, cfg.VaultMasterKeyArn)
		if err != nil {
			return err
		}
	}
	if len(masterKey) > 0 {
		var vaultStore gwvault.Store
		if db != nil {
			pg := gwvault.NewPostgresStore(db)
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			vaultStore = pg
		} else {
			vaultStore = gwvault.NewMemoryStore()
		}
		v, err := gwvault.New(vaultStore, masterKey, log)
		if err != nil {
			return fmt.Errorf("building vault: %w", err)
		}
		v.StartSweeper(ctx, time.Hour)
		deps.Vault = v
	}

	// Upstream providers.
	providers := llm.NewRegistry()
	if key := cfg.ProviderAPIKeys["groq"]; key != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{Name: "groq", APIKey: key})
		if err != nil {
			return err
		}
		if err := providers.Register(p); err != nil {
			return err
		}
	}
	if key := cfg.ProviderAPIKeys["openai"]; key != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			Name: "openai", APIKey: key, BaseURL: llm.OpenAIBaseURL,
		})
		if err != nil {
			return err
		}
		if err := providers.Register(p); err != nil {
			return err
		}
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		p, err := llm.NewBedrockProvider(ctx, region, "")
		if err != nil {
			log.Warn("", "", "bedrock provider unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else if err := providers.Register(p); err != nil {
			return err
		}
	}
	if len(providers.Names()) == 0 {
		return fmt.Errorf("no llm provider configured; set GROQ_API_KEY, OPENAI_API_KEY, or AWS_REGION")
	}
	if err := providers.SetDefault(cfg.DefaultLLMProvider); err != nil {
		log.Warn("", "", "default provider not registered, using first", map[string]interface{}{
			"wanted": cfg.DefaultLLMProvider,
		})
	}
	deps.Providers = providers

	// Registered data sources, queried through the risk-checked wrapper.
	if sourcesPath != "" {
		var secrets connconfig.SecretsManager = connconfig.EnvSecrets{}
		if region := os.Getenv("AWS_REGION"); region != "" {
			resolver, err := connconfig.NewAWSSecrets(ctx, region, 5*time.Minute)
			if err != nil {
				log.Warn("", "", "aws secrets unavailable, using environment", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				secrets = resolver
			}
		}
		sourceCfgs, err := connconfig.LoadSources(ctx, sourcesPath, secrets)
		if err != nil {
			return err
		}
		dataAgent, err := risk.NewAgent(risk.DefaultAgentConfig(), log)
		if err != nil {
			return err
		}
		sources := connregistry.New()
		for _, sc := range sourceCfgs {
			if err := sources.AddSource(ctx, sc, dataAgent, secure.DefaultConfig()); err != nil {
				return err
			}
		}
		deps.Sources = sources
	}

	server, err := gateway.NewServer(cfg, deps)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}
