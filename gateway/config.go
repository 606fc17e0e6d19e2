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

// Package gateway is the HTTP surface of the risk-mitigation proxy. It
// authenticates requests, runs the risk pipeline over prompts and
// completions, forwards to the configured LLM provider, and records audit
// and alert activity.
package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the closed set of gateway settings. Values load from YAML and
// may be overridden by AEGISFLOW_* environment variables.
type Config struct {
	ProjectName    string   `yaml:"projectName"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	JWTSecretKey       string `yaml:"jwtSecretKey"`
	JWTAlgorithm       string `yaml:"jwtAlgorithm"`
	JWTExpirationHours int    `yaml:"jwtExpirationHours"`

	APIKeyPrefix string `yaml:"apiKeyPrefix"`
	APIKeyLength int    `yaml:"apiKeyLength"`

	DefaultRateLimit    int `yaml:"defaultRateLimit"`
	RateLimitWindowHrs  int `yaml:"rateLimitWindowHours"`

	DefaultRiskThreshold float64 `yaml:"defaultRiskThreshold"`
	MaxInputLength       int     `yaml:"maxInputLength"`

	DefaultLLMProvider string            `yaml:"defaultLlmProvider"`
	ProviderAPIKeys    map[string]string `yaml:"providerApiKeys"`

	VaultMasterKey    string `yaml:"vaultMasterKey"`
	VaultMasterKeyArn string `yaml:"vaultMasterKeyArn"`
	AlertWebhookURL   string `yaml:"alertWebhookUrl"`

	DetectorEnablePII         bool `yaml:"detectorEnablePii"`
	DetectorEnableNER         bool `yaml:"detectorEnableNer"`
	DetectorEnableBias        bool `yaml:"detectorEnableBias"`
	DetectorEnableAdversarial bool `yaml:"detectorEnableAdversarial"`

	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		ProjectName:          "aegisflow-gateway",
		Host:                 "0.0.0.0",
		Port:                 8000,
		AllowedOrigins:       []string{"*"},
		JWTAlgorithm:         "HS256",
		JWTExpirationHours:   24,
		APIKeyPrefix:         "rsk_",
		APIKeyLength:         32,
		DefaultRateLimit:     1000,
		RateLimitWindowHrs:   1,
		DefaultRiskThreshold: 7.0,
		MaxInputLength:       50000,
		DefaultLLMProvider:   "groq",
		ProviderAPIKeys:      map[string]string{},

		DetectorEnablePII:         true,
		DetectorEnableNER:         true,
		DetectorEnableBias:        true,
		DetectorEnableAdversarial: true,
	}
}

// LoadConfig reads a YAML config file, then applies environment overrides.
// A missing path means defaults plus environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.JWTExpirationHours <= 0 {
		c.JWTExpirationHours = 24
	}
	if c.APIKeyLength <= 0 {
		c.APIKeyLength = 32
	}
	if c.DefaultRiskThreshold < 0 || c.DefaultRiskThreshold > 10 {
		return fmt.Errorf("defaultRiskThreshold %.1f out of [0,10]", c.DefaultRiskThreshold)
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = 50000
	}
	return nil
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AEGISFLOW_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("AEGISFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("AEGISFLOW_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("AEGISFLOW_JWT_SECRET_KEY"); v != "" {
		cfg.JWTSecretKey = v
	}
	if v := os.Getenv("AEGISFLOW_VAULT_MASTER_KEY"); v != "" {
		cfg.VaultMasterKey = v
	}
	if v := os.Getenv("AEGISFLOW_VAULT_MASTER_KEY_ARN"); v != "" {
		cfg.VaultMasterKeyArn = v
	}
	if v := os.Getenv("AEGISFLOW_ALERT_WEBHOOK_URL"); v != "" {
		cfg.AlertWebhookURL = v
	}
	if v := os.Getenv("AEGISFLOW_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AEGISFLOW_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("AEGISFLOW_DEFAULT_LLM_PROVIDER"); v != "" {
		cfg.DefaultLLMProvider = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		if cfg.ProviderAPIKeys == nil {
			cfg.ProviderAPIKeys = map[string]string{}
		}
		cfg.ProviderAPIKeys["groq"] = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.ProviderAPIKeys == nil {
			cfg.ProviderAPIKeys = map[string]string{}
		}
		cfg.ProviderAPIKeys["openai"] = v
	}
}
