// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads argo settings. Sources are applied in order, each
// overriding the previous one: built-in defaults, the YAML (or JSON) config
// file, an optional profile overlay next to it (config.<profile>.yaml),
// ARGO_ environment variables and finally --set key=value overrides.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/argo/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides: ARGO_LLM_BASE_URL sets llm.base_url.
const EnvPrefix = "ARGO_"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	LLM        LLMConfig        `koanf:"llm"`
	Agent      AgentConfig      `koanf:"agent"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Skills     SkillsConfig     `koanf:"skills"`
	History    HistoryConfig    `koanf:"history"`
	Audit      AuditConfig      `koanf:"audit"`
	Search     SearchConfig     `koanf:"search"`
	Fetch      FetchConfig      `koanf:"fetch"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"`
	MCP        MCPConfig        `koanf:"mcp"`
	Guardrails GuardrailsConfig `koanf:"guardrails"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // ollama, openai, anthropic, gemini, mock
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"` // empty uses the provider's endpoint
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	Stream      bool    `koanf:"stream"`
}

type AgentConfig struct {
	Name         string `koanf:"name"`
	Description  string `koanf:"description"`
	SystemPrompt string `koanf:"system_prompt"`
	Selector     string `koanf:"selector"` // model, table
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // none, stdout, otlp
	ServiceName        string            `koanf:"service_name"`
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	OTLPUser           string            `koanf:"otlp_user"`
	OTLPToken          string            `koanf:"otlp_token"`
}

// Settings returns the telemetry package configuration. A user and token
// become a basic authorization header unless one is already set.
func (t TelemetryConfig) Settings() telemetry.Config {
	headers := make(map[string]string, len(t.OTLPHeaders)+1)
	for k, v := range t.OTLPHeaders {
		headers[k] = v
	}
	if t.OTLPUser != "" && t.OTLPToken != "" {
		if _, ok := headers["authorization"]; !ok {
			creds := base64.StdEncoding.EncodeToString([]byte(t.OTLPUser + ":" + t.OTLPToken))
			headers["authorization"] = "Basic " + creds
		}
	}
	return telemetry.Config{
		Exporter:           t.Exporter,
		OTLPEndpoint:       t.OTLPEndpoint,
		OTLPInsecure:       t.OTLPInsecure,
		OTLPTimeoutSeconds: t.OTLPTimeoutSeconds,
		OTLPHeaders:        headers,
	}
}

type SkillsConfig struct {
	Dir           string `koanf:"dir"`
	ResourceTools bool   `koanf:"resource_tools"`
}

type HistoryConfig struct {
	Persistent  bool   `koanf:"persistent"`
	Strategy    string `koanf:"strategy"` // none, window, tokens, summarize
	MaxMessages int    `koanf:"max_messages"`
	MaxTokens   int    `koanf:"max_tokens"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"` // memory, sqlite
	DSN     string `koanf:"dsn"`
}

type SearchConfig struct {
	Enabled        bool   `koanf:"enabled"`
	BaseURL        string `koanf:"base_url"`
	MaxResults     int    `koanf:"max_results"`
	MaxAttempts    int    `koanf:"max_attempts"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// Timeout returns the HTTP timeout.
func (s SearchConfig) Timeout() time.Duration { return seconds(s.TimeoutSeconds) }

type FetchConfig struct {
	Enabled         bool `koanf:"enabled"`
	CacheSize       int  `koanf:"cache_size"`
	CacheTTLSeconds int  `koanf:"cache_ttl_seconds"`
	MaxChars        int  `koanf:"max_chars"`
	TimeoutSeconds  int  `koanf:"timeout_seconds"`
}

// Timeout returns the HTTP timeout.
func (f FetchConfig) Timeout() time.Duration { return seconds(f.TimeoutSeconds) }

// CacheTTL returns the page cache lifetime.
func (f FetchConfig) CacheTTL() time.Duration { return seconds(f.CacheTTLSeconds) }

type KnowledgeConfig struct {
	Enabled         bool    `koanf:"enabled"`
	QdrantAddr      string  `koanf:"qdrant_addr"`
	Collection      string  `koanf:"collection"`
	EmbedderBaseURL string  `koanf:"embedder_base_url"`
	EmbedderModel   string  `koanf:"embedder_model"`
	Threshold       float32 `koanf:"threshold"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

type MCPServerConfig struct {
	Transport      string   `koanf:"transport"` // stdio, http
	Command        string   `koanf:"command"`
	Args           []string `koanf:"args"`
	URL            string   `koanf:"url"`
	Tools          []string `koanf:"tools"`
	TimeoutSeconds int      `koanf:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (m MCPServerConfig) Timeout() time.Duration { return seconds(m.TimeoutSeconds) }

type GuardrailsConfig struct {
	Enabled            bool    `koanf:"enabled"`
	PromptInjection    bool    `koanf:"prompt_injection"`
	InjectionThreshold float64 `koanf:"injection_threshold"`
	PII                string  `koanf:"pii"` // "", mask, redact, hash
	BlockPIIInput      bool    `koanf:"block_pii_input"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"llm.provider":    "ollama",
	"llm.model":       "qwen2.5-coder:7b-instruct-q5_K_M",
	"llm.temperature": 0.2,
	"llm.stream":      true,

	"agent.name":        "argo",
	"agent.description": "a general purpose assistant that can chat and search the web",
	"agent.selector":    "model",

	"telemetry.exporter":             "none",
	"telemetry.service_name":         "argo",
	"telemetry.otlp_timeout_seconds": 10,

	"skills.dir": "",

	"history.persistent":   true,
	"history.strategy":     "window",
	"history.max_messages": 40,
	"history.max_tokens":   8000,

	"audit.enabled": false,
	"audit.driver":  "sqlite",
	"audit.dsn":     "argo_audit.db",

	"search.enabled":         true,
	"search.base_url":        "https://api.duckduckgo.com",
	"search.max_results":     5,
	"search.max_attempts":    3,
	"search.timeout_seconds": 30,

	"fetch.enabled":           true,
	"fetch.cache_size":        256,
	"fetch.cache_ttl_seconds": 900,
	"fetch.max_chars":         15000,
	"fetch.timeout_seconds":   30,

	"knowledge.enabled":           false,
	"knowledge.qdrant_addr":       "localhost:6334",
	"knowledge.collection":        "argo_knowledge",
	"knowledge.embedder_base_url": "http://localhost:11434",
	"knowledge.embedder_model":    "nomic-embed-text",
	"knowledge.threshold":         0.5,

	"guardrails.enabled":             false,
	"guardrails.prompt_injection":    true,
	"guardrails.injection_threshold": 0.7,
	"guardrails.pii":                 "mask",
	"guardrails.block_pii_input":     false,
}

// Load reads path (may be empty) on top of the defaults.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile is Load plus the profile overlay. A missing overlay file
// is not an error.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration using --config, --profile (alias --env)
// and repeated --set key=value arguments. Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

// LoadWithOverrides is LoadWithCLI for callers that parsed flags themselves.
// Each override has the form key=value.
func LoadWithOverrides(path, profile string, sets []string) (*Config, error) {
	overrides := make(map[string]any, len(sets))
	for _, set := range sets {
		key, value, err := parseSet(set)
		if err != nil {
			return nil, err
		}
		overrides[key] = value
	}
	return load(path, profile, overrides)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", overlay, err)
			}
		}
	}

	// ARGO_LLM_BASE_URL -> llm.base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// profileConfigPath returns the overlay for profile next to base, or "" when
// there is none.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	candidate := overlayPath(base, profile)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

func overlayPath(base, profile string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + profile + ext
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := make(map[string]any)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, v, err := parseSet(value)
			if err != nil {
				return opts, nil, err
			}
			overrides[key] = v
		}
	}
	return opts, overrides, nil
}

// parseSet splits key=value. Values that look like JSON objects or arrays
// are decoded; everything else stays a string and is converted on unmarshal.
func parseSet(set string) (string, any, error) {
	key, value, ok := strings.Cut(set, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid --set value %q, want key=value", set)
	}
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return "", nil, fmt.Errorf("invalid JSON for %s: %w", key, err)
		}
		return key, decoded, nil
	}
	return key, value, nil
}
