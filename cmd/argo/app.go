// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"

	"github.com/jllopis/argo/pkg/agent"
	"github.com/jllopis/argo/pkg/audit"
	"github.com/jllopis/argo/pkg/config"
	"github.com/jllopis/argo/pkg/guardrails"
	"github.com/jllopis/argo/pkg/llm"
	"github.com/jllopis/argo/pkg/llm/anthropic"
	"github.com/jllopis/argo/pkg/llm/gemini"
	"github.com/jllopis/argo/pkg/llm/openai"
	"github.com/jllopis/argo/pkg/mcp"
	"github.com/jllopis/argo/pkg/memory"
	"github.com/jllopis/argo/pkg/memory/ollama"
	"github.com/jllopis/argo/pkg/memory/qdrant"
	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/resilience"
	"github.com/jllopis/argo/pkg/skills"
	"github.com/jllopis/argo/pkg/telemetry"
	"github.com/jllopis/argo/pkg/tools/knowledge"
	"github.com/jllopis/argo/pkg/tools/webfetch"
	"github.com/jllopis/argo/pkg/tools/websearch"
)

const summaryPrompt = "Summarize the conversation above in a few sentences. " +
	"Keep names, facts and open questions."

// app is a configured agent plus everything that must be released with it.
type app struct {
	cfg      *config.Config
	agent    *agent.Agent
	logger   *slog.Logger
	level    *slog.LevelVar
	recorder audit.Recorder
	closers  []func() error
}

type appDeps struct {
	// provider replaces the configured LLM provider.
	provider llm.Provider
	// callback receives streamed reply chunks.
	callback llm.Callback
	// logOutput receives log records.
	logOutput io.Writer
	// skipTelemetry leaves the global OpenTelemetry providers alone.
	skipTelemetry bool
}

func newApp(ctx context.Context, cfg *config.Config, deps appDeps) (_ *app, err error) {
	a := &app{cfg: cfg, level: new(slog.LevelVar)}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	a.level.Set(telemetry.ParseLevel(cfg.Log.Level))
	logOutput := deps.logOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	a.logger = telemetry.NewLevelLogger(logOutput, a.level, cfg.Log.Format)
	slog.SetDefault(a.logger)

	if !deps.skipTelemetry {
		shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, cfg.Telemetry.Settings())
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.closers = append(a.closers, func() error { return shutdown(context.WithoutCancel(ctx)) })
		agent.InitErrorMetrics(ctx)
	}
	metrics, err := telemetry.NewTurnMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	provider := deps.provider
	if provider == nil {
		if provider, err = newProvider(ctx, cfg.LLM); err != nil {
			return nil, err
		}
	}
	guard, err := newGuard(cfg.Guardrails)
	if err != nil {
		return nil, err
	}
	callback := deps.callback
	if guard != nil && guard.FiltersOutput() {
		// Streamed chunks would bypass the output filters.
		callback = nil
	}

	modelOpts := []llm.ModelOption{
		llm.WithModelName(cfg.LLM.Model),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithStreaming(cfg.LLM.Stream),
		llm.WithLogger(telemetry.Component(a.logger, "llm")),
	}
	// Internal calls (summaries) must not reach the terminal.
	quiet := llm.NewModel(provider, modelOpts...)
	model := llm.NewModel(provider, append(modelOpts, llm.WithCallback(callback))...)

	truncation, err := newTruncation(cfg.History, quiet)
	if err != nil {
		return nil, err
	}

	var specs []skills.SkillSpec
	if cfg.Skills.Dir != "" {
		if specs, err = skills.LoadDir(cfg.Skills.Dir); err != nil {
			return nil, fmt.Errorf("load skills: %w", err)
		}
	}

	opts := []agent.Option{
		agent.WithLogger(telemetry.Component(a.logger, "agent")),
		agent.WithPersistent(cfg.History.Persistent),
		agent.WithTruncation(truncation),
		agent.WithMetrics(metrics),
	}
	switch cfg.Agent.Selector {
	case "", "model":
	case "table":
		opts = append(opts, agent.WithSelector(tableSelector(cfg, specs)))
	default:
		return nil, fmt.Errorf("unknown selector %q", cfg.Agent.Selector)
	}
	if cfg.Agent.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if guard != nil {
		opts = append(opts, agent.WithGuard(guard))
	}
	if cfg.Audit.Enabled {
		if a.recorder, err = a.newRecorder(cfg.Audit); err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithRecorder(a.recorder))
	}

	a.agent, err = agent.New(cfg.Agent.Name, cfg.Agent.Description, model, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.registerTools(ctx); err != nil {
		return nil, err
	}
	if err := registerBuiltinSkills(a.agent); err != nil {
		return nil, err
	}
	if len(specs) > 0 {
		var bindOpts []skills.BindOption
		if cfg.Skills.ResourceTools {
			bindOpts = append(bindOpts, skills.WithResourceTools())
		}
		if _, err := skills.Bind(a.agent, specs, bindOpts...); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return llm.NewOllama(cfg.BaseURL), nil
	case "anthropic":
		return anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithAPIKey(cfg.APIKey),
		), nil
	case "gemini":
		return gemini.NewWithAPIKey(ctx, cfg.APIKey, gemini.WithModel(cfg.Model))
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		return openai.New(opts...), nil
	case "mock":
		return &llm.MockProvider{Response: "This is a mock response."}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newGuard(cfg config.GuardrailsConfig) (*guardrails.Guardrails, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var opts []guardrails.Option
	if cfg.PromptInjection {
		opts = append(opts, guardrails.WithPromptInjectionDetector(
			guardrails.WithInjectionThreshold(cfg.InjectionThreshold)))
	}
	if cfg.BlockPIIInput {
		opts = append(opts, guardrails.WithPIIInputChecker())
	}
	if cfg.PII != "" && cfg.PII != "none" {
		mode, err := guardrails.ParsePIIMode(cfg.PII)
		if err != nil {
			return nil, err
		}
		opts = append(opts, guardrails.WithPIIFilter(mode))
	}
	return guardrails.New(opts...), nil
}

func newTruncation(cfg config.HistoryConfig, model llm.Model) (memory.Strategy, error) {
	switch cfg.Strategy {
	case "", "none":
		return nil, nil
	case "window":
		return &memory.WindowStrategy{MaxMessages: cfg.MaxMessages, KeepSystemMessages: true}, nil
	case "tokens":
		return &memory.TokenStrategy{MaxTokens: cfg.MaxTokens, KeepSystemMessages: true}, nil
	case "summarize":
		return &memory.SummarizationStrategy{
			MaxMessages:        cfg.MaxMessages,
			SummarizeCount:     cfg.MaxMessages / 2,
			KeepSystemMessages: true,
			Summarizer: func(ctx context.Context, msgs []message.Message) (string, error) {
				out, err := model.Parse(ctx, message.Text, append(slices.Clip(msgs), message.System(summaryPrompt)))
				if err != nil {
					return "", err
				}
				return fmt.Sprint(out), nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown history strategy %q", cfg.Strategy)
	}
}

func (a *app) newRecorder(cfg config.AuditConfig) (audit.Recorder, error) {
	switch cfg.Driver {
	case "memory":
		return audit.NewInMemoryRecorder(), nil
	case "sqlite":
		rec, err := audit.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		a.closers = append(a.closers, rec.Close)
		return rec, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

func (a *app) registerTools(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Search.Enabled {
		retry := resilience.DefaultRetryConfig().WithMaxAttempts(cfg.Search.MaxAttempts)
		err := a.agent.RegisterTool(websearch.NewTool(
			websearch.WithBaseURL(cfg.Search.BaseURL),
			websearch.WithMaxResults(cfg.Search.MaxResults),
			websearch.WithHTTPClient(&http.Client{Timeout: cfg.Search.Timeout()}),
			websearch.WithRetry(retry),
			websearch.WithLogger(telemetry.Component(a.logger, websearch.Name)),
		))
		if err != nil {
			return err
		}
	}
	if cfg.Fetch.Enabled {
		err := a.agent.RegisterTool(webfetch.NewTool(
			webfetch.WithCache(cfg.Fetch.CacheSize, cfg.Fetch.CacheTTL()),
			webfetch.WithMaxChars(cfg.Fetch.MaxChars),
			webfetch.WithHTTPClient(&http.Client{Timeout: cfg.Fetch.Timeout()}),
			webfetch.WithLogger(telemetry.Component(a.logger, webfetch.Name)),
		))
		if err != nil {
			return err
		}
	}
	if cfg.Knowledge.Enabled {
		if err := a.registerKnowledge(ctx); err != nil {
			// The knowledge base is optional; chat keeps working without it.
			a.logger.Warn("knowledge base unavailable", "error", err)
		}
	}
	for name, server := range cfg.MCP.Servers {
		if err := a.registerMCP(ctx, name, server); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) registerKnowledge(ctx context.Context) error {
	cfg := a.cfg.Knowledge
	store, err := qdrant.New(cfg.QdrantAddr)
	if err != nil {
		return err
	}
	kb := memory.NewKnowledge(store, ollama.NewEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel), cfg.Collection)
	if err := kb.Initialize(ctx); err != nil {
		_ = store.Close()
		return err
	}
	a.closers = append(a.closers, store.Close)
	return a.agent.RegisterTool(knowledge.NewTool(kb, knowledge.WithThreshold(cfg.Threshold)))
}

func (a *app) registerMCP(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	var opts []mcp.ClientOption
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, mcp.WithTimeout(cfg.Timeout()))
	}
	var (
		client *mcp.Client
		err    error
	)
	switch cfg.Transport {
	case "", "stdio":
		client, err = mcp.NewClientWithStdio(cfg.Command, cfg.Args, opts...)
	case "http":
		client, err = mcp.NewClientWithStreamableHTTP(cfg.URL, opts...)
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q", name, cfg.Transport)
	}
	if err != nil {
		return fmt.Errorf("mcp server %s: %w", name, err)
	}
	a.closers = append(a.closers, client.Close)
	registered, err := mcp.Register(ctx, a.agent, client, cfg.Tools...)
	if err != nil {
		return fmt.Errorf("mcp server %s: %w", name, err)
	}
	a.logger.Debug("mcp tools registered", "server", name, "tools", registered)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.WarnContext(ctx, "close failed", "error", err)
		}
	}
	a.closers = nil
}
