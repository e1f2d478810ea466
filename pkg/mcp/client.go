// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp connects agents to Model Context Protocol servers. Remote MCP
// tools are adapted to tool.Tool so skills invoke them like any other tool,
// and local tools can be served to other MCP clients.
package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/resilience"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second

	clientName    = "argo-client"
	clientVersion = "0.1.0"
)

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and backoff.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry = c.retry.WithMaxAttempts(retries + 1)
		}
		if backoff > 0 {
			c.retry = c.retry.WithInitialDelay(backoff)
		}
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an mcp-go client with timeouts, retries and a tool list cache.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient creates a new Client with the given MCP client implementation.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(defaultRetries + 1).
			WithInitialDelay(defaultBackoff),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewClientWithStdio starts command and connects to it over stdio.
func NewClientWithStdio(command string, args []string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStdioProtocol(command, args, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStdioProtocol is NewClientWithStdio with an explicit protocol version.
func NewClientWithStdioProtocol(command string, args []string, protocolVersion string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, connectError(command, err)
	}
	return initialize(stdioClient, command, protocolVersion, opts)
}

// NewClientWithStreamableHTTP connects to an MCP server over Streamable HTTP.
func NewClientWithStreamableHTTP(url string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStreamableHTTPProtocol(url, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStreamableHTTPProtocol is NewClientWithStreamableHTTP with an
// explicit protocol version.
func NewClientWithStreamableHTTPProtocol(url, protocolVersion string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, connectError(url, err)
	}
	return initialize(httpClient, url, protocolVersion, opts)
}

func initialize(c *client.Client, target, protocolVersion string, opts []ClientOption) (*Client, error) {
	if protocolVersion == "" {
		protocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, connectError(target, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = protocolVersion
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return nil, connectError(target, err)
	}
	return NewClient(c, opts...), nil
}

func connectError(target string, err error) error {
	return errors.New(errors.CodeToolFailure, "failed to connect to mcp server", err).
		WithContext("server", target).
		WithRecoverable(true)
}

// ListTools retrieves the list of tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	resp, err := withRetry(ctx, c, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return withRetry(ctx, c, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return c.mcpClient.CallTool(ctx, req)
	})
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

// withRetry runs fn with a per-attempt timeout. Cancellation of ctx is not
// retried; a per-attempt deadline is.
func withRetry[T any](ctx context.Context, c *Client, fn func(context.Context) (T, error)) (T, error) {
	rc := c.retry.WithIsRecoverable(func(err error) bool {
		return ctx.Err() == nil
	})
	return resilience.Retry(ctx, rc, func() (T, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return fn(reqCtx)
	})
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
