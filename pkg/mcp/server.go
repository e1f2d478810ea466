// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/argo/pkg/tool"
)

// Server exposes argo tools to MCP clients.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// RegisterTool serves t. Its parameters become the MCP input schema and
// failures are reported as tool errors, not protocol errors.
func (s *Server) RegisterTool(t tool.Tool) error {
	schema, err := json.Marshal(tool.Definition(t).Function.Parameters)
	if err != nil {
		return err
	}
	def := mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema)
	s.mcpServer.AddTool(def, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		out, err := t.Invoke(ctx, tool.Args(args))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(render(out)), nil
	})
	return nil
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func render(out any) string {
	switch v := out.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(raw)
}
