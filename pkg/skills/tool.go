// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/jllopis/argo/pkg/tool"
)

// Resource actions understood by SkillTool.
const (
	ActionActivate      = "activate"
	ActionLoadResource  = "load_resource"
	ActionListResources = "list_resources"
)

// SkillTool exposes a SkillSpec as a tool with progressive disclosure:
// callers see the name and description first and receive the instructions
// and bundled resources on invocation.
type SkillTool struct {
	spec      SkillSpec
	fn        *tool.Func
	activated atomic.Bool
}

// SkillRequest is the argument bundle of a SkillTool.
type SkillRequest struct {
	Action   string `json:"action,omitempty" jsonschema:"description=One of activate or load_resource or list_resources"`
	Resource string `json:"resource,omitempty" jsonschema:"description=Path to a resource file for load_resource"`
}

// SkillResponse contains the skill activation result.
type SkillResponse struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Resources    []string `json:"resources,omitempty"`
}

// NewSkillTool creates a SkillTool from a SkillSpec.
func NewSkillTool(spec SkillSpec) *SkillTool {
	s := &SkillTool{spec: spec}
	s.fn = tool.New(spec.Name, spec.Description, s.call)
	return s
}

// Name implements tool.Tool.
func (s *SkillTool) Name() string { return s.spec.Name }

// Description implements tool.Tool.
func (s *SkillTool) Description() string { return s.spec.Description }

// Parameters implements tool.Tool.
func (s *SkillTool) Parameters() []tool.Parameter { return s.fn.Parameters() }

// Invoke implements tool.Tool.
func (s *SkillTool) Invoke(ctx context.Context, args tool.Args) (any, error) {
	if args == nil {
		args = tool.Args{}
	}
	return s.fn.Invoke(ctx, args)
}

func (s *SkillTool) call(_ context.Context, req SkillRequest) (any, error) {
	s.activated.Store(true)
	switch req.Action {
	case ActionLoadResource:
		return s.loadResource(req.Resource)
	case ActionListResources:
		return s.listResources(), nil
	default:
		return s.activate(), nil
	}
}

func (s *SkillTool) activate() *SkillResponse {
	return &SkillResponse{
		Name:         s.spec.Name,
		Instructions: s.spec.Body,
		Resources:    s.listResources(),
	}
}

// loadResource loads a file below the skill directory.
func (s *SkillTool) loadResource(resourcePath string) (string, error) {
	if resourcePath == "" {
		return "", fmt.Errorf("resource path is required")
	}
	cleanPath := filepath.Clean(resourcePath)
	if strings.HasPrefix(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("invalid resource path: %s", resourcePath)
	}
	fullPath := filepath.Join(s.spec.Dir, cleanPath)

	absDir, _ := filepath.Abs(s.spec.Dir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("resource path outside skill directory")
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to load resource %s: %w", resourcePath, err)
	}
	return string(data), nil
}

// listResources returns the files under scripts/, references/ and assets/.
func (s *SkillTool) listResources() []string {
	var resources []string
	for _, subdir := range []string{"scripts", "references", "assets"} {
		entries, err := os.ReadDir(filepath.Join(s.spec.Dir, subdir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				resources = append(resources, filepath.Join(subdir, entry.Name()))
			}
		}
	}
	return resources
}

// IsActivated reports whether the skill has been invoked.
func (s *SkillTool) IsActivated() bool { return s.activated.Load() }

// Spec returns the underlying SkillSpec.
func (s *SkillTool) Spec() SkillSpec { return s.spec }

// LoadToolsFromDir loads skills from a directory and returns them as SkillTools.
func LoadToolsFromDir(root string) ([]*SkillTool, error) {
	specs, err := LoadDir(root)
	if err != nil {
		return nil, err
	}
	tools := make([]*SkillTool, len(specs))
	for i, spec := range specs {
		tools[i] = NewSkillTool(spec)
	}
	return tools, nil
}

var _ tool.Tool = (*SkillTool)(nil)
