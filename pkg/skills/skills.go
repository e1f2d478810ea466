// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills loads SKILL.md manifests and binds them to agents as
// prompt skills.
//
// A manifest is a YAML frontmatter block followed by the instructions the
// model receives when the skill runs:
//
//	---
//	name: question_answering
//	description: Answers questions from research notes.
//	requires: research
//	allowed-tools: web_search
//	---
//	Answer using the research notes and cite their URLs.
package skills

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file LoadDir looks for in each skill directory.
const ManifestName = "SKILL.md"

// SkillSpec is a parsed manifest.
type SkillSpec struct {
	Name          string
	Description   string
	License       string
	Compatibility string
	Metadata      map[string]string
	AllowedTools  []string
	Requires      []string
	// Body holds the instructions.
	Body string
	Path string
	// Dir is the skill directory. Resource tools serve files below it.
	Dir string
}

// MetadataSelectable is the metadata key that, set to "false", keeps a skill
// out of selection so it only serves as a prerequisite.
const MetadataSelectable = "selectable"

// Selectable reports whether the skill should be offered for selection.
func (s SkillSpec) Selectable() bool {
	return !strings.EqualFold(strings.TrimSpace(s.Metadata[MetadataSelectable]), "false")
}

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// LoadDir loads every <root>/<name>/SKILL.md in directory order.
// Subdirectories without a manifest are skipped.
func LoadDir(root string) ([]SkillSpec, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var specs []SkillSpec
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), ManifestName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		spec, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// LoadFile loads one manifest. The skill name must match its directory.
func LoadFile(path string) (SkillSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SkillSpec{}, err
	}
	spec, err := Parse(data)
	if err != nil {
		return SkillSpec{}, fmt.Errorf("skill %s: %w", path, err)
	}
	spec.Path = path
	spec.Dir = filepath.Dir(path)
	if dir := filepath.Base(spec.Dir); dir != spec.Name {
		return SkillSpec{}, fmt.Errorf("skill %s: name must match directory name (%s)", path, dir)
	}
	return spec, nil
}

type frontmatter struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license"`
	Compatibility string            `yaml:"compatibility"`
	Metadata      map[string]string `yaml:"metadata"`
	AllowedTools  any               `yaml:"allowed-tools"`
	Requires      any               `yaml:"requires"`
}

// Parse reads a manifest from data.
func Parse(data []byte) (SkillSpec, error) {
	head, body, err := splitFrontmatter(data)
	if err != nil {
		return SkillSpec{}, err
	}
	var fm frontmatter
	if err := yaml.Unmarshal(head, &fm); err != nil {
		return SkillSpec{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	allowed, err := stringList("allowed-tools", fm.AllowedTools, unicodeSpace, tidyToolPattern)
	if err != nil {
		return SkillSpec{}, err
	}
	requires, err := stringList("requires", fm.Requires, commaOrSpace, nil)
	if err != nil {
		return SkillSpec{}, err
	}
	spec := SkillSpec{
		Name:          strings.TrimSpace(fm.Name),
		Description:   strings.TrimSpace(fm.Description),
		License:       fm.License,
		Compatibility: strings.TrimSpace(fm.Compatibility),
		Metadata:      fm.Metadata,
		AllowedTools:  allowed,
		Requires:      requires,
		Body:          strings.TrimSpace(string(body)),
	}
	return spec, spec.validate()
}

// splitFrontmatter cuts the block between the first two "---" lines.
func splitFrontmatter(data []byte) (head, body []byte, err error) {
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimSpace(data)))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "---" {
		return nil, nil, errors.New("missing frontmatter")
	}
	var buf bytes.Buffer
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "---" {
			var rest bytes.Buffer
			for sc.Scan() {
				rest.WriteString(sc.Text())
				rest.WriteByte('\n')
			}
			return buf.Bytes(), rest.Bytes(), sc.Err()
		}
		buf.WriteString(sc.Text())
		buf.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, errors.New("invalid frontmatter: no closing ---")
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxCompatLen      = 500
)

func (s SkillSpec) validate() error {
	switch {
	case s.Name == "":
		return errors.New("name is required")
	case utf8.RuneCountInString(s.Name) > maxNameLen:
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	case !namePattern.MatchString(s.Name):
		return fmt.Errorf("name must match %s", namePattern)
	case s.Description == "":
		return errors.New("description is required")
	case utf8.RuneCountInString(s.Description) > maxDescriptionLen:
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	case utf8.RuneCountInString(s.Compatibility) > maxCompatLen:
		return fmt.Errorf("compatibility exceeds %d characters", maxCompatLen)
	case slices.Contains(s.Requires, s.Name):
		return fmt.Errorf("skill %s requires itself", s.Name)
	}
	return nil
}

func unicodeSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }

func commaOrSpace(r rune) bool { return r == ',' || unicodeSpace(r) }

// tidyToolPattern closes the gaps YAML leaves in patterns like "Bash(git: *)".
var tidyToolPattern = strings.NewReplacer("( ", "(", " )", ")", ": ", ":", " :", ":").Replace

// stringList accepts a YAML list or a single string split by sep. Entries
// are trimmed, passed through tidy when set, and deduplicated.
func stringList(field string, value any, sep func(rune) bool, tidy func(string) string) ([]string, error) {
	var items []string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if tidy != nil {
			v = tidy(v)
		}
		items = strings.FieldsFunc(v, sep)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be string list", field)
			}
			if tidy != nil {
				s = tidy(strings.TrimSpace(s))
			}
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("%s must be string or list", field)
	}

	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out, nil
}
