// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"strings"
	"text/template"
)

// DefaultSystemPrompt is installed as the first history message unless
// WithSystemPrompt replaces it. It is a text/template over Name and Description.
const DefaultSystemPrompt = `You are {{.Name}}, a helpful assistant.
{{- if .Description}}
{{.Description}}
{{- end}}
Answer concisely and truthfully. When you do not know something, say so.`

// RenderSystemPrompt renders tmpl with the agent identity.
func RenderSystemPrompt(tmpl, name, description string) (string, error) {
	t, err := template.New("system").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", NewInvalidInputError("invalid system prompt template: " + err.Error())
	}
	var b strings.Builder
	data := struct{ Name, Description string }{name, description}
	if err := t.Execute(&b, data); err != nil {
		return "", NewInvalidInputError("system prompt render failed: " + err.Error())
	}
	return strings.TrimSpace(b.String()), nil
}
