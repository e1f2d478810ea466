// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package message defines the role-tagged unit of conversation content
// exchanged between agents, skills and language models.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/argo/pkg/errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is an immutable unit of conversation content.
// Content is either free text or a structured JSON value.
type Message struct {
	id        string
	role      Role
	text      string
	data      json.RawMessage
	createdAt time.Time
}

// New creates a text message with the given role.
func New(role Role, text string) Message {
	return Message{
		id:        uuid.NewString(),
		role:      role,
		text:      text,
		createdAt: time.Now(),
	}
}

// System creates a system text message.
func System(text string) Message { return New(RoleSystem, text) }

// User creates a user text message.
func User(text string) Message { return New(RoleUser, text) }

// Assistant creates an assistant text message.
func Assistant(text string) Message { return New(RoleAssistant, text) }

// NewValue creates a message whose content is the JSON encoding of v.
func NewValue(role Role, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, errors.New(errors.CodeInvalidInput, "encode message content", err).
			WithContext("type", fmt.Sprintf("%T", v))
	}
	m := New(role, "")
	m.data = data
	return m, nil
}

// UserValue creates a user message with structured content.
func UserValue(v any) (Message, error) { return NewValue(RoleUser, v) }

// AssistantValue creates an assistant message with structured content.
func AssistantValue(v any) (Message, error) { return NewValue(RoleAssistant, v) }

// ID returns the message identifier.
func (m Message) ID() string { return m.id }

// Role returns the sender role.
func (m Message) Role() Role { return m.role }

// CreatedAt returns the construction time.
func (m Message) CreatedAt() time.Time { return m.createdAt }

// IsText reports whether the content is free text.
func (m Message) IsText() bool { return m.data == nil }

// IsZero reports whether m is the zero Message.
func (m Message) IsZero() bool { return m.id == "" && m.role == "" }

// Text returns the text content, or the compact JSON encoding of structured content.
func (m Message) Text() string {
	if m.data == nil {
		return m.text
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, m.data); err != nil {
		return string(m.data)
	}
	return buf.String()
}

// Data returns a copy of the structured content, or nil for text messages.
func (m Message) Data() json.RawMessage {
	if m.data == nil {
		return nil
	}
	return append(json.RawMessage(nil), m.data...)
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.role, m.Text())
}

// Unpack decodes the content against shape.
// Text content with the text shape returns the text, and structured content
// with the text shape must hold a JSON string. Any other combination is
// decoded strictly and fails with a DECODE_ERROR when the content does not
// satisfy the shape.
func (m Message) Unpack(shape Shape) (any, error) {
	if shape.IsText() && m.data == nil {
		return m.text, nil
	}
	if m.data == nil && shape.typ != nil && shape.typ.Kind() == reflect.String {
		return reflect.ValueOf(m.text).Convert(shape.typ).Interface(), nil
	}
	raw := m.data
	if raw == nil {
		raw = []byte(m.text)
	}
	v, err := shape.Decode(raw)
	if err != nil {
		if ae, ok := err.(*errors.ArgoError); ok {
			return nil, ae.WithContext("message_id", m.id)
		}
		return nil, err
	}
	return v, nil
}

// UnpackAs decodes the content of m into a value of type T.
func UnpackAs[T any](m Message) (T, error) {
	var zero T
	v, err := m.Unpack(ShapeOf[T]())
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, errors.New(errors.CodeDecode, "unexpected decoded type", nil).
			WithContext("type", fmt.Sprintf("%T", v))
	}
	return out, nil
}

type wireMessage struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:        m.id,
		Role:      m.role,
		Content:   m.text,
		Data:      m.data,
		CreatedAt: m.createdAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Role.Valid() {
		return fmt.Errorf("message: unknown role %q", w.Role)
	}
	*m = Message{
		id:        w.ID,
		role:      w.Role,
		text:      w.Content,
		createdAt: w.CreatedAt,
	}
	if len(w.Data) > 0 {
		m.data = append(json.RawMessage(nil), w.Data...)
	}
	return nil
}
