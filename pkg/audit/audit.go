// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records one entry per agent turn. Entries carry identifiers,
// outcome and timings only; message content is never stored.
package audit

import (
	"context"
	"sync"
	"time"
)

// Turn statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// Turn is the audit record of a single Perform call.
type Turn struct {
	TurnID     string    `json:"turn_id"`
	Agent      string    `json:"agent"`
	Skill      string    `json:"skill,omitempty"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Messages   int       `json:"messages"`
	Committed  bool      `json:"committed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the wall time of the turn.
func (t Turn) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Recorder persists turn records.
type Recorder interface {
	Record(ctx context.Context, turn Turn) error
	List(ctx context.Context, filter Filter) ([]Turn, error)
}

// Filter limits turn queries. Zero fields match everything.
type Filter struct {
	Agent  string
	Skill  string
	Status string
	Limit  int
}

func (f Filter) match(t Turn) bool {
	if f.Agent != "" && t.Agent != f.Agent {
		return false
	}
	if f.Skill != "" && t.Skill != f.Skill {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// InMemoryRecorder keeps turn records in memory.
type InMemoryRecorder struct {
	mu    sync.Mutex
	turns []Turn
}

// NewInMemoryRecorder returns an empty in-memory recorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Record appends a turn.
func (r *InMemoryRecorder) Record(_ context.Context, turn Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
	return nil
}

// List returns the turns matching filter in recording order.
func (r *InMemoryRecorder) List(_ context.Context, filter Filter) ([]Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, 0, len(r.turns))
	for _, t := range r.turns {
		if !filter.match(t) {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// normalizeTime ensures timestamps are stored in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}

var (
	_ Recorder = (*InMemoryRecorder)(nil)
	_ Recorder = (*SQLiteRecorder)(nil)
)
