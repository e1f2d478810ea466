// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "sync"

type named interface {
	Name() string
}

// registry is an ordered collection of uniquely named capabilities.
type registry[T named] struct {
	kind  string
	mu    sync.RWMutex
	items []T
	index map[string]int
}

func newRegistry[T named](kind string) *registry[T] {
	return &registry[T]{kind: kind, index: make(map[string]int)}
}

func (r *registry[T]) add(item T) error {
	name := item.Name()
	if name == "" {
		return NewInvalidInputError(r.kind + " name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; ok {
		return NewDuplicateError(r.kind, name)
	}
	r.index[name] = len(r.items)
	r.items = append(r.items, item)
	return nil
}

func (r *registry[T]) get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		var zero T
		return zero, false
	}
	return r.items[i], true
}

func (r *registry[T]) list() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), r.items...)
}

func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.items))
	for i, item := range r.items {
		out[i] = item.Name()
	}
	return out
}
