// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrCollectionNotFound is returned for operations on a missing collection.
var ErrCollectionNotFound = errors.New("memory: collection not found")

// InMemoryStore is an in-process VectorStore using cosine similarity.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	size   uint64
	points map[string]Point
	order  []string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]*collection)}
}

// CreateCollection implements VectorStore. Creating an existing collection
// with the same size is a no-op.
func (s *InMemoryStore) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.size != vectorSize {
			return fmt.Errorf("collection %q exists with vector size %d", name, c.size)
		}
		return nil
	}
	s.collections[name] = &collection{size: vectorSize, points: make(map[string]Point)}
	return nil
}

// Upsert implements VectorStore.
func (s *InMemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.size {
			return fmt.Errorf("point %s has %d dimensions, want %d", p.ID, len(p.Vector), c.size)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = p
	}
	return nil
}

// Search implements VectorStore.
func (s *InMemoryStore) Search(_ context.Context, name string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	var results []SearchResult
	for _, id := range c.order {
		p := c.points[id]
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score, Point: p})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ VectorStore = (*InMemoryStore)(nil)
