// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import "context"

// VectorStore is the storage behind a Knowledge base. The in-memory store
// and the qdrant package implement it.
type VectorStore interface {
	// CreateCollection is idempotent for an existing collection of the same size.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns at most limit points scoring at least scoreThreshold,
	// best first.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
}

// Point is a stored vector. Knowledge keeps the passage under the "text"
// payload key and the insertion time under "timestamp".
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult is a scored Point. Stores may leave Point.Vector empty.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
