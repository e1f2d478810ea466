// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is a piece of stored knowledge returned by a search.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Knowledge stores text passages in a vector store and retrieves them by
// semantic similarity.
type Knowledge struct {
	store      VectorStore
	embedder   Embedder
	collection string
}

// NewKnowledge creates a knowledge base over store using embedder.
func NewKnowledge(store VectorStore, embedder Embedder, collection string) *Knowledge {
	return &Knowledge{store: store, embedder: embedder, collection: collection}
}

// Collection returns the collection name.
func (k *Knowledge) Collection() string { return k.collection }

// Initialize ensures the collection exists, sizing it from a sample
// embedding. A creation failure is tolerated when the collection can
// already be searched.
func (k *Knowledge) Initialize(ctx context.Context) error {
	vec, err := k.embedder.Embed(ctx, "hello")
	if err != nil {
		return fmt.Errorf("failed to get embedding dimension: %w", err)
	}
	if err := k.store.CreateCollection(ctx, k.collection, uint64(len(vec))); err != nil {
		if _, searchErr := k.store.Search(ctx, k.collection, vec, 1, 0); searchErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// Add embeds and stores text with optional metadata, returning its ID.
func (k *Knowledge) Add(ctx context.Context, text string, metadata map[string]string) (string, error) {
	vector, err := k.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed text: %w", err)
	}
	id := uuid.NewString()
	now := time.Now().Unix()
	payload := map[string]any{
		"text":      text,
		"timestamp": now,
	}
	for key, v := range metadata {
		payload[key] = v
	}
	if err := k.store.Upsert(ctx, k.collection, []Point{{ID: id, Vector: vector, Payload: payload}}); err != nil {
		return "", fmt.Errorf("failed to store point: %w", err)
	}
	return id, nil
}

// Search returns up to limit documents scoring at least threshold.
func (k *Knowledge) Search(ctx context.Context, query string, limit int, threshold float32) ([]Document, error) {
	vector, err := k.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := k.store.Search(ctx, k.collection, vector, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		text, ok := r.Point.Payload["text"].(string)
		if !ok {
			continue
		}
		doc := Document{ID: r.ID, Text: text, Score: r.Score}
		for key, v := range r.Point.Payload {
			if s, ok := v.(string); ok && key != "text" {
				if doc.Metadata == nil {
					doc.Metadata = make(map[string]string)
				}
				doc.Metadata[key] = s
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
