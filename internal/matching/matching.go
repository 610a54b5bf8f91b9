// Package matching wraps feature extraction and nearest-neighbor search.
// The engine reduces candidate sets mechanically; accept/reject policy
// (thresholds) belongs to the pipeline orchestrator.
package matching

import (
	"context"
	"fmt"

	dErrors "voicepassport/pkg/domain-errors"
)

// Dim is the embedding dimensionality produced by the voice encoder.
const Dim = 256

// Embedding is a fixed-length vector over which similarity is evaluated by
// cosine distance. Immutable once produced.
type Embedding []float32

// Validate checks dimensionality; every embedding crossing a package
// boundary goes through it.
func (e Embedding) Validate() error {
	if len(e) != Dim {
		return dErrors.New(dErrors.CodeEncoding,
			fmt.Sprintf("embedding has %d dimensions, want %d", len(e), Dim))
	}
	return nil
}

// Candidate is one (id, score) tuple returned by the vector index.
type Candidate struct {
	ID    string
	Score float32
}

// Match is the single best candidate for one query.
type Match struct {
	SampleID string
	Score    float32
}

// Encoder converts raw audio bytes into an embedding. The model itself is a
// black box behind this port.
type Encoder interface {
	Embed(ctx context.Context, sample []byte) (Embedding, error)
}

// VectorIndex is the similarity-search service consumed by the engine.
type VectorIndex interface {
	Search(ctx context.Context, collection string, vector Embedding) ([]Candidate, error)
	Upsert(ctx context.Context, collection, id string, vector Embedding) error
	EnsureCollection(ctx context.Context, collection string, dim int) error
}
