package matching

import (
	"context"
	"log/slog"

	dErrors "voicepassport/pkg/domain-errors"
)

// Engine coordinates the encoder and the vector index for one named
// collection.
type Engine struct {
	encoder    Encoder
	index      VectorIndex
	collection string
	logger     *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets a logger for search diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine builds an engine over the given ports.
func NewEngine(encoder Encoder, index VectorIndex, collection string, opts ...Option) (*Engine, error) {
	if encoder == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "encoder is required")
	}
	if index == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "vector index is required")
	}
	if collection == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "collection name is required")
	}
	e := &Engine{encoder: encoder, index: index, collection: collection}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed runs the external feature encoder once over the sample.
func (e *Engine) Embed(ctx context.Context, sample []byte) (Embedding, error) {
	if len(sample) == 0 {
		return nil, dErrors.New(dErrors.CodeEncoding, "sample is empty")
	}
	emb, err := e.encoder.Embed(ctx, sample)
	if err != nil {
		return nil, err
	}
	if err := emb.Validate(); err != nil {
		return nil, err
	}
	return emb, nil
}

// Enroll makes the sample's embedding searchable under its content ID,
// creating the collection on first use.
func (e *Engine) Enroll(ctx context.Context, sampleID string, emb Embedding) error {
	if sampleID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "sample id must not be empty")
	}
	if err := emb.Validate(); err != nil {
		return err
	}
	if err := e.index.EnsureCollection(ctx, e.collection, Dim); err != nil {
		return err
	}
	return e.index.Upsert(ctx, e.collection, sampleID, emb)
}

// FindMostSimilar queries the index and reduces the candidate set to the
// strict maximum score. Exact ties keep the first-enumerated candidate. An
// empty candidate set is CodeNoCandidate: a normal outcome for first-ever
// enrollment or no match, not a defect.
func (e *Engine) FindMostSimilar(ctx context.Context, emb Embedding) (Match, error) {
	if err := emb.Validate(); err != nil {
		return Match{}, err
	}
	candidates, err := e.index.Search(ctx, e.collection, emb)
	if err != nil {
		return Match{}, err
	}
	if len(candidates) == 0 {
		return Match{}, dErrors.New(dErrors.CodeNoCandidate, "index returned no candidates")
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}

	if e.logger != nil {
		e.logger.DebugContext(ctx, "most similar voice selected",
			"sample_id", best.ID,
			"score", best.Score,
			"candidates", len(candidates),
		)
	}
	return Match{SampleID: best.ID, Score: best.Score}, nil
}
