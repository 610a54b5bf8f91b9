package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "voicepassport/pkg/domain-errors"
)

type stubEncoder struct {
	emb Embedding
	err error
}

func (s *stubEncoder) Embed(_ context.Context, _ []byte) (Embedding, error) {
	return s.emb, s.err
}

type stubIndex struct {
	candidates []Candidate
	err        error
	upserts    int
}

func (s *stubIndex) Search(_ context.Context, _ string, _ Embedding) ([]Candidate, error) {
	return s.candidates, s.err
}

func (s *stubIndex) Upsert(_ context.Context, _, _ string, _ Embedding) error {
	s.upserts++
	return nil
}

func (s *stubIndex) EnsureCollection(_ context.Context, _ string, _ int) error {
	return nil
}

func validEmbedding(fill float32) Embedding {
	emb := make(Embedding, Dim)
	for i := range emb {
		emb[i] = fill
	}
	return emb
}

func newTestEngine(t *testing.T, enc Encoder, idx VectorIndex) *Engine {
	t.Helper()
	e, err := NewEngine(enc, idx, "voices")
	require.NoError(t, err)
	return e
}

func TestNewEngine_RequiresPorts(t *testing.T) {
	_, err := NewEngine(nil, &stubIndex{}, "voices")
	require.Error(t, err)
	_, err = NewEngine(&stubEncoder{}, nil, "voices")
	require.Error(t, err)
	_, err = NewEngine(&stubEncoder{}, &stubIndex{}, "")
	require.Error(t, err)
}

func TestEmbed_EmptySample(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{emb: validEmbedding(1)}, &stubIndex{})
	_, err := e.Embed(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEncoding))
}

func TestEmbed_EncoderFailure(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{err: dErrors.New(dErrors.CodeEncoding, "unreadable sample")}, &stubIndex{})
	_, err := e.Embed(context.Background(), []byte("wav"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEncoding))
}

func TestEmbed_WrongDimension(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{emb: make(Embedding, 8)}, &stubIndex{})
	_, err := e.Embed(context.Background(), []byte("wav"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEncoding))
}

func TestFindMostSimilar_MaxScoreWins(t *testing.T) {
	idx := &stubIndex{candidates: []Candidate{
		{ID: "s2", Score: 0.41},
		{ID: "s1", Score: 0.92},
		{ID: "s3", Score: 0.77},
	}}
	e := newTestEngine(t, &stubEncoder{}, idx)

	match, err := e.FindMostSimilar(context.Background(), validEmbedding(1))
	require.NoError(t, err)
	assert.Equal(t, "s1", match.SampleID)
	assert.InDelta(t, 0.92, match.Score, 1e-6)
}

func TestFindMostSimilar_TieKeepsFirstEnumerated(t *testing.T) {
	idx := &stubIndex{candidates: []Candidate{
		{ID: "first", Score: 0.5},
		{ID: "second", Score: 0.5},
	}}
	e := newTestEngine(t, &stubEncoder{}, idx)

	match, err := e.FindMostSimilar(context.Background(), validEmbedding(1))
	require.NoError(t, err)
	assert.Equal(t, "first", match.SampleID)
}

func TestFindMostSimilar_EmptySet(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{}, &stubIndex{})
	_, err := e.FindMostSimilar(context.Background(), validEmbedding(1))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoCandidate))
}

func TestFindMostSimilar_IndexFailurePropagates(t *testing.T) {
	cause := dErrors.Wrap(errors.New("dial tcp: refused"), dErrors.CodeTransient, "search embeddings failed")
	e := newTestEngine(t, &stubEncoder{}, &stubIndex{err: cause})
	_, err := e.FindMostSimilar(context.Background(), validEmbedding(1))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
}

func TestEnroll_UpsertsAfterEnsure(t *testing.T) {
	idx := &stubIndex{}
	e := newTestEngine(t, &stubEncoder{}, idx)
	require.NoError(t, e.Enroll(context.Background(), "s1", validEmbedding(1)))
	assert.Equal(t, 1, idx.upserts)
}

func TestMemoryIndex_CosineOrdering(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "voices", Dim))

	target := validEmbedding(1)
	opposite := make(Embedding, Dim)
	for i := range opposite {
		opposite[i] = -1
	}
	require.NoError(t, idx.Upsert(ctx, "voices", "far", opposite))
	require.NoError(t, idx.Upsert(ctx, "voices", "near", target))

	candidates, err := idx.Search(ctx, "voices", target)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "near", candidates[0].ID)
	assert.InDelta(t, 1.0, candidates[0].Score, 1e-6)
	assert.Equal(t, "far", candidates[1].ID)
}
