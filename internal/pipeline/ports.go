package pipeline

import (
	"context"

	"voicepassport/internal/commitment"
	"voicepassport/internal/ledger"
	"voicepassport/internal/matching"
	"voicepassport/pkg/domain"
)

// Matcher is the biometric matching capability: feature extraction,
// enrollment, and nearest-neighbor search. Satisfied by *matching.Engine.
type Matcher interface {
	Embed(ctx context.Context, sample []byte) (matching.Embedding, error)
	Enroll(ctx context.Context, sampleID string, emb matching.Embedding) error
	FindMostSimilar(ctx context.Context, emb matching.Embedding) (matching.Match, error)
}

// Ledger is the on-chain verification capability. Satisfied by
// *ledger.Adapter.
type Ledger interface {
	Register(ctx context.Context, user, sample commitment.Commitment) (ledger.Transaction, error)
	SetEnabled(ctx context.Context, user commitment.Commitment, enabled bool) (ledger.Transaction, error)
	Verify(ctx context.Context, user, sample commitment.Commitment) (bool, error)
}

// Deliverer posts a workflow result to the caller's webhook. Satisfied by
// *delivery.Webhook.
type Deliverer interface {
	Deliver(ctx context.Context, webhookURL string, payload any) error
}

// CredentialIssuer mints an access token for an authenticated user.
// Satisfied by *credential.Issuer.
type CredentialIssuer interface {
	Issue(userID domain.UserID) (string, error)
}

// SampleSource reads raw sample audio. Satisfied by samplestore sources.
type SampleSource interface {
	Fetch(ctx context.Context, id domain.SampleID) ([]byte, error)
}
