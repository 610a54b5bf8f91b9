// Package nonce serializes transaction-nonce allocation for one ledger
// caller address. Concurrent runs sharing the address must never read the
// same "next nonce": allocation goes through a single-writer counter, not a
// read-then-use against the ledger node.
package nonce

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	dErrors "voicepassport/pkg/domain-errors"
)

// Allocator hands out strictly increasing nonces, each exactly once.
type Allocator interface {
	// Next allocates the next nonce for the caller address.
	Next(ctx context.Context) (uint64, error)

	// Return gives a nonce back after a submission that never reached the
	// mempool. Only the most recently allocated nonce can be returned;
	// anything else is a no-op (the gap is accounted for by re-seeding
	// from the ledger's pending count on restart).
	Return(ctx context.Context, nonce uint64) error
}

// PendingNonceReader is the slice of the ledger client the allocators seed
// from: the pending transaction count includes unconfirmed submissions.
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Local is a mutex-guarded in-process allocator. Correct as long as this
// process is the only user of the caller address; multi-process deployments
// use the Redis allocator.
type Local struct {
	mu   sync.Mutex
	next uint64
}

// NewLocal seeds the counter from the ledger's pending nonce for the
// address.
func NewLocal(ctx context.Context, reader PendingNonceReader, account common.Address) (*Local, error) {
	seed, err := reader.PendingNonceAt(ctx, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "read pending nonce")
	}
	return &Local{next: seed}, nil
}

func (l *Local) Next(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	l.next++
	return n, nil
}

func (l *Local) Return(_ context.Context, nonce uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nonce == l.next-1 {
		l.next--
	}
	return nil
}
