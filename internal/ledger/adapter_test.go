package ledger

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepassport/internal/commitment"
	"voicepassport/internal/ledger/nonce"
	dErrors "voicepassport/pkg/domain-errors"
)

// Well-known throwaway development key; never funded on a real network.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// fakeBackend is an in-memory ledger node: it accepts transactions and
// confirms them with a configurable receipt status.
type fakeBackend struct {
	mu           sync.Mutex
	pending      uint64
	sent         []*types.Transaction
	receiptDelay int // polls before the receipt appears
	polls        map[common.Hash]int
	status       uint64
	sendErr      error
	estimateErr  error
	receiptErrs  []error // consumed one per poll before normal behavior
	receiptErr   error   // persistent poll failure
	callResult   []byte
	callErr      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		polls:  make(map[common.Hash]int),
		status: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) ChainID(_ context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 120_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receiptErrs) > 0 {
		err := f.receiptErrs[0]
		f.receiptErrs = f.receiptErrs[1:]
		return nil, err
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	f.polls[txHash]++
	if f.polls[txHash] <= f.receiptDelay {
		return nil, ethereum.NotFound
	}
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{Status: f.status, GasUsed: 100_000, TxHash: txHash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}

func (f *fakeBackend) sentNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.sent))
	for _, tx := range f.sent {
		out = append(out, tx.Nonce())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newTestAdapter(t *testing.T, backend *fakeBackend) *Adapter {
	t.Helper()
	ctx := context.Background()
	alloc, err := nonce.NewLocal(ctx, backend, common.Address{})
	require.NoError(t, err)
	a, err := New(ctx, backend, alloc, testKeyHex, testContract, WithConfirmTimeout(5*time.Second))
	require.NoError(t, err)
	a.pollInterval = time.Millisecond
	return a
}

func mustCommit(t *testing.T, s string) commitment.Commitment {
	t.Helper()
	c, err := commitment.Commit(s)
	require.NoError(t, err)
	return c
}

func TestRegister_ConfirmedTransaction(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptDelay = 2
	a := newTestAdapter(t, backend)

	user := mustCommit(t, "u1")
	sample := mustCommit(t, "s1")
	tx, err := a.Register(context.Background(), user, sample)
	require.NoError(t, err)

	assert.Equal(t, "registerVoiceIDVerification", tx.Function)
	assert.Equal(t, StatusConfirmed, tx.Status)
	assert.Equal(t, []string{user.String(), sample.String()}, tx.Commitments)
	assert.Equal(t, uint64(0), tx.Nonce)
	assert.Equal(t, big.NewInt(1337), tx.ChainID)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, int64(1337), backend.sent[0].ChainId().Int64())
}

func TestRegister_ConcurrentRunsUseDistinctNonces(t *testing.T) {
	backend := newFakeBackend()
	backend.pending = 5
	a := newTestAdapter(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := mustCommit(t, "user")
			sample := mustCommit(t, string(rune('a'+i)))
			_, err := a.Register(context.Background(), user, sample)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []uint64{5, 6}, backend.sentNonces(), "nonces n and n+1 used exactly once each")
}

func TestRegister_RevertedSurfacesLedgerExecution(t *testing.T) {
	backend := newFakeBackend()
	backend.status = types.ReceiptStatusFailed
	a := newTestAdapter(t, backend)

	tx, err := a.Register(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeLedgerExecution))
	assert.Equal(t, StatusReverted, tx.Status)
}

func TestRegister_SubmitFailureIsTransient(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("connection reset")
	a := newTestAdapter(t, backend)

	_, err := a.Register(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
}

func TestRegister_ReceiptPollErrorsDoNotResubmit(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptErrs = []error{
		errors.New("connection reset by peer"),
		errors.New("connection reset by peer"),
	}
	a := newTestAdapter(t, backend)

	tx, err := a.Register(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, tx.Status)
	require.Len(t, backend.sent, 1, "the in-flight transaction must not be submitted again")
	assert.Equal(t, uint64(0), tx.Nonce)
}

func TestRegister_UnconfirmedWaitEndsAsTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptErr = errors.New("connection reset by peer")
	ctx := context.Background()
	alloc, err := nonce.NewLocal(ctx, backend, common.Address{})
	require.NoError(t, err)
	a, err := New(ctx, backend, alloc, testKeyHex, testContract, WithConfirmTimeout(50*time.Millisecond))
	require.NoError(t, err)
	a.pollInterval = time.Millisecond

	_, err = a.Register(ctx, mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	assert.False(t, dErrors.HasCode(err, dErrors.CodeTransient),
		"a submitted transaction already spent its nonce; the wait must not surface a retryable class")
	require.Len(t, backend.sent, 1)
}

func TestRegister_EstimateRevertIsLedgerExecution(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: user already registered")
	a := newTestAdapter(t, backend)

	_, err := a.Register(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeLedgerExecution))
	assert.Empty(t, backend.sent)
}

func TestRegister_EstimateConnectionFailureIsTransient(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("dial tcp: connection refused")
	a := newTestAdapter(t, backend)

	_, err := a.Register(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
}

func TestSetEnabled_PicksFunctionByFlag(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)
	ctx := context.Background()
	user := mustCommit(t, "u1")

	enable, err := a.SetEnabled(ctx, user, true)
	require.NoError(t, err)
	assert.Equal(t, "enableVoiceIDVerification", enable.Function)

	disable, err := a.SetEnabled(ctx, user, false)
	require.NoError(t, err)
	assert.Equal(t, "disableVoiceIDVerification", disable.Function)
	assert.Equal(t, enable.Nonce+1, disable.Nonce)
}

func TestVerify_DecodesBool(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)

	// ABI-encoded true.
	result := make([]byte, 32)
	result[31] = 1
	backend.callResult = result

	verified, err := a.Verify(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Empty(t, backend.sent, "verify is read-only, no transaction submitted")
}

func TestVerify_CallFailureIsTransient(t *testing.T) {
	backend := newFakeBackend()
	backend.callErr = errors.New("dial tcp: refused")
	a := newTestAdapter(t, backend)

	_, err := a.Verify(context.Background(), mustCommit(t, "u1"), mustCommit(t, "s1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
}

func TestNew_InvalidKeyRejected(t *testing.T) {
	backend := newFakeBackend()
	alloc, err := nonce.NewLocal(context.Background(), backend, common.Address{})
	require.NoError(t, err)
	_, err = New(context.Background(), backend, alloc, "not-hex", testContract)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
