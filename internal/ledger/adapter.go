// Package ledger executes VoiceIDVerifier contract calls: it builds, signs,
// submits and confirms transactions for register / enable / disable, and
// performs the read-only verify call. Argument values are always
// pre-computed commitments; raw identifiers never reach this package.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"voicepassport/internal/commitment"
	"voicepassport/internal/ledger/nonce"
	"voicepassport/internal/platform/metrics"
	dErrors "voicepassport/pkg/domain-errors"
)

// contractABI is the VoiceIDVerifier surface this pipeline consumes.
const contractABI = `[
	{"type":"function","name":"registerVoiceIDVerification","stateMutability":"nonpayable","inputs":[{"name":"userIdHash","type":"bytes32"},{"name":"voiceFileIdHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"enableVoiceIDVerification","stateMutability":"nonpayable","inputs":[{"name":"userIdHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"disableVoiceIDVerification","stateMutability":"nonpayable","inputs":[{"name":"userIdHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"verifyVoiceID","stateMutability":"view","inputs":[{"name":"userIdHash","type":"bytes32"},{"name":"voiceFileIdHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Backend is the slice of the Ethereum client the adapter needs.
// *ethclient.Client satisfies it; tests use a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Status is the terminal outcome of a submitted transaction.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
)

// Transaction records one confirmed ledger call.
type Transaction struct {
	Function    string
	Commitments []string
	ChainID     *big.Int
	Nonce       uint64
	Hash        common.Hash
	GasUsed     uint64
	Status      Status
}

// Adapter owns the caller key and nonce discipline for one contract.
type Adapter struct {
	backend        Backend
	alloc          nonce.Allocator
	abi            abi.ABI
	key            *ecdsa.PrivateKey
	caller         common.Address
	contract       common.Address
	chainID        *big.Int
	signer         types.Signer
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger sets a logger for transaction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithMetrics records transaction counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithConfirmTimeout bounds the receipt wait for a submitted transaction.
func WithConfirmTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.confirmTimeout = d }
}

// New resolves the chain ID and caller address once and returns the
// adapter. The nonce allocator must already be seeded for the caller
// address derived from keyHex.
func New(ctx context.Context, backend Backend, alloc nonce.Allocator, keyHex, contractAddr string, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "ledger backend is required")
	}
	if alloc == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "nonce allocator is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse caller private key")
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "contract address is not a hex address")
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "parse contract ABI")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "resolve chain id")
	}

	a := &Adapter{
		backend:        backend,
		alloc:          alloc,
		abi:            parsed,
		key:            key,
		caller:         crypto.PubkeyToAddress(key.PublicKey),
		contract:       common.HexToAddress(contractAddr),
		chainID:        chainID,
		signer:         types.LatestSignerForChainID(chainID),
		confirmTimeout: 90 * time.Second,
		pollInterval:   time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Caller returns the resolved caller address.
func (a *Adapter) Caller() common.Address { return a.caller }

// Register commits the user/sample binding on chain.
func (a *Adapter) Register(ctx context.Context, user, sample commitment.Commitment) (Transaction, error) {
	return a.execute(ctx, "registerVoiceIDVerification", []commitment.Commitment{user, sample},
		user.Bytes32(), sample.Bytes32())
}

// SetEnabled toggles verification for the user commitment.
func (a *Adapter) SetEnabled(ctx context.Context, user commitment.Commitment, enabled bool) (Transaction, error) {
	fn := "disableVoiceIDVerification"
	if enabled {
		fn = "enableVoiceIDVerification"
	}
	return a.execute(ctx, fn, []commitment.Commitment{user}, user.Bytes32())
}

// Verify is a read-only call; no transaction and no nonce are consumed.
func (a *Adapter) Verify(ctx context.Context, user, sample commitment.Commitment) (bool, error) {
	data, err := a.abi.Pack("verifyVoiceID", user.Bytes32(), sample.Bytes32())
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "pack verifyVoiceID call")
	}
	raw, err := a.backend.CallContract(ctx, ethereum.CallMsg{
		From: a.caller,
		To:   &a.contract,
		Data: data,
	}, nil)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeTransient, "verifyVoiceID call failed")
	}
	out, err := a.abi.Unpack("verifyVoiceID", raw)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "unpack verifyVoiceID result")
	}
	verified, ok := out[0].(bool)
	if !ok {
		return false, dErrors.New(dErrors.CodeInternal, "verifyVoiceID returned a non-boolean")
	}
	return verified, nil
}

// execute runs one state-mutating call: allocate nonce, build, sign,
// submit, confirm. Failures before submission return the nonce to the
// allocator and map to the transient class; once the transaction has been
// handed to the node the nonce is spent and the receipt wait is detached
// from caller cancellation.
func (a *Adapter) execute(ctx context.Context, function string, args []commitment.Commitment, packed ...any) (Transaction, error) {
	data, err := a.abi.Pack(function, packed...)
	if err != nil {
		return Transaction{}, dErrors.Wrap(err, dErrors.CodeInternal, "pack "+function+" call")
	}

	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Transaction{}, dErrors.Wrap(err, dErrors.CodeTransient, "suggest gas price")
	}
	gasLimit, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: a.caller,
		To:   &a.contract,
		Data: data,
	})
	if err != nil {
		// Estimation reverting means the call itself would revert; retrying
		// the same arguments cannot succeed.
		if isRevert(err) {
			return Transaction{}, dErrors.Wrap(err, dErrors.CodeLedgerExecution, "estimate gas")
		}
		return Transaction{}, dErrors.Wrap(err, dErrors.CodeTransient, "estimate gas")
	}

	n, err := a.alloc.Next(ctx)
	if err != nil {
		return Transaction{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    n,
		To:       &a.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, a.signer, a.key)
	if err != nil {
		_ = a.alloc.Return(ctx, n)
		return Transaction{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign transaction")
	}

	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		// The node rejected or the connection dropped mid-send; whether
		// the transaction reached the mempool is unknowable here, so the
		// nonce stays spent and restart re-seeding accounts for it.
		a.count(function, "submit_failed")
		return Transaction{}, dErrors.Wrap(err, dErrors.CodeTransient, "submit "+function)
	}

	receipt, err := a.waitConfirmed(ctx, signed.Hash())
	if err != nil {
		a.count(function, "confirm_timeout")
		return Transaction{}, err
	}

	result := Transaction{
		Function:    function,
		Commitments: commitmentStrings(args),
		ChainID:     a.chainID,
		Nonce:       n,
		Hash:        signed.Hash(),
		GasUsed:     receipt.GasUsed,
		Status:      StatusConfirmed,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		result.Status = StatusReverted
		a.count(function, "reverted")
		return result, dErrors.New(dErrors.CodeLedgerExecution,
			fmt.Sprintf("%s reverted in tx %s", function, signed.Hash().Hex()))
	}

	if a.logger != nil {
		a.logger.InfoContext(ctx, "ledger transaction confirmed",
			"function", function,
			"tx_hash", signed.Hash().Hex(),
			"nonce", n,
			"gas_used", receipt.GasUsed,
		)
	}
	a.count(function, "confirmed")
	return result, nil
}

// waitConfirmed polls for the receipt. The wait runs under its own timeout,
// detached from the caller's cancellation: once submitted, a transaction
// consumed a nonce and must be accounted for before the run gives up.
// Fetch errors never abort the wait; the transaction is already in flight,
// so surfacing anything retryable here would let the caller submit it
// again under a fresh nonce. Only the timeout terminates, as CodeTimeout.
func (a *Adapter) waitConfirmed(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && a.logger != nil {
			a.logger.WarnContext(ctx, "receipt poll failed, still waiting",
				"tx_hash", txHash.Hex(),
				"error", err,
			)
		}
		select {
		case <-waitCtx.Done():
			return nil, dErrors.Wrap(waitCtx.Err(), dErrors.CodeTimeout,
				"transaction "+txHash.Hex()+" unconfirmed within timeout")
		case <-ticker.C:
		}
	}
}

// isRevert matches the error shapes geth and friends use for a call that
// deterministically reverts during estimation.
func isRevert(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "always failing transaction")
}

func (a *Adapter) count(function, result string) {
	if a.metrics != nil {
		a.metrics.LedgerTransactions.WithLabelValues(function, result).Inc()
	}
}

func commitmentStrings(args []commitment.Commitment) []string {
	out := make([]string, len(args))
	for i, c := range args {
		out[i] = c.String()
	}
	return out
}
