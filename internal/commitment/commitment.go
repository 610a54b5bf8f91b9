// Package commitment derives privacy-preserving identifiers. The ledger only
// ever sees commitments: one-way SHA-256 digests of the raw identifier, so
// no personal data leaves the pipeline's trust boundary.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"

	dErrors "voicepassport/pkg/domain-errors"
)

// Commitment is the SHA-256 digest of a UTF-8 identifier.
type Commitment [sha256.Size]byte

// Commit hashes a raw identifier. It is pure and deterministic, and rejects
// empty input before any digest is computed.
func Commit(identifier string) (Commitment, error) {
	if identifier == "" {
		return Commitment{}, dErrors.New(dErrors.CodeInvalidInput, "identifier must not be empty")
	}
	return Commitment(sha256.Sum256([]byte(identifier))), nil
}

// String returns the lowercase hex encoding, the canonical wire format.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Bytes32 returns the raw digest as the fixed-size array the ledger ABI
// expects for bytes32 arguments.
func (c Commitment) Bytes32() [32]byte {
	return [32]byte(c)
}
