// Package cryptoutil provides the pure cryptographic primitives for the
// credit ledger: chain-hash computation, HMAC transaction signatures and
// keypair generation. It holds no state; the signing key is always supplied
// by the caller.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"credit-ledger-go/internal/models"
)

// canonicalFields produces the stable field encoding hashed and signed for a
// transaction. Any change here invalidates all existing chains.
func canonicalFields(tx *models.CreditTransaction) string {
	return strings.Join([]string{
		tx.Id,
		tx.UserId,
		tx.Amount.String(),
		string(tx.Type),
		string(tx.Source),
		strconv.FormatInt(tx.CreatedAt.UTC().UnixMilli(), 10),
	}, "|")
}

// ChainHash computes the hash linking a transaction into its user's chain:
// sha256 over the canonical transaction fields plus the previous entry's
// hash.
func ChainHash(tx *models.CreditTransaction, previousHash string) string {
	sum := sha256.Sum256([]byte(canonicalFields(tx) + "|" + previousHash))
	return hex.EncodeToString(sum[:])
}

// Sign computes the HMAC-SHA256 signature of a transaction's canonical
// fields under the supplied symmetric key.
func Sign(tx *models.CreditTransaction, key []byte) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("signing key must not be empty")
	}
	mac := hmac.New(sha256.New, key)
	if _, err := mac.Write([]byte(canonicalFields(tx))); err != nil {
		return "", fmt.Errorf("failed to compute signature: %w", err)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature reports whether signature matches the transaction under
// key. Comparison is constant-time.
func VerifySignature(tx *models.CreditTransaction, signature string, key []byte) bool {
	expected, err := Sign(tx, key)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateKeyPair returns a fresh ed25519 keypair, hex-encoded. Provided for
// deployments that issue asymmetric receipts; the ledger's own signature
// path is symmetric HMAC.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate keypair: %w", err)
	}
	return hex.EncodeToString(pub), hex.EncodeToString(priv), nil
}
