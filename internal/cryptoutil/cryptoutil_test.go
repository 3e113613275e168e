package cryptoutil

import (
	"testing"
	"time"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func sampleTx() *models.CreditTransaction {
	return &models.CreditTransaction{
		Id:        "tx-1",
		UserId:    "user-1",
		Amount:    decimal.NewFromInt(25),
		Type:      models.TxInteraction,
		Source:    models.SourceInteraction,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestChainHash_Deterministic(t *testing.T) {
	tx := sampleTx()

	h1 := ChainHash(tx, models.GenesisPreviousHash)
	h2 := ChainHash(tx, models.GenesisPreviousHash)
	if h1 != h2 {
		t.Errorf("Expected deterministic hash, got %s and %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(h1))
	}
}

func TestChainHash_DependsOnPreviousHash(t *testing.T) {
	tx := sampleTx()

	h1 := ChainHash(tx, models.GenesisPreviousHash)
	h2 := ChainHash(tx, "deadbeef")
	if h1 == h2 {
		t.Error("Expected different hashes for different previous hashes")
	}
}

func TestChainHash_DependsOnFields(t *testing.T) {
	tx := sampleTx()
	base := ChainHash(tx, models.GenesisPreviousHash)

	tampered := *tx
	tampered.Amount = decimal.NewFromInt(26)
	if ChainHash(&tampered, models.GenesisPreviousHash) == base {
		t.Error("Expected amount change to alter the hash")
	}

	tampered = *tx
	tampered.UserId = "user-2"
	if ChainHash(&tampered, models.GenesisPreviousHash) == base {
		t.Error("Expected user change to alter the hash")
	}
}

func TestSignAndVerify(t *testing.T) {
	tx := sampleTx()
	key := []byte("test-signing-key")

	sig, err := Sign(tx, key)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !VerifySignature(tx, sig, key) {
		t.Error("Expected signature to verify with correct key")
	}
	if VerifySignature(tx, sig, []byte("wrong-key")) {
		t.Error("Expected signature to fail with wrong key")
	}

	tampered := *tx
	tampered.Amount = decimal.NewFromInt(999)
	if VerifySignature(&tampered, sig, key) {
		t.Error("Expected signature to fail after tampering")
	}
}

func TestSign_EmptyKey(t *testing.T) {
	if _, err := Sign(sampleTx(), nil); err == nil {
		t.Error("Expected error for empty signing key")
	}
}

func TestGenerateKeyPair(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if pub == "" || priv == "" {
		t.Error("Expected non-empty keys")
	}

	pub2, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if pub == pub2 {
		t.Error("Expected distinct keypairs across calls")
	}
}
