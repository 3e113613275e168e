package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"credit-ledger-go/internal/database"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	db      *sql.DB
	store   *database.Service
	service *Service
}

func setupLedger(t *testing.T) *ledgerFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	creditStore, err := database.NewServiceWithDB(db)
	require.NoError(t, err)

	service, err := NewService(creditStore, Config{
		SigningKey:       []byte("test-signing-key"),
		MaxTimestampSkew: time.Minute,
	})
	require.NoError(t, err)

	return &ledgerFixture{db: db, store: creditStore, service: service}
}

func (f *ledgerFixture) addTransaction(t *testing.T, userId string, amount int64) *models.CreditTransaction {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: userId,
		Amount: decimal.NewFromInt(amount),
		Type:   models.TxPurchase,
		Source: models.SourcePurchase,
	})
	require.NoError(t, err)
	return tx
}

func (f *ledgerFixture) seedUser(t *testing.T, userId string, balance int64) {
	t.Helper()
	_, _, err := f.store.CreateBalance(context.Background(), userId, decimal.NewFromInt(balance))
	require.NoError(t, err)
}

func TestRecordTransaction_ChainContinuity(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 1000)

	const n = 5
	for i := 0; i < n; i++ {
		tx := f.addTransaction(t, "user1", 10)
		entry, err := f.service.RecordTransaction(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), entry.BlockIndex)
		if i == 0 {
			assert.Equal(t, models.GenesisPreviousHash, entry.PreviousHash)
		}
	}

	result, err := f.service.ValidateHashChain(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, n, result.TotalTransactions)
	assert.Empty(t, result.Errors)
	assert.Equal(t, int64(-1), result.BrokenAt)
	assert.NotEmpty(t, result.LastValidHash)
}

func TestRecordTransaction_RefusesBrokenChain(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 1000)

	tx1 := f.addTransaction(t, "user1", 10)
	_, err := f.service.RecordTransaction(ctx, tx1)
	require.NoError(t, err)

	// Corrupt the stored hash directly.
	_, err = f.db.Exec(`UPDATE ledger_entries SET transaction_hash = 'corrupted' WHERE transaction_id = ?`, tx1.Id)
	require.NoError(t, err)

	tx2 := f.addTransaction(t, "user1", 10)
	_, err = f.service.RecordTransaction(ctx, tx2)
	require.ErrorIs(t, err, store.ErrChainIntegrity)
}

func TestValidateHashChain_DetectsGap(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()

	now := time.Now().UTC()
	// Two entries at block index 1 and 3 (gap at 2).
	require.NoError(t, f.store.AppendLedgerEntry(ctx, &models.LedgerEntry{
		Id: "e1", TransactionId: "t1", UserId: "user1", BlockIndex: 1,
		TransactionHash: "h1", PreviousHash: models.GenesisPreviousHash,
		Signature: "s1", Valid: true, CreatedAt: now,
	}))
	require.NoError(t, f.store.AppendLedgerEntry(ctx, &models.LedgerEntry{
		Id: "e3", TransactionId: "t3", UserId: "user1", BlockIndex: 3,
		TransactionHash: "h3", PreviousHash: "h1",
		Signature: "s3", Valid: true, CreatedAt: now,
	}))

	result, err := f.service.ValidateHashChain(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)

	var foundGap bool
	for _, chainErr := range result.Errors {
		if chainErr.Code == models.ChainErrBrokenChain && chainErr.BlockIndex == 3 {
			foundGap = true
		}
	}
	assert.True(t, foundGap, "expected BROKEN_CHAIN error at block 3, got %+v", result.Errors)
}

func TestValidateTransactionIntegrity_TamperDetection(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 1000)

	tx := f.addTransaction(t, "user1", 50)
	_, err := f.service.RecordTransaction(ctx, tx)
	require.NoError(t, err)

	before, err := f.service.ValidateTransactionIntegrity(ctx, tx.Id)
	require.NoError(t, err)
	assert.True(t, before.IsValid)

	// Tamper with the stored amount behind the store's back.
	_, err = f.db.Exec(`UPDATE credit_transactions SET amount = '9999' WHERE id = ?`, tx.Id)
	require.NoError(t, err)

	after, err := f.service.ValidateTransactionIntegrity(ctx, tx.Id)
	require.NoError(t, err)
	assert.False(t, after.IsValid)

	var hashMismatch bool
	for _, issue := range after.Issues {
		if issue.Code == models.IntegrityHashMismatch {
			hashMismatch = true
		}
	}
	assert.True(t, hashMismatch, "expected HASH_MISMATCH issue, got %+v", after.Issues)
}

func TestValidateTransactionIntegrity_TimestampSkewNotFatal(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 1000)

	tx := f.addTransaction(t, "user1", 50)
	entry, err := f.service.RecordTransaction(ctx, tx)
	require.NoError(t, err)

	// Push the ledger entry timestamp well past the skew threshold.
	_, err = f.db.Exec(`UPDATE ledger_entries SET created_at = ? WHERE id = ?`,
		entry.CreatedAt.Add(5*time.Minute), entry.Id)
	require.NoError(t, err)

	result, err := f.service.ValidateTransactionIntegrity(ctx, tx.Id)
	require.NoError(t, err)
	assert.True(t, result.IsValid, "skew alone must not invalidate")
	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.IntegrityTimestampSkew, result.Issues[0].Code)
	assert.False(t, result.Issues[0].Fatal)
}

func TestRepairHashChain_RestoresValidity(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 1000)

	var txs []*models.CreditTransaction
	for i := 0; i < 4; i++ {
		tx := f.addTransaction(t, "user1", 10)
		_, err := f.service.RecordTransaction(ctx, tx)
		require.NoError(t, err)
		txs = append(txs, tx)
	}

	// Corrupt the second entry's hash; everything downstream is now broken.
	_, err := f.db.Exec(`UPDATE ledger_entries SET transaction_hash = 'corrupted' WHERE transaction_id = ?`, txs[1].Id)
	require.NoError(t, err)

	broken, err := f.service.ValidateHashChain(ctx, "user1")
	require.NoError(t, err)
	require.False(t, broken.IsValid)

	repair, err := f.service.RepairHashChain(ctx, "user1", "")
	require.NoError(t, err)
	assert.True(t, repair.BackupSucceeded)
	assert.GreaterOrEqual(t, repair.EntriesRepaired, 1)
	assert.Empty(t, repair.Unrepairable)

	// A backup snapshot of the full chain must exist.
	var backedUp int
	require.NoError(t, f.db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries_backup WHERE backup_id = ?`, repair.BackupId).Scan(&backedUp))
	assert.Equal(t, 4, backedUp)

	fixed, err := f.service.ValidateHashChain(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, fixed.IsValid)
}

func TestRepairHashChain_MissingSourceUnrepairable(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 1000)

	tx := f.addTransaction(t, "user1", 10)
	_, err := f.service.RecordTransaction(ctx, tx)
	require.NoError(t, err)

	// Delete the source transaction so the entry cannot be recomputed.
	_, err = f.db.Exec(`DELETE FROM credit_transactions WHERE id = ?`, tx.Id)
	require.NoError(t, err)

	repair, err := f.service.RepairHashChain(ctx, "user1", "")
	require.NoError(t, err)
	assert.Len(t, repair.Unrepairable, 1)
}

func TestGenerateAuditReport(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	f.seedUser(t, "user1", 10_000)

	// Keep the funding grant out of the audited window; only the movements
	// below should be scored.
	_, err := f.db.Exec(`UPDATE credit_transactions SET created_at = ? WHERE user_id = ? AND transaction_type = ?`,
		time.Now().UTC().Add(-2*time.Hour), "user1", models.TxWelcomeBonus)
	require.NoError(t, err)

	// Several small movements and one outlier.
	for i := 0; i < 5; i++ {
		tx := f.addTransaction(t, "user1", 10)
		_, err := f.service.RecordTransaction(ctx, tx)
		require.NoError(t, err)
	}
	outlier := f.addTransaction(t, "user1", 500)
	_, err = f.service.RecordTransaction(ctx, outlier)
	require.NoError(t, err)

	report, err := f.service.GenerateAuditReport(ctx, "user1",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 6, report.TotalTransactions)
	assert.Equal(t, 6, report.ValidTransactions)
	assert.InDelta(t, 100.0, report.IntegrityScore, 0.001)

	var largeAmount bool
	for _, anomaly := range report.Anomalies {
		if anomaly.Type == models.AnomalyLargeAmount && anomaly.TransactionId == outlier.Id {
			largeAmount = true
		}
	}
	assert.True(t, largeAmount, "expected large-amount anomaly for the outlier")

	assert.Same(t, report, f.service.LastReport("user1"))
}

func TestGenerateAuditReport_EmptyRange(t *testing.T) {
	f := setupLedger(t)

	report, err := f.service.GenerateAuditReport(context.Background(), "user1",
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalTransactions)
	assert.InDelta(t, 100.0, report.IntegrityScore, 0.001)
	assert.Empty(t, report.Anomalies)
}
