package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	service, err := NewServiceWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}
	return service, cleanup
}

func mustCreateBalance(t *testing.T, s *Service, userId string, bonus int64) *models.CreditBalance {
	t.Helper()
	balance, _, err := s.CreateBalance(context.Background(), userId, decimal.NewFromInt(bonus))
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
	return balance
}

func TestCreateBalance_WritesWelcomeTransaction(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	balance, transaction, err := service.CreateBalance(ctx, "user1", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
	if !balance.CurrentBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected balance 100, got %s", balance.CurrentBalance.String())
	}
	if transaction.Type != models.TxWelcomeBonus {
		t.Errorf("Expected WELCOME_BONUS transaction, got %s", transaction.Type)
	}
	if !transaction.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected transaction amount 100, got %s", transaction.Amount.String())
	}

	stored, err := service.GetTransaction(ctx, transaction.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if stored.Metadata.Kind != models.MetaBonus {
		t.Errorf("Expected bonus metadata, got %q", stored.Metadata.Kind)
	}
}

func TestGetBalance_NotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.GetBalance(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProcessTransaction_AddAndDeduct(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 100)

	_, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(50),
		Type:   models.TxPurchase,
		Source: models.SourcePurchase,
	})
	if err != nil {
		t.Fatalf("ProcessTransaction add failed: %v", err)
	}

	deduction, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(-30),
		Type:   models.TxInteraction,
		Source: models.SourceInteraction,
	})
	if err != nil {
		t.Fatalf("ProcessTransaction deduct failed: %v", err)
	}
	if !deduction.BalanceAfter.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Expected balance 120, got %s", deduction.BalanceAfter.String())
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	// Conservation: current == earned - spent
	if !balance.CurrentBalance.Equal(balance.LifetimeEarned.Sub(balance.LifetimeSpent)) {
		t.Errorf("Conservation violated: current=%s earned=%s spent=%s",
			balance.CurrentBalance, balance.LifetimeEarned, balance.LifetimeSpent)
	}
	if balance.Version != 3 {
		t.Errorf("Expected version 3 after two mutations, got %d", balance.Version)
	}
}

func TestProcessTransaction_InsufficientCredits(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 30)

	_, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(-50),
		Type:   models.TxInteraction,
		Source: models.SourceInteraction,
	})
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("Expected ErrInsufficientCredits, got %v", err)
	}

	var insufficientErr *store.InsufficientCreditsError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("Expected InsufficientCreditsError, got %T", err)
	}
	if !insufficientErr.Shortfall().Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected shortfall 20, got %s", insufficientErr.Shortfall().String())
	}

	// The failed deduction must not leave a transaction behind.
	history, err := service.GetTransactionHistory(ctx, store.TransactionQuery{UserId: "user1"})
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected only the welcome transaction, got %d", len(history))
	}
}

func TestProcessTransaction_RespectsActiveHold(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 100)

	if _, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(80),
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	// Only 20 is available; a 30-credit deduction must fail.
	_, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(-30),
		Type:   models.TxInteraction,
		Source: models.SourceInteraction,
	})
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("Expected ErrInsufficientCredits behind a hold, got %v", err)
	}

	// A covered deduction goes through and leaves the hold intact.
	if _, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(-15),
		Type:   models.TxInteraction,
		Source: models.SourceInteraction,
	}); err != nil {
		t.Fatalf("ProcessTransaction failed: %v", err)
	}
	balance, _ := service.GetBalance(ctx, "user1")
	if !balance.ReservedCredits.Equal(decimal.NewFromInt(80)) {
		t.Errorf("Expected reserved 80 untouched, got %s", balance.ReservedCredits.String())
	}
}

func TestProcessTransaction_DuplicateIdempotencyKey(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 100)

	params := store.ProcessTransactionParams{
		UserId:         "user1",
		Amount:         decimal.NewFromInt(10),
		Type:           models.TxPurchase,
		Source:         models.SourcePurchase,
		IdempotencyKey: "key-1",
	}
	if _, err := service.ProcessTransaction(ctx, params); err != nil {
		t.Fatalf("First ProcessTransaction failed: %v", err)
	}
	_, err := service.ProcessTransaction(ctx, params)
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestRevertTransaction(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 100)

	deduction, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(-40),
		Type:   models.TxInteraction,
		Source: models.SourceInteraction,
	})
	if err != nil {
		t.Fatalf("ProcessTransaction failed: %v", err)
	}

	if err := service.RevertTransaction(ctx, deduction.Id); err != nil {
		t.Fatalf("RevertTransaction failed: %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if !balance.CurrentBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected balance restored to 100, got %s", balance.CurrentBalance.String())
	}
	if !balance.LifetimeSpent.Equal(decimal.Zero) {
		t.Errorf("Expected lifetime spent reset to 0, got %s", balance.LifetimeSpent.String())
	}

	reverted, _ := service.GetTransaction(ctx, deduction.Id)
	if reverted.Status != models.TxStatusRolledBack {
		t.Errorf("Expected rolled_back status, got %s", reverted.Status)
	}
}

func TestReservationRoundTrip_PartialConfirm(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 1000)

	reservation, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(100),
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if !balance.AvailableBalance().Equal(decimal.NewFromInt(900)) {
		t.Errorf("Expected available 900 after hold, got %s", balance.AvailableBalance().String())
	}

	// Confirm for less than reserved: 60 deducted, full 100 hold removed.
	_, err = service.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservation.Id,
		NewStatus:     models.ReservationConfirmed,
		DeductAmount:  decimal.NewFromInt(60),
	})
	if err != nil {
		t.Fatalf("SettleReservation failed: %v", err)
	}

	balance, _ = service.GetBalance(ctx, "user1")
	if !balance.CurrentBalance.Equal(decimal.NewFromInt(940)) {
		t.Errorf("Expected current 940, got %s", balance.CurrentBalance.String())
	}
	if !balance.ReservedCredits.Equal(decimal.Zero) {
		t.Errorf("Expected reserved 0, got %s", balance.ReservedCredits.String())
	}
	if !balance.AvailableBalance().Equal(decimal.NewFromInt(940)) {
		t.Errorf("Expected available 940, got %s", balance.AvailableBalance().String())
	}
}

func TestSettleReservation_OverConfirmRejected(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 1000)

	reservation, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(100),
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	_, err = service.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservation.Id,
		NewStatus:     models.ReservationConfirmed,
		DeductAmount:  decimal.NewFromInt(150),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected validation error for over-confirm, got %v", err)
	}
}

func TestSettleReservation_AlreadySettledIsNoOp(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 1000)

	reservation, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(100),
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	_, err = service.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservation.Id,
		NewStatus:     models.ReservationReleased,
	})
	if err != nil {
		t.Fatalf("First settle failed: %v", err)
	}

	// A racing expiry must see the settled status and back off.
	_, err = service.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservation.Id,
		NewStatus:     models.ReservationExpired,
	})
	if !errors.Is(err, store.ErrReservationNotActive) {
		t.Errorf("Expected ErrReservationNotActive, got %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if !balance.ReservedCredits.Equal(decimal.Zero) {
		t.Errorf("Expected reserved 0 after single release, got %s", balance.ReservedCredits.String())
	}
}

func TestCreateReservation_InsufficientAvailable(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 100)

	if _, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(80),
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("First reservation failed: %v", err)
	}

	_, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(30),
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits for second hold, got %v", err)
	}
}

func TestExpiredReservations(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 1000)

	past, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(10),
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	if _, err := service.CreateReservation(ctx, store.CreateReservationParams{
		UserId:    "user1",
		Amount:    decimal.NewFromInt(10),
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	expired, err := service.ExpiredReservations(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ExpiredReservations failed: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("Expected 1 expired reservation, got %d", len(expired))
	}
	if expired[0].Id != past.Id {
		t.Errorf("Expected reservation %s, got %s", past.Id, expired[0].Id)
	}
}

func TestLedgerEntries_AppendAndBackup(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	entry := &models.LedgerEntry{
		Id:              "entry1",
		TransactionId:   "tx1",
		UserId:          "user1",
		BlockIndex:      0,
		TransactionHash: "hash0",
		PreviousHash:    models.GenesisPreviousHash,
		Signature:       "sig0",
		Valid:           true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := service.AppendLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("AppendLedgerEntry failed: %v", err)
	}

	// Same block index for the same user must be rejected.
	dup := *entry
	dup.Id = "entry2"
	dup.TransactionId = "tx2"
	if err := service.AppendLedgerEntry(ctx, &dup); err == nil {
		t.Error("Expected unique constraint violation for duplicate block index")
	}

	last, err := service.LastLedgerEntry(ctx, "user1")
	if err != nil {
		t.Fatalf("LastLedgerEntry failed: %v", err)
	}
	if last.BlockIndex != 0 || last.TransactionHash != "hash0" {
		t.Errorf("Unexpected last entry: %+v", last)
	}

	copied, err := service.BackupLedgerEntries(ctx, "user1", "backup1")
	if err != nil {
		t.Fatalf("BackupLedgerEntries failed: %v", err)
	}
	if copied != 1 {
		t.Errorf("Expected 1 entry backed up, got %d", copied)
	}

	entry.TransactionHash = "rehash0"
	if err := service.ReplaceLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("ReplaceLedgerEntry failed: %v", err)
	}
	entries, _ := service.LedgerEntries(ctx, "user1")
	if entries[0].TransactionHash != "rehash0" {
		t.Errorf("Expected replaced hash, got %s", entries[0].TransactionHash)
	}
}

func TestSumConfirmedTransactions_MatchesBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 100)

	_, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
		UserId: "user1",
		Amount: decimal.NewFromInt(-25),
		Type:   models.TxInteraction,
		Source: models.SourceInteraction,
	})
	if err != nil {
		t.Fatalf("ProcessTransaction failed: %v", err)
	}

	sum, err := service.SumConfirmedTransactions(ctx, "user1")
	if err != nil {
		t.Fatalf("SumConfirmedTransactions failed: %v", err)
	}
	balance, _ := service.GetBalance(ctx, "user1")
	if !sum.Equal(balance.CurrentBalance) {
		t.Errorf("Reconciliation mismatch: sum=%s balance=%s", sum.String(), balance.CurrentBalance.String())
	}
}

func TestSumConfirmedTransactions_FractionalAmounts(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	mustCreateBalance(t, service, "user1", 0)

	// 0.1 + 0.2 must sum exactly, not to 0.30000000000000004.
	for _, amount := range []string{"0.1", "0.2"} {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", amount, err)
		}
		if _, err := service.ProcessTransaction(ctx, store.ProcessTransactionParams{
			UserId: "user1",
			Amount: value,
			Type:   models.TxPurchase,
			Source: models.SourcePurchase,
		}); err != nil {
			t.Fatalf("ProcessTransaction failed: %v", err)
		}
	}

	sum, err := service.SumConfirmedTransactions(ctx, "user1")
	if err != nil {
		t.Fatalf("SumConfirmedTransactions failed: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("Expected exact sum 0.3, got %s", sum.String())
	}
	balance, _ := service.GetBalance(ctx, "user1")
	if !sum.Equal(balance.CurrentBalance) {
		t.Errorf("Reconciliation mismatch: sum=%s balance=%s", sum.String(), balance.CurrentBalance.String())
	}
}
