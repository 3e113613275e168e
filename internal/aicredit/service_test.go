package aicredit

import (
	"context"
	"database/sql"
	"testing"

	"credit-ledger-go/internal/balancesync"
	"credit-ledger-go/internal/broadcast"
	"credit-ledger-go/internal/credit"
	"credit-ledger-go/internal/database"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRecorder struct{}

func (noopRecorder) RecordTransaction(_ context.Context, tx *models.CreditTransaction) (*models.LedgerEntry, error) {
	return &models.LedgerEntry{Id: uuid.New().String(), TransactionId: tx.Id, UserId: tx.UserId}, nil
}

func setupOrchestrator(t *testing.T) (*Service, *broadcast.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	creditStore, err := database.NewServiceWithDB(db)
	require.NoError(t, err)
	broadcastStore := broadcast.NewStore()

	creditService, err := credit.NewService(creditStore, noopRecorder{}, credit.Config{
		WelcomeBonus: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	syncService, err := balancesync.NewService(creditStore, broadcastStore, noopRecorder{}, balancesync.Config{
		TopUpOptions: []models.TopUpOption{
			{Id: "starter", Credits: decimal.NewFromInt(100), PriceUSD: decimal.NewFromInt(5)},
			{Id: "pro", Credits: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(40)},
		},
	})
	require.NoError(t, err)

	service, err := NewService(creditService, syncService, Config{
		LowBalanceThreshold: decimal.NewFromInt(50),
		CriticalThreshold:   decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	return service, broadcastStore
}

func TestDeductForInteraction(t *testing.T) {
	service, broadcastStore := setupOrchestrator(t)
	ctx := context.Background()

	tx, recommendation, err := service.DeductForInteraction(ctx, "user1", "int-1", "gpt-4o", 1200, decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.Nil(t, recommendation)
	require.NotNil(t, tx)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(-30)))
	assert.Equal(t, models.MetaInteraction, tx.Metadata.Kind)

	// The mirror reflects the deduction.
	cached, err := broadcastStore.Get(ctx, store.BalancePath("user1"))
	require.NoError(t, err)
	assert.True(t, cached.CurrentBalance.Equal(decimal.NewFromInt(70)))
}

func TestDeductForInteraction_InsufficientReturnsOptions(t *testing.T) {
	service, _ := setupOrchestrator(t)
	ctx := context.Background()

	// Welcome bonus is 100; charge more than that.
	tx, recommendation, err := service.DeductForInteraction(ctx, "user1", "int-1", "gpt-4o", 90_000, decimal.NewFromInt(900))
	require.ErrorIs(t, err, store.ErrInsufficientCredits)
	assert.Nil(t, tx)
	require.NotNil(t, recommendation)
	assert.True(t, recommendation.Shortfall.Equal(decimal.NewFromInt(800)))
	require.Len(t, recommendation.Options, 2)
	assert.True(t, recommendation.Options[1].Recommended, "pro package covers the shortfall")
}

func TestGrantWelcomeBonus(t *testing.T) {
	service, broadcastStore := setupOrchestrator(t)
	ctx := context.Background()

	balance, err := service.GrantWelcomeBonus(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.Equal(decimal.NewFromInt(100)))

	cached, err := broadcastStore.Get(ctx, store.BalancePath("user1"))
	require.NoError(t, err)
	assert.True(t, cached.CurrentBalance.Equal(decimal.NewFromInt(100)))

	// Idempotent: a second call grants nothing more.
	balance, err = service.GrantWelcomeBonus(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.Equal(decimal.NewFromInt(100)))
}

func TestCheckLowBalance(t *testing.T) {
	service, _ := setupOrchestrator(t)
	ctx := context.Background()

	// Fresh user holds the full welcome bonus; no alert.
	alert, err := service.CheckLowBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, models.LowBalanceNone, alert.Level)
	assert.Empty(t, alert.Options)

	// Spend down into the low band.
	_, _, err = service.DeductForInteraction(ctx, "user1", "int-1", "gpt-4o", 100, decimal.NewFromInt(60))
	require.NoError(t, err)
	alert, err = service.CheckLowBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, models.LowBalanceLow, alert.Level)
	assert.NotEmpty(t, alert.Options)

	// And into the critical band.
	_, _, err = service.DeductForInteraction(ctx, "user1", "int-2", "gpt-4o", 100, decimal.NewFromInt(35))
	require.NoError(t, err)
	alert, err = service.CheckLowBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, models.LowBalanceCritical, alert.Level)
}
