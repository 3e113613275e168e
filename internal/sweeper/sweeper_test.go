package sweeper

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"credit-ledger-go/internal/balancesync"
	"credit-ledger-go/internal/broadcast"
	"credit-ledger-go/internal/database"
	"credit-ledger-go/internal/models"

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

type sweeperFixture struct {
	db      *sql.DB
	store   *database.Service
	sync    *balancesync.Service
	sweeper *Sweeper
}

func setupSweeper(t *testing.T) *sweeperFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each pooled connection would otherwise get its own empty :memory:
	// database; the sweeper's background goroutines need to see the schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	creditStore, err := database.NewServiceWithDB(db)
	require.NoError(t, err)

	syncService, err := balancesync.NewService(creditStore, broadcast.NewStore(), noopRecorder{}, balancesync.Config{
		ReservationTimeout: time.Minute,
	})
	require.NoError(t, err)

	sweeper, err := NewSweeper(Config{
		SyncService:    syncService,
		ExpiryInterval: 10 * time.Millisecond,
		HealthInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return &sweeperFixture{db: db, store: creditStore, sync: syncService, sweeper: sweeper}
}

func (f *sweeperFixture) reserveOverdue(t *testing.T, userId string, amount int64) *models.CreditReservation {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.store.CreateBalance(ctx, userId, decimal.NewFromInt(1000))
	require.NoError(t, err)
	reservation, err := f.sync.ReserveCredits(ctx, userId, decimal.NewFromInt(amount), "corr-1")
	require.NoError(t, err)

	// Backdate the deadline so the hold is overdue.
	_, err = f.db.Exec(`UPDATE credit_reservations SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), reservation.Id)
	require.NoError(t, err)
	return reservation
}

func TestStartupRecovery_ReleasesOverdueHolds(t *testing.T) {
	f := setupSweeper(t)
	ctx := context.Background()
	reservation := f.reserveOverdue(t, "user1", 100)

	require.NoError(t, f.sweeper.performStartupRecovery(ctx))

	got, err := f.store.GetReservation(ctx, reservation.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, got.Status)

	balance, err := f.store.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, balance.ReservedCredits.IsZero())
}

func TestStartStop(t *testing.T) {
	f := setupSweeper(t)
	ctx := context.Background()
	reservation := f.reserveOverdue(t, "user1", 50)

	require.NoError(t, f.sweeper.Start(ctx))
	// Give the loops one tick.
	time.Sleep(50 * time.Millisecond)
	f.sweeper.Stop()

	got, err := f.store.GetReservation(ctx, reservation.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, got.Status)
}
