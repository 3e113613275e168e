package common

import (
	"context"
	"log"
	"strings"

	"credit-ledger-go/internal/aicredit"
	"credit-ledger-go/internal/balancesync"
	"credit-ledger-go/internal/broadcast"
	"credit-ledger-go/internal/credit"
	"credit-ledger-go/internal/database"
	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles the fully wired service graph for the binaries.
type Services struct {
	DbService      *database.Service
	BroadcastStore *broadcast.Store
	LedgerService  *ledger.Service
	CreditService  *credit.Service
	SyncService    *balancesync.Service
	CreditFlow     *aicredit.Service
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the whole service graph: durable store, broadcast
// mirror, ledger, credit, sync and the orchestrator.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	broadcastStore := broadcast.NewStore()

	ledgerService, err := ledger.NewService(dbService, ledger.Config{
		SigningKey:       []byte(cfg.Ledger.SigningKey),
		MaxTimestampSkew: cfg.Ledger.MaxTimestampSkew,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	creditService, err := credit.NewService(dbService, ledgerService, credit.Config{
		WelcomeBonus:          cfg.Credit.WelcomeBonus,
		ReservationTimeout:    cfg.Sync.ReservationTimeout,
		ConcurrentRetryLimit:  cfg.Credit.ConcurrentRetryLimit,
		LedgerWriteRetryLimit: cfg.Credit.LedgerWriteRetryLimit,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	topUpOptions, err := LoadTopUpOptions(cfg.Credit.TopUpOptionsFile)
	if err != nil {
		zap.L().Warn("Could not load top-up options, continuing without a catalog",
			zap.String("file", cfg.Credit.TopUpOptionsFile), zap.Error(err))
		topUpOptions = nil
	}

	syncService, err := balancesync.NewService(dbService, broadcastStore, ledgerService, balancesync.Config{
		Strategy:           cfg.Sync.Strategy,
		Epsilon:            cfg.Sync.Epsilon,
		BatchSize:          cfg.Sync.BatchSize,
		ReservationTimeout: cfg.Sync.ReservationTimeout,
		HealthSampleSize:   cfg.Sweeper.HealthSampleSize,
		TopUpOptions:       topUpOptions,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	creditFlow, err := aicredit.NewService(creditService, syncService, aicredit.Config{
		LowBalanceThreshold: cfg.Credit.LowBalanceThreshold,
		CriticalThreshold:   cfg.Credit.CriticalThreshold,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService:      dbService,
		BroadcastStore: broadcastStore,
		LedgerService:  ledgerService,
		CreditService:  creditService,
		SyncService:    syncService,
		CreditFlow:     creditFlow,
	}, nil
}

// InitializeDatabaseOnly initializes just the durable store.
// Useful for read-only operations like audit reports.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.BroadcastStore != nil {
		cs.BroadcastStore.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
