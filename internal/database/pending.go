package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
)

func scanPendingOperations(rows *sql.Rows) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	for rows.Next() {
		var op models.PendingOperation
		var amount string
		if err := rows.Scan(&op.Id, &op.UserId, &op.OpType, &amount, &op.Status, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		var err error
		if op.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending operations: %w", err)
	}
	return ops, nil
}

// PendingOperations returns a user's queued operations, oldest first.
func (s *Service) PendingOperations(ctx context.Context, userId string) ([]models.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, queryPendingOperations, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()
	return scanPendingOperations(rows)
}

func (s *Service) MarkPendingOperation(ctx context.Context, opId string, status models.PendingOperationStatus) error {
	if _, err := s.db.ExecContext(ctx, queryMarkPendingOperation, status, opId); err != nil {
		return fmt.Errorf("failed to mark pending operation: %w", err)
	}
	return nil
}

// StalePendingOperations returns queued operations created before olderThan;
// these are flagged PENDING_OPERATION_STUCK by balance validation.
func (s *Service) StalePendingOperations(ctx context.Context, userId string, olderThan time.Time) ([]models.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, queryStalePendingOperations, userId, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending operations: %w", err)
	}
	defer rows.Close()
	return scanPendingOperations(rows)
}
