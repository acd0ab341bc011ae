package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/models"
)

// GetCheckpoint returns the sync cursor for an account/folder pair. A missing
// row means the folder has never been synced; callers get a zero checkpoint.
func GetCheckpoint(ctx context.Context, pool *pgxpool.Pool, accountID, folder string) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{AccountID: accountID, Folder: folder}
	err := pool.QueryRow(ctx, `
		SELECT last_uid, uid_validity, history_id, updated_at
		FROM checkpoints
		WHERE account_id = $1 AND folder = $2
	`, accountID, folder).Scan(&cp.LastUID, &cp.UIDValidity, &cp.HistoryID, &cp.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cp, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return cp, nil
}

// UpsertCheckpoint advances the cursor. This is the last step of a successful
// batch; writing it commits the delta window.
func UpsertCheckpoint(ctx context.Context, pool *pgxpool.Pool, cp *models.Checkpoint) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO checkpoints (account_id, folder, last_uid, uid_validity, history_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id, folder) DO UPDATE SET
			last_uid = EXCLUDED.last_uid,
			uid_validity = EXCLUDED.uid_validity,
			history_id = EXCLUDED.history_id,
			updated_at = NOW()
	`, cp.AccountID, cp.Folder, cp.LastUID, cp.UIDValidity, cp.HistoryID)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}
	return nil
}

// ResetCheckpoint rewinds the cursor to zero after a provider-reported
// invalidation (UID validity bump or expired history id). The new uidValidity
// is recorded so the next pass selects cleanly.
func ResetCheckpoint(ctx context.Context, pool *pgxpool.Pool, accountID, folder string, uidValidity uint32) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO checkpoints (account_id, folder, last_uid, uid_validity, history_id, updated_at)
		VALUES ($1, $2, 0, $3, '', NOW())
		ON CONFLICT (account_id, folder) DO UPDATE SET
			last_uid = 0,
			uid_validity = EXCLUDED.uid_validity,
			history_id = '',
			updated_at = NOW()
	`, accountID, folder, uidValidity)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}
