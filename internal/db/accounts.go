package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/models"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `
	id,
	email,
	imap_host,
	imap_port,
	auth_method,
	username,
	encrypted_password,
	encrypted_refresh_token,
	access_token,
	token_expiry,
	supports_history_id,
	enabled,
	verified,
	status_message,
	last_sync_at,
	last_sync_error,
	folder_overrides,
	created_at,
	updated_at`

// CreateAccount inserts a new account row and populates its generated id.
func CreateAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) error {
	overrides, err := json.Marshal(account.FolderOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal folder overrides: %w", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO accounts (
			email,
			imap_host,
			imap_port,
			auth_method,
			username,
			encrypted_password,
			encrypted_refresh_token,
			supports_history_id,
			enabled,
			verified,
			folder_overrides
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`,
		account.Email,
		account.IMAPHost,
		account.IMAPPort,
		account.AuthMethod,
		account.Username,
		account.EncryptedPassword,
		account.EncryptedRefreshToken,
		account.SupportsHistoryID,
		account.Enabled,
		account.Verified,
		overrides,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	var overrides []byte
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.IMAPHost,
		&account.IMAPPort,
		&account.AuthMethod,
		&account.Username,
		&account.EncryptedPassword,
		&account.EncryptedRefreshToken,
		&account.AccessToken,
		&account.TokenExpiry,
		&account.SupportsHistoryID,
		&account.Enabled,
		&account.Verified,
		&account.StatusMessage,
		&account.LastSyncAt,
		&account.LastSyncError,
		&overrides,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &account.FolderOverrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal folder overrides: %w", err)
		}
	}

	return &account, nil
}

// GetAccount returns the account with the given id.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.Account, error) {
	row := pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetAccountByEmail returns the account with the given email address.
// Used by the push bridge, which only knows the provider's email address.
func GetAccountByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*models.Account, error) {
	row := pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// ListEnabledAccounts returns all accounts eligible for sync passes.
func ListEnabledAccounts(ctx context.Context, pool *pgxpool.Pool) ([]*models.Account, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE enabled = TRUE AND verified = TRUE
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// UpdateAccountToken persists refreshed OAuth token material. The encrypted
// refresh token is only overwritten when the provider rotated it; passing nil
// keeps the stored one.
func UpdateAccountToken(ctx context.Context, pool *pgxpool.Pool, accountID, accessToken string, expiry time.Time, encryptedRefreshToken []byte) error {
	_, err := pool.Exec(ctx, `
		UPDATE accounts SET
			access_token = $2,
			token_expiry = $3,
			encrypted_refresh_token = COALESCE($4, encrypted_refresh_token),
			updated_at = NOW()
		WHERE id = $1
	`, accountID, accessToken, expiry, encryptedRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to update account token: %w", err)
	}
	return nil
}

// MarkAccountVerified records a successful connectivity probe.
func MarkAccountVerified(ctx context.Context, pool *pgxpool.Pool, accountID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE accounts SET verified = TRUE, status_message = '', updated_at = NOW()
		WHERE id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to mark account verified: %w", err)
	}
	return nil
}

// DisableAccount marks an account unverified with a human-readable status so
// the orchestrator skips it until the user re-authenticates.
func DisableAccount(ctx context.Context, pool *pgxpool.Pool, accountID, statusMessage string) error {
	_, err := pool.Exec(ctx, `
		UPDATE accounts SET verified = FALSE, status_message = $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, statusMessage)
	if err != nil {
		return fmt.Errorf("failed to disable account: %w", err)
	}
	return nil
}

// SoftDisableAccount nulls stored credentials ahead of deletion.
func SoftDisableAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE accounts SET
			enabled = FALSE,
			verified = FALSE,
			encrypted_password = NULL,
			encrypted_refresh_token = NULL,
			access_token = '',
			token_expiry = NULL,
			updated_at = NOW()
		WHERE id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to soft-disable account: %w", err)
	}
	return nil
}

// DeleteAccount hard-deletes an account. Dependent checkpoints, messages,
// conversations, and attachment rows go with it via ON DELETE CASCADE.
func DeleteAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) error {
	_, err := pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// RecordSyncOutcome stores the result of the latest sync attempt on the account row.
func RecordSyncOutcome(ctx context.Context, pool *pgxpool.Pool, accountID, syncError string) error {
	_, err := pool.Exec(ctx, `
		UPDATE accounts SET last_sync_at = NOW(), last_sync_error = $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, syncError)
	if err != nil {
		return fmt.Errorf("failed to record sync outcome: %w", err)
	}
	return nil
}
