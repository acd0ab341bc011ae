package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/crypto"
	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/imap"
	"github.com/lumicrm/mailsync/internal/models"
)

// ErrAuthFailed marks a fatal authentication error: bad password or a revoked
// refresh token. The account must be disabled and surfaced to the user, never
// retried in a loop.
var ErrAuthFailed = errors.New("authentication failed")

// ErrNoCredentials is returned for accounts whose credentials were nulled
// (soft-disabled) or never stored.
var ErrNoCredentials = errors.New("no credentials stored")

// Credentials is the decrypted material a transport session authenticates with.
type Credentials struct {
	Method      models.AuthMethod
	Username    string
	Password    string
	AccessToken string
}

// Vault hands out decrypted connection credentials. Secrets stay encrypted at
// rest; decryption happens per use and the plaintext is never persisted.
type Vault struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	tokens    *TokenManager
	useTLS    bool
}

// NewVault creates a Vault. useTLS false is for tests against plaintext servers.
func NewVault(pool *pgxpool.Pool, encryptor *crypto.Encryptor, tokens *TokenManager, useTLS bool) *Vault {
	return &Vault{pool: pool, encryptor: encryptor, tokens: tokens, useTLS: useTLS}
}

// Credentials returns decrypted credentials for the account, refreshing the
// OAuth access token first when needed.
func (v *Vault) Credentials(ctx context.Context, account *models.Account) (*Credentials, error) {
	switch account.AuthMethod {
	case models.AuthOAuth2:
		token, err := v.tokens.AccessToken(ctx, account)
		if err != nil {
			return nil, err
		}
		return &Credentials{
			Method:      models.AuthOAuth2,
			Username:    account.Username,
			AccessToken: token,
		}, nil

	case models.AuthPassword:
		if len(account.EncryptedPassword) == 0 {
			return nil, ErrNoCredentials
		}
		password, err := v.encryptor.Decrypt(account.EncryptedPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password: %w", err)
		}
		return &Credentials{
			Method:   models.AuthPassword,
			Username: account.Username,
			Password: password,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth method %q", account.AuthMethod)
	}
}

// Connect dials the account's server and authenticates, returning a ready
// session. Callers own the session and must Logout.
func (v *Vault) Connect(ctx context.Context, account *models.Account) (*imap.Session, error) {
	creds, err := v.Credentials(ctx, account)
	if err != nil {
		return nil, err
	}

	address := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	c, err := imap.Dial(address, v.useTLS)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	switch creds.Method {
	case models.AuthOAuth2:
		err = imap.LoginXOAuth2(c, creds.Username, creds.AccessToken)
	default:
		err = imap.LoginPassword(c, creds.Username, creds.Password)
	}
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	return imap.NewSession(c), nil
}

// Probe verifies connectivity and credentials before an account is enabled:
// dial, authenticate, logout. On success the account is marked verified.
func (v *Vault) Probe(ctx context.Context, account *models.Account) error {
	session, err := v.Connect(ctx, account)
	if err != nil {
		return err
	}
	_ = session.Logout()

	if err := db.MarkAccountVerified(ctx, v.pool, account.ID); err != nil {
		return err
	}
	account.Verified = true
	return nil
}

// EncryptSecret encrypts a plaintext secret for storage on an account row.
// Used at onboarding for passwords and refresh tokens.
func (v *Vault) EncryptSecret(secret string) ([]byte, error) {
	return v.encryptor.Encrypt(secret)
}
