package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/crypto"
	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
	"golang.org/x/oauth2"
)

// refreshBuffer is how long before expiry a token is refreshed. Five minutes
// covers clock skew and the window between credential fetch and AUTHENTICATE.
const refreshBuffer = 5 * time.Minute

// TokenStore persists refreshed token material. This allows the TokenManager
// to be tested with mock implementations.
type TokenStore interface {
	UpdateAccountToken(ctx context.Context, accountID, accessToken string, expiry time.Time, encryptedRefreshToken []byte) error
}

// dbTokenStore implements TokenStore using a database pool.
type dbTokenStore struct {
	pool *pgxpool.Pool
}

func (s *dbTokenStore) UpdateAccountToken(ctx context.Context, accountID, accessToken string, expiry time.Time, encryptedRefreshToken []byte) error {
	return db.UpdateAccountToken(ctx, s.pool, accountID, accessToken, expiry, encryptedRefreshToken)
}

// TokenManager refreshes OAuth2 access tokens ahead of expiry. Refreshes are
// single-flight per account: two concurrent syncs of the same account produce
// one token-endpoint call, not a refresh race.
type TokenManager struct {
	store     TokenStore
	encryptor *crypto.Encryptor
	config    *oauth2.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenManager creates a TokenManager for the given provider endpoint.
func NewTokenManager(pool *pgxpool.Pool, encryptor *crypto.Encryptor, clientID, clientSecret, tokenURL string) *TokenManager {
	return NewTokenManagerWithStore(&dbTokenStore{pool: pool}, encryptor, clientID, clientSecret, tokenURL)
}

// NewTokenManagerWithStore creates a TokenManager with a custom store.
func NewTokenManagerWithStore(store TokenStore, encryptor *crypto.Encryptor, clientID, clientSecret, tokenURL string) *TokenManager {
	return &TokenManager{
		store:     store,
		encryptor: encryptor,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *TokenManager) accountLock(accountID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[accountID] = lock
	}
	return lock
}

// AccessToken returns a valid access token for the account, refreshing it when
// expiry is within the buffer or already past. The account struct is updated
// in place alongside the store.
func (m *TokenManager) AccessToken(ctx context.Context, account *models.Account) (string, error) {
	lock := m.accountLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	if account.AccessToken != "" && account.TokenExpiry != nil && time.Until(*account.TokenExpiry) > refreshBuffer {
		return account.AccessToken, nil
	}

	return m.refresh(ctx, account)
}

func (m *TokenManager) refresh(ctx context.Context, account *models.Account) (string, error) {
	if len(account.EncryptedRefreshToken) == 0 {
		return "", fmt.Errorf("%w: no refresh token stored", ErrAuthFailed)
	}

	refreshToken, err := m.encryptor.Decrypt(account.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == 400 || retrieveErr.Response.StatusCode == 401) {
			// invalid_grant: the refresh token is revoked or expired. Fatal;
			// the account needs re-authentication, not a retry loop.
			return "", fmt.Errorf("%w: refresh token rejected: %v", ErrAuthFailed, err)
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	// Providers that rotate refresh tokens return a new one; those that don't
	// leave the field empty, meaning the stored token stays valid and must be
	// retained.
	var encryptedRefresh []byte
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		encryptedRefresh, err = m.encryptor.Encrypt(token.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
		}
	}

	if err := m.store.UpdateAccountToken(ctx, account.ID, token.AccessToken, token.Expiry, encryptedRefresh); err != nil {
		return "", err
	}

	account.AccessToken = token.AccessToken
	expiry := token.Expiry
	account.TokenExpiry = &expiry
	if encryptedRefresh != nil {
		account.EncryptedRefreshToken = encryptedRefresh
	}

	return token.AccessToken, nil
}
