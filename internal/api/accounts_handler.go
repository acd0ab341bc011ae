package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
)

// AccountStore persists account rows for onboarding.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, accountID string) error
}

// DBAccountStore is the production AccountStore.
type DBAccountStore struct {
	Pool *pgxpool.Pool
}

func (s *DBAccountStore) CreateAccount(ctx context.Context, account *models.Account) error {
	return db.CreateAccount(ctx, s.Pool, account)
}

func (s *DBAccountStore) DeleteAccount(ctx context.Context, accountID string) error {
	return db.DeleteAccount(ctx, s.Pool, accountID)
}

// CredentialVault seals secrets at rest and verifies connectivity for a new
// account. *vault.Vault is the production implementation.
type CredentialVault interface {
	EncryptSecret(secret string) ([]byte, error)
	Probe(ctx context.Context, account *models.Account) error
}

// AccountsHandler onboards mailboxes. Onboarding is atomic: the account row
// only survives if the server accepts the credentials, so a typo'd password
// never leaves a half-configured account behind.
type AccountsHandler struct {
	store AccountStore
	vault CredentialVault
}

func NewAccountsHandler(store AccountStore, vault CredentialVault) *AccountsHandler {
	return &AccountsHandler{store: store, vault: vault}
}

type createAccountRequest struct {
	Email             string           `json:"email"`
	IMAPHost          string           `json:"imapHost"`
	IMAPPort          int              `json:"imapPort"`
	AuthMethod        string           `json:"authMethod"`
	Username          string           `json:"username"`
	Password          string           `json:"password"`
	RefreshToken      string           `json:"refreshToken"`
	SupportsHistoryID bool             `json:"supportsHistoryId"`
	FolderOverrides   models.FolderMap `json:"folderOverrides"`
}

func (h *AccountsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, secret, err := accountFromRequest(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sealed, err := h.vault.EncryptSecret(secret)
	if err != nil {
		log.Printf("AccountsHandler: failed to encrypt credentials for %s: %v", account.Email, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if account.AuthMethod == models.AuthOAuth2 {
		account.EncryptedRefreshToken = sealed
	} else {
		account.EncryptedPassword = sealed
	}

	if err := h.store.CreateAccount(ctx, account); err != nil {
		log.Printf("AccountsHandler: failed to store account %s: %v", account.Email, err)
		http.Error(w, "Failed to store account", http.StatusInternalServerError)
		return
	}

	if err := h.vault.Probe(ctx, account); err != nil {
		log.Printf("AccountsHandler: verification failed for %s: %v", account.Email, err)
		if delErr := h.store.DeleteAccount(ctx, account.ID); delErr != nil {
			log.Printf("AccountsHandler: failed to remove unverified account %s: %v", account.ID, delErr)
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "mailbox verification failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// accountFromRequest validates the request and returns the unsaved account
// plus the plaintext secret to seal.
func accountFromRequest(req *createAccountRequest) (*models.Account, string, error) {
	if req.Email == "" {
		return nil, "", fmt.Errorf("email is required")
	}
	if req.IMAPHost == "" {
		return nil, "", fmt.Errorf("imapHost is required")
	}

	port := req.IMAPPort
	if port == 0 {
		port = 993
	}
	username := req.Username
	if username == "" {
		username = req.Email
	}

	var method models.AuthMethod
	var secret string
	switch req.AuthMethod {
	case string(models.AuthOAuth2):
		method = models.AuthOAuth2
		secret = req.RefreshToken
		if secret == "" {
			return nil, "", fmt.Errorf("refreshToken is required for oauth2 accounts")
		}
	case string(models.AuthPassword), "":
		method = models.AuthPassword
		secret = req.Password
		if secret == "" {
			return nil, "", fmt.Errorf("password is required for password accounts")
		}
	default:
		return nil, "", fmt.Errorf("authMethod must be password or oauth2")
	}

	return &models.Account{
		Email:             req.Email,
		IMAPHost:          req.IMAPHost,
		IMAPPort:          port,
		AuthMethod:        method,
		Username:          username,
		SupportsHistoryID: req.SupportsHistoryID,
		Enabled:           true,
		FolderOverrides:   req.FolderOverrides,
	}, secret, nil
}
