package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumicrm/mailsync/internal/models"
)

type fakeAccountStore struct {
	created *models.Account
	deleted []string
}

func (s *fakeAccountStore) CreateAccount(_ context.Context, account *models.Account) error {
	account.ID = "11111111-2222-4333-8444-555555555555"
	s.created = account
	return nil
}

func (s *fakeAccountStore) DeleteAccount(_ context.Context, accountID string) error {
	s.deleted = append(s.deleted, accountID)
	return nil
}

type fakeCredentialVault struct {
	probeErr error
	probed   []string
}

func (v *fakeCredentialVault) EncryptSecret(secret string) ([]byte, error) {
	return []byte("sealed:" + secret), nil
}

func (v *fakeCredentialVault) Probe(_ context.Context, account *models.Account) error {
	v.probed = append(v.probed, account.ID)
	if v.probeErr != nil {
		return v.probeErr
	}
	account.Verified = true
	return nil
}

func TestAccountsHandlerCreatesVerifiedAccount(t *testing.T) {
	store := &fakeAccountStore{}
	credVault := &fakeCredentialVault{}
	handler := NewAccountsHandler(store, credVault)

	body := `{"email": "pat@example.com", "imapHost": "imap.example.com", "password": "hunter2"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, "pat@example.com", store.created.Email)
	assert.Equal(t, "pat@example.com", store.created.Username, "username defaults to the email")
	assert.Equal(t, 993, store.created.IMAPPort, "port defaults to IMAPS")
	assert.Equal(t, models.AuthPassword, store.created.AuthMethod)
	assert.Equal(t, []byte("sealed:hunter2"), store.created.EncryptedPassword)
	assert.True(t, store.created.Enabled)
	assert.Len(t, credVault.probed, 1)
	assert.Empty(t, store.deleted)

	var resp models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.NotEmpty(t, resp.ID)
}

func TestAccountsHandlerSealsRefreshTokenForOAuth(t *testing.T) {
	store := &fakeAccountStore{}
	handler := NewAccountsHandler(store, &fakeCredentialVault{})

	body := `{"email": "pat@example.com", "imapHost": "imap.gmail.com", "authMethod": "oauth2", "refreshToken": "1//refresh", "supportsHistoryId": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, models.AuthOAuth2, store.created.AuthMethod)
	assert.Equal(t, []byte("sealed:1//refresh"), store.created.EncryptedRefreshToken)
	assert.Empty(t, store.created.EncryptedPassword)
	assert.True(t, store.created.SupportsHistoryID)
}

func TestAccountsHandlerRemovesAccountWhenProbeFails(t *testing.T) {
	store := &fakeAccountStore{}
	credVault := &fakeCredentialVault{probeErr: fmt.Errorf("LOGIN failed")}
	handler := NewAccountsHandler(store, credVault)

	body := `{"email": "pat@example.com", "imapHost": "imap.example.com", "password": "wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification failed")
	require.NotNil(t, store.created)
	assert.Equal(t, []string{store.created.ID}, store.deleted, "unverified account must not survive")
}

func TestAccountsHandlerValidation(t *testing.T) {
	for name, body := range map[string]string{
		"malformed json":   `{"email": `,
		"missing email":    `{"imapHost": "imap.example.com", "password": "x"}`,
		"missing host":     `{"email": "pat@example.com", "password": "x"}`,
		"missing password": `{"email": "pat@example.com", "imapHost": "imap.example.com"}`,
		"missing token":    `{"email": "pat@example.com", "imapHost": "imap.example.com", "authMethod": "oauth2"}`,
		"bad auth method":  `{"email": "pat@example.com", "imapHost": "imap.example.com", "authMethod": "kerberos", "password": "x"}`,
	} {
		store := &fakeAccountStore{}
		handler := NewAccountsHandler(store, &fakeCredentialVault{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Nil(t, store.created, name)
	}
}
