package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/sync"
)

const syncTestAccountID = "5f3d8a1c-9a04-4c2e-8f6b-0d92c51a77e4"

type fakeSweeper struct {
	sweep    models.SweepResult
	byID     map[string]error
	sweeps   int
	targeted []string
}

func (s *fakeSweeper) SyncAll(_ context.Context) models.SweepResult {
	s.sweeps++
	return s.sweep
}

func (s *fakeSweeper) SyncAccount(_ context.Context, accountID string) error {
	s.targeted = append(s.targeted, accountID)
	return s.byID[accountID]
}

func TestRunAllReturnsSweepResult(t *testing.T) {
	sweeper := &fakeSweeper{sweep: models.SweepResult{AccountsAttempted: 3, AccountsSucceeded: 2, AccountsFailed: 1}}
	handler := NewSyncHandler(sweeper)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	rec := httptest.NewRecorder()
	handler.RunAll(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result models.SweepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.AccountsAttempted)
	assert.Equal(t, 1, sweeper.sweeps)
}

func TestRunAccountTriggersTargetedSync(t *testing.T) {
	sweeper := &fakeSweeper{byID: map[string]error{}}
	handler := NewSyncHandler(sweeper)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/account/"+syncTestAccountID, nil)
	rec := httptest.NewRecorder()
	handler.RunAccount(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{syncTestAccountID}, sweeper.targeted)
}

func TestRunAccountConflictWhenAlreadyRunning(t *testing.T) {
	sweeper := &fakeSweeper{byID: map[string]error{syncTestAccountID: sync.ErrSyncInProgress}}
	handler := NewSyncHandler(sweeper)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/account/"+syncTestAccountID, nil)
	rec := httptest.NewRecorder()
	handler.RunAccount(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunAccountReportsSyncFailure(t *testing.T) {
	sweeper := &fakeSweeper{byID: map[string]error{syncTestAccountID: fmt.Errorf("connection refused")}}
	handler := NewSyncHandler(sweeper)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/account/"+syncTestAccountID, nil)
	rec := httptest.NewRecorder()
	handler.RunAccount(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRunAccountRequiresID(t *testing.T) {
	handler := NewSyncHandler(&fakeSweeper{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/account/", nil)
	rec := httptest.NewRecorder()
	handler.RunAccount(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sync/account/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	handler.RunAccount(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireSyncToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := RequireSyncToken("sekret", next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token must be rejected")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	req.Header.Set("X-Sync-Token", "wrong")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	req.Header.Set("X-Sync-Token", "sekret")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSyncTokenRejectsEmptyConfiguredToken(t *testing.T) {
	guarded := RequireSyncToken("", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	req.Header.Set("X-Sync-Token", "")
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
