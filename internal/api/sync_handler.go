package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/sync"
)

// Sweeper runs sync passes. *sync.Orchestrator is the production
// implementation.
type Sweeper interface {
	SyncAll(ctx context.Context) models.SweepResult
	SyncAccount(ctx context.Context, accountID string) error
}

// SyncHandler exposes manual sync triggers to the CRM.
type SyncHandler struct {
	sweeper Sweeper
}

func NewSyncHandler(sweeper Sweeper) *SyncHandler {
	return &SyncHandler{sweeper: sweeper}
}

// RunAll sweeps every enabled account and reports the outcome. The request
// blocks for the duration of the sweep; the CRM uses it for explicit
// "sync now" buttons and admin tooling, not on a hot path.
func (h *SyncHandler) RunAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result := h.sweeper.SyncAll(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// RunAccount triggers a pass for the account named in the path. A pass
// already in flight answers 409; the caller gets fresh data either way.
func (h *SyncHandler) RunAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID := strings.TrimPrefix(r.URL.Path, "/api/v1/sync/account/")
	if accountID == "" || strings.Contains(accountID, "/") {
		http.Error(w, "account id is required", http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(accountID); err != nil {
		http.Error(w, "account id is not a valid uuid", http.StatusBadRequest)
		return
	}

	if err := h.sweeper.SyncAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
			return
		}
		log.Printf("SyncHandler: sync for account %s failed: %v", accountID, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "failed", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
