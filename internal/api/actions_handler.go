package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
)

// AccountLookup resolves the account an action targets.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// ActionApplier applies one action to a batch of messages. *actions.Gateway
// is the production implementation.
type ActionApplier interface {
	Apply(ctx context.Context, account *models.Account, messageIDs []string, action models.Action) ([]models.ActionResult, error)
}

// ActionsHandler exposes message mutations to the CRM.
type ActionsHandler struct {
	accounts AccountLookup
	gateway  ActionApplier
}

func NewActionsHandler(accounts AccountLookup, gateway ActionApplier) *ActionsHandler {
	return &ActionsHandler{accounts: accounts, gateway: gateway}
}

type actionRequest struct {
	AccountID  string        `json:"accountId"`
	MessageIDs []string      `json:"messageIds"`
	Action     models.Action `json:"action"`
}

type actionResponse struct {
	Results []models.ActionResult `json:"results"`
}

func (h *ActionsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		http.Error(w, "accountId is required", http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(req.AccountID); err != nil {
		http.Error(w, "accountId is not a valid uuid", http.StatusBadRequest)
		return
	}
	if req.Action.Type == "" {
		http.Error(w, "action.type is required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.GetAccount(ctx, req.AccountID)
	if errors.Is(err, db.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ActionsHandler: failed to load account %s: %v", req.AccountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	results, err := h.gateway.Apply(ctx, account, req.MessageIDs, req.Action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{Results: results})
}
