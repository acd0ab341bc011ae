package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
)

const actionsTestAccountID = "7c2b4e9d-1f60-45a8-b3ce-6a85d40f912b"

type fakeAccountLookup struct {
	accounts map[string]*models.Account
}

func (l *fakeAccountLookup) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	account, ok := l.accounts[accountID]
	if !ok {
		return nil, db.ErrAccountNotFound
	}
	return account, nil
}

type fakeApplier struct {
	gotAccount *models.Account
	gotIDs     []string
	gotAction  models.Action
	results    []models.ActionResult
	err        error
}

func (a *fakeApplier) Apply(_ context.Context, account *models.Account, messageIDs []string, action models.Action) ([]models.ActionResult, error) {
	a.gotAccount = account
	a.gotIDs = messageIDs
	a.gotAction = action
	return a.results, a.err
}

func actionsFixture() (*ActionsHandler, *fakeApplier) {
	lookup := &fakeAccountLookup{accounts: map[string]*models.Account{
		actionsTestAccountID: {ID: actionsTestAccountID, Email: "pat@example.com", Enabled: true, Verified: true},
	}}
	applier := &fakeApplier{results: []models.ActionResult{{MessageID: "m1", Applied: true, RemoteSynced: true}}}
	return NewActionsHandler(lookup, applier), applier
}

func TestActionsHandlerAppliesAction(t *testing.T) {
	handler, applier := actionsFixture()

	body := `{"accountId": "` + actionsTestAccountID + `", "messageIds": ["m1"], "action": {"type": "mark_read"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actionsTestAccountID, applier.gotAccount.ID)
	assert.Equal(t, []string{"m1"}, applier.gotIDs)
	assert.Equal(t, models.ActionMarkRead, applier.gotAction.Type)

	var resp actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Applied)
}

func TestActionsHandlerPassesActionDetails(t *testing.T) {
	handler, applier := actionsFixture()

	body := `{"accountId": "` + actionsTestAccountID + `", "messageIds": ["m1", "m2"], "action": {"type": "move_to_folder", "target_folder": "Receipts"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ActionMoveToFolder, applier.gotAction.Type)
	assert.Equal(t, "Receipts", applier.gotAction.TargetFolder)
	assert.Equal(t, []string{"m1", "m2"}, applier.gotIDs)
}

func TestActionsHandlerUnknownAccount(t *testing.T) {
	handler, _ := actionsFixture()

	body := `{"accountId": "b0a1d2c3-4e5f-4678-9abc-def012345678", "messageIds": ["m1"], "action": {"type": "mark_read"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionsHandlerValidation(t *testing.T) {
	handler, _ := actionsFixture()

	for name, body := range map[string]string{
		"malformed json":  `{"accountId": `,
		"missing account": `{"messageIds": ["m1"], "action": {"type": "mark_read"}}`,
		"missing type":    `{"accountId": "` + actionsTestAccountID + `", "messageIds": ["m1"], "action": {}}`,
		"bad account id":  `{"accountId": "not-a-uuid", "messageIds": ["m1"], "action": {"type": "mark_read"}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}
