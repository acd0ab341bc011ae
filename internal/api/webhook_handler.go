package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/lumicrm/mailsync/internal/sync"
)

// webhookTimeout bounds the background sync a notification kicks off.
const webhookTimeout = 5 * time.Minute

// maxWebhookBody caps what a delivery may post; real notifications are tiny.
const maxWebhookBody = 64 * 1024

// PushReceiver handles a decoded push notification. *sync.PushBridge is the
// production implementation.
type PushReceiver interface {
	Handle(ctx context.Context, n sync.Notification) error
}

// WebhookHandler receives provider push deliveries. Providers require a fast
// 2xx and redeliver on timeout, so the handler acknowledges as soon as the
// payload is decoded and does the sync work in the background.
type WebhookHandler struct {
	bridge PushReceiver
}

func NewWebhookHandler(bridge PushReceiver) *WebhookHandler {
	return &WebhookHandler{bridge: bridge}
}

// pubSubEnvelope is the Google Pub/Sub push wrapper: the interesting payload
// is base64 inside message.data.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushPayload is the notification body itself. historyId is a number in
// Gmail's JSON and a string in ours; json.Number absorbs both.
type pushPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	notification, err := decodeNotification(r)
	if err != nil {
		log.Printf("WebhookHandler: rejecting malformed delivery: %v", err)
		http.Error(w, "Invalid notification payload", http.StatusBadRequest)
		return
	}

	// Acknowledge before syncing: a slow mailbox must not make the
	// provider redeliver.
	w.WriteHeader(http.StatusNoContent)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := h.bridge.Handle(ctx, notification); err != nil {
			log.Printf("WebhookHandler: push for %s failed: %v", notification.EmailAddress, err)
		}
	}()
}

// decodeNotification accepts both the Pub/Sub envelope and a bare payload, so
// non-Gmail providers can post the notification shape directly.
func decodeNotification(r *http.Request) (sync.Notification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return sync.Notification{}, err
	}

	var payload pushPayload

	var envelope pubSubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return sync.Notification{}, err
	}

	if envelope.Message.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return sync.Notification{}, err
		}
		if err := json.Unmarshal(decoded, &payload); err != nil {
			return sync.Notification{}, err
		}
	} else if err := json.Unmarshal(body, &payload); err != nil {
		return sync.Notification{}, err
	}

	if payload.EmailAddress == "" {
		return sync.Notification{}, fmt.Errorf("notification has no email address")
	}

	return sync.Notification{
		EmailAddress: payload.EmailAddress,
		HistoryID:    payload.HistoryID.String(),
	}, nil
}
