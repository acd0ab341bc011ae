package notify

// Event is handed to the notification layer when a new message is ingested.
// Delivery (in-app, push) is the CRM layer's concern; this core only publishes.
type Event struct {
	AccountID      string `json:"account_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	FromEmail      string `json:"from_email"`
	Subject        string `json:"subject"`
}

// Notifier receives ingestion events. The websocket Hub is the production
// implementation; tests use fakes.
type Notifier interface {
	NewMessage(event Event)
}

// Discard is a Notifier that drops everything, for tools and tests.
type Discard struct{}

func (Discard) NewMessage(Event) {}
