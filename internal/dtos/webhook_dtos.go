package dtos

// WebhookAckResponse is returned to the payment processor for every
// accepted delivery, including duplicates and ignored event types.
type WebhookAckResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Skipped   bool   `json:"skipped"`
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType,omitempty"`
}
