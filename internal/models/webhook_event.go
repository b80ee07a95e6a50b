package models

import "time"

// WebhookEvent is the durable record of a processor-delivered event, keyed
// by the processor's event identifier. The same event identifier is processed
// at most once; re-delivery is detected and skipped.
type WebhookEvent struct {
	EventID    string    `json:"event_id"`
	Processor  string    `json:"processor"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
}
