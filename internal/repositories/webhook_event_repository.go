package repositories

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

// WebhookEventRepository stores the processed-event markers used for
// webhook idempotency. The processor event ID is the natural key.
type WebhookEventRepository interface {
	GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	// MarkProcessed inserts the marker, returning true when this call won
	// the insert and false when the event was already recorded.
	MarkProcessed(ctx context.Context, e *models.WebhookEvent) (bool, error)
}

type webhookEventRepo struct {
	db DB
}

func NewWebhookEventRepository(db DB) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	q := `SELECT event_id, processor, event_type, received_at FROM webhook_events WHERE event_id = $1`
	var e models.WebhookEvent
	err := r.db.QueryRow(ctx, q, eventID).Scan(&e.EventID, &e.Processor, &e.EventType, &e.ReceivedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	q := `
		INSERT INTO webhook_events (event_id, processor, event_type, received_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, q, e.EventID, e.Processor, e.EventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
