package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepo — журнал отправленных уведомлений. Уникальный ключ в
// notification_log гарантирует не больше одной отправки на событие.
type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

// ReserveOnce reports whether this process won the right to send the
// notification for the key. Losers get false, not an error.
func (r *NotificationRepo) ReserveOnce(ctx context.Context, key, kind string, recipientID *uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notification_log (idempotency_key, kind, recipient_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, kind, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
