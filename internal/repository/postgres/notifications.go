package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"slotbook/internal/domain"
	"slotbook/internal/repository"
)

type NotificationRepo struct {
	store *Store
}

func (r *NotificationRepo) Insert(ctx context.Context, n *domain.Notification) error {
	const op = "postgres.NotificationRepo.Insert"

	_, err := r.store.db(ctx).Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, false, $5)`,
		n.ID, n.UserID, n.Type, n.Payload, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *NotificationRepo) ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Notification, error) {
	const op = "postgres.NotificationRepo.ListForUser"

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT id, user_id, type, payload, read, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// MarkRead flags a notification as read. The user filter keeps one user from
// acknowledging another user's notifications.
func (r *NotificationRepo) MarkRead(ctx context.Context, id uuid.UUID, userID int64) error {
	const op = "postgres.NotificationRepo.MarkRead"

	tag, err := r.store.db(ctx).Exec(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
