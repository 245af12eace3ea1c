package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

const notificationColumns = `
	n.id, t.code, n.inbox_code, n.importance, n.title, n.message, n.payload,
	COALESCE(n.task_id, ''), COALESCE(n.absence_id, ''), COALESCE(n.event_id, ''), COALESCE(n.chat_thread_id, ''),
	COALESCE(n.thread_key, ''), COALESCE(n.dedupe_key, ''), n.created_at, n.scheduled_for, n.dispatched_at`

// scanNotification reads notificationColumns followed by extra destinations.
func scanNotification(row pgx.Row, extra ...any) (*notifications.Notification, error) {
	var (
		n          notifications.Notification
		importance int
		payload    []byte
	)
	dest := []any{
		&n.ID, &n.TypeCode, &n.Inbox, &importance, &n.Title, &n.Message, &payload,
		&n.Refs.TaskID, &n.Refs.AbsenceID, &n.Refs.EventID, &n.Refs.ChatThreadID,
		&n.ThreadKey, &n.DedupeKey, &n.CreatedAt, &n.ScheduledFor, &n.DispatchedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	n.Importance = notifications.Importance(importance)
	if len(payload) > 0 && string(payload) != "{}" && string(payload) != "null" {
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n notifications.Notification, recipients []notifications.Recipient) error {
	payload := []byte("{}")
	if n.Payload != nil {
		b, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("%w: %w", notifications.ErrInvalidPayload, err)
		}
		payload = b
	}

	ids := make([]string, 0, len(recipients))
	users := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID)
		users = append(users, r.UserID)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO notifications (
				id, type_id, inbox_code, importance, title, message, payload,
				task_id, absence_id, event_id, chat_thread_id, thread_key, dedupe_key,
				created_at, scheduled_for, dispatched_at
			)
			SELECT $1::uuid, t.id, $3::text, $4::smallint, $5::text, $6::text, $7::jsonb,
				NULLIF($8::text, ''), NULLIF($9::text, ''), NULLIF($10::text, ''), NULLIF($11::text, ''),
				NULLIF($12::text, ''), NULLIF($13::text, ''),
				$14::timestamptz, $15::timestamptz, $16::timestamptz
			FROM notification_types t WHERE t.code = $2`,
			n.ID, n.TypeCode, n.Inbox, int(n.Importance), n.Title, n.Message, payload,
			n.Refs.TaskID, n.Refs.AbsenceID, n.Refs.EventID, n.Refs.ChatThreadID, n.ThreadKey, n.DedupeKey,
			n.CreatedAt, n.ScheduledFor, n.DispatchedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notifications.ErrUnknownType
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO notification_recipients (id, notification_id, user_id, created_at)
			SELECT r.id::uuid, $2::uuid, r.user_id, $4::timestamptz
			FROM unnest($1::text[], $3::text[]) AS r(id, user_id)
			ON CONFLICT (notification_id, user_id) DO NOTHING`,
			ids, n.ID, users, n.CreatedAt,
		)
		return err
	})
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err) && n.DedupeKey != "":
		return notifications.ErrDuplicateNotification
	default:
		return fmt.Errorf("create notification: %w", err)
	}
}

func (s *Store) GetNotification(ctx context.Context, id string) (*notifications.Notification, error) {
	return s.getNotification(ctx, `n.id = $1`, id)
}

func (s *Store) GetNotificationByDedupeKey(ctx context.Context, key string) (*notifications.Notification, error) {
	return s.getNotification(ctx, `n.dedupe_key = $1`, key)
}

func (s *Store) getNotification(ctx context.Context, where string, arg any) (*notifications.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications n
		JOIN notification_types t ON t.id = n.type_id
		WHERE `+where, arg)
	n, err := scanNotification(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

const recipientColumns = `r.id, r.notification_id, r.user_id, r.seen_at, r.read_at, r.dismissed_at, r.archived_at, r.pin_order, r.created_at`

func recipientDest(r *notifications.Recipient) []any {
	return []any{&r.ID, &r.NotificationID, &r.UserID, &r.SeenAt, &r.ReadAt, &r.DismissedAt, &r.ArchivedAt, &r.PinOrder, &r.CreatedAt}
}

func scanRecipient(row pgx.Row) (*notifications.Recipient, error) {
	var r notifications.Recipient
	if err := row.Scan(recipientDest(&r)...); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRecipients(ctx context.Context, notificationID string) ([]notifications.Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recipientColumns+`
		FROM notification_recipients r
		WHERE r.notification_id = $1
		ORDER BY r.created_at, r.user_id`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Recipient, error) {
		r, err := scanRecipient(row)
		if err != nil {
			return notifications.Recipient{}, err
		}
		return *r, nil
	})
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notifications.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE notifications SET dispatched_at = $1
			WHERE id IN (
				SELECT id FROM notifications
				WHERE dispatched_at IS NULL AND scheduled_for <= $1
				ORDER BY scheduled_for
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT `+notificationColumns+`
		FROM claimed n
		JOIN notification_types t ON t.id = n.type_id
		ORDER BY n.scheduled_for, n.id`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Notification, error) {
		n, err := scanNotification(row)
		if err != nil {
			return notifications.Notification{}, err
		}
		return *n, nil
	})
}
