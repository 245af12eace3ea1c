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

const deliveryColumns = `
	id, notification_id, recipient_id, user_id, channel, status, subject, body,
	tracking_token, provider_id, token_results, attempt_count, last_error,
	created_at, updated_at, sent_at, delivered_at, opened_at, read_at, failed_at`

func scanDelivery(row pgx.Row) (*notifications.Delivery, error) {
	var (
		d               notifications.Delivery
		channel, status string
		results         []byte
	)
	err := row.Scan(
		&d.ID, &d.NotificationID, &d.RecipientID, &d.UserID, &channel, &status, &d.Subject, &d.Body,
		&d.TrackingToken, &d.ProviderID, &results, &d.AttemptCount, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt, &d.SentAt, &d.DeliveredAt, &d.OpenedAt, &d.ReadAt, &d.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Channel = notifications.Channel(channel)
	d.Status = notifications.DeliveryStatus(status)
	if len(results) > 0 {
		if err := json.Unmarshal(results, &d.TokenResults); err != nil {
			return nil, fmt.Errorf("decode token results: %w", err)
		}
		if len(d.TokenResults) == 0 {
			d.TokenResults = nil
		}
	}
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]notifications.Delivery, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Delivery, error) {
		d, err := scanDelivery(row)
		if err != nil {
			return notifications.Delivery{}, err
		}
		return *d, nil
	})
}

func encodeResults(results []notifications.TokenResult) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	return json.Marshal(results)
}

func (s *Store) CreateDelivery(ctx context.Context, d notifications.Delivery) (*notifications.Delivery, bool, error) {
	results, err := encodeResults(d.TokenResults)
	if err != nil {
		return nil, false, err
	}
	if results == nil {
		results = []byte("[]")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notification_deliveries (
			id, notification_id, recipient_id, user_id, channel, status, subject, body,
			tracking_token, provider_id, token_results, attempt_count, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (recipient_id, channel) DO NOTHING
		RETURNING `+deliveryColumns,
		d.ID, d.NotificationID, d.RecipientID, d.UserID, string(d.Channel), string(d.Status), d.Subject, d.Body,
		d.TrackingToken, d.ProviderID, results, d.AttemptCount, d.LastError, d.CreatedAt, d.UpdatedAt,
	)
	created, err := scanDelivery(row)
	if err == nil {
		return created, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("create delivery: %w", err)
	}
	existing, err := scanDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM notification_deliveries WHERE recipient_id = $1 AND channel = $2`,
		d.RecipientID, string(d.Channel),
	))
	if err != nil {
		return nil, false, fmt.Errorf("load existing delivery: %w", err)
	}
	return existing, false, nil
}

func (s *Store) TransitionDelivery(ctx context.Context, id string, tr notifications.Transition) (*notifications.Delivery, bool, error) {
	results, err := encodeResults(tr.TokenResults)
	if err != nil {
		return nil, false, err
	}
	allowed := make([]string, 0, len(notifications.Statuses))
	for _, st := range notifications.AllowedFrom(tr.To) {
		allowed = append(allowed, string(st))
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE notification_deliveries SET
			status        = $2::text,
			updated_at    = $3,
			sent_at       = CASE WHEN $2::text = 'sent' THEN $3 ELSE sent_at END,
			delivered_at  = CASE WHEN $2::text = 'delivered' THEN $3 ELSE delivered_at END,
			opened_at     = CASE WHEN $2::text = 'opened' THEN $3 ELSE opened_at END,
			read_at       = CASE WHEN $2::text = 'read' THEN $3 ELSE read_at END,
			failed_at     = CASE WHEN $2::text = 'failed' THEN $3 ELSE failed_at END,
			attempt_count = attempt_count + CASE WHEN $2::text IN ('sent', 'failed') THEN 1 ELSE 0 END,
			last_error    = CASE WHEN $2::text = 'failed' THEN $4::text ELSE last_error END,
			provider_id   = CASE WHEN $5::text <> '' THEN $5::text ELSE provider_id END,
			token_results = COALESCE($6::jsonb, token_results)
		WHERE id = $1 AND status = ANY($7::text[])
		RETURNING `+deliveryColumns,
		id, string(tr.To), tr.At, tr.Error, tr.ProviderID, results, allowed,
	)
	d, err := scanDelivery(row)
	if err == nil {
		return d, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("transition delivery: %w", err)
	}
	current, err := s.GetDelivery(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *Store) getDelivery(ctx context.Context, where string, args ...any) (*notifications.Delivery, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries WHERE `+where, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*notifications.Delivery, error) {
	return s.getDelivery(ctx, `id = $1`, id)
}

func (s *Store) GetDeliveryByToken(ctx context.Context, token string) (*notifications.Delivery, error) {
	return s.getDelivery(ctx, `tracking_token = $1`, token)
}

func (s *Store) GetDeliveryByProviderID(ctx context.Context, ch notifications.Channel, providerID string) (*notifications.Delivery, error) {
	if providerID == "" {
		return nil, notifications.ErrDeliveryNotFound
	}
	return s.getDelivery(ctx, `channel = $1 AND provider_id = $2 ORDER BY created_at LIMIT 1`, string(ch), providerID)
}

func (s *Store) ListDeliveries(ctx context.Context, recipientID string) ([]notifications.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM notification_deliveries
		WHERE recipient_id = $1
		ORDER BY created_at, array_position(ARRAY['in_app', 'email', 'push'], channel), id`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

func (s *Store) ListStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]notifications.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM notification_deliveries
		WHERE status = 'queued' AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale deliveries: %w", err)
	}
	return collectDeliveries(rows)
}
