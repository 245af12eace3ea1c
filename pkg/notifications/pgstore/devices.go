package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

func (s *Store) RegisterDevice(ctx context.Context, d notifications.DeviceToken) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_tokens (token, user_id, platform, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET
			created_at = CASE WHEN device_tokens.user_id = EXCLUDED.user_id
				THEN device_tokens.created_at ELSE EXCLUDED.created_at END,
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			revoked_at = NULL`,
		d.Token, d.UserID, d.Platform, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (s *Store) RevokeDevice(ctx context.Context, token string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE device_tokens SET revoked_at = $2 WHERE token = $1 AND revoked_at IS NULL`, token, at)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	return nil
}

func (s *Store) ListActiveDevices(ctx context.Context, userID string) ([]notifications.DeviceToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, user_id, platform, created_at, revoked_at FROM device_tokens
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY created_at, token`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.DeviceToken, error) {
		var d notifications.DeviceToken
		err := row.Scan(&d.Token, &d.UserID, &d.Platform, &d.CreatedAt, &d.RevokedAt)
		return d, err
	})
}

func (s *Store) GetTemplate(ctx context.Context, typeID int64, ch notifications.Channel, locale string) (*notifications.Template, error) {
	var (
		t       notifications.Template
		channel string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT type_id, channel, locale, subject, body, updated_at FROM notification_templates
		WHERE type_id = $1 AND channel = $2 AND locale = $3`, typeID, string(ch), locale,
	).Scan(&t.TypeID, &channel, &t.Locale, &t.Subject, &t.Body, &t.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	t.Channel = notifications.Channel(channel)
	return &t, nil
}

func (s *Store) SaveTemplate(ctx context.Context, t notifications.Template) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_templates (type_id, channel, locale, subject, body, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (type_id, channel, locale) DO UPDATE SET
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at`,
		t.TypeID, string(t.Channel), t.Locale, t.Subject, t.Body, t.UpdatedAt)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return fmt.Errorf("%w: id %d", notifications.ErrUnknownType, t.TypeID)
		}
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}
