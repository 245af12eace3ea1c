package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

const preferenceColumns = `user_id, type_id, channel, enabled, updated_at`

func collectPreferences(rows pgx.Rows) ([]notifications.ChannelPreference, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.ChannelPreference, error) {
		var (
			p       notifications.ChannelPreference
			channel string
		)
		err := row.Scan(&p.UserID, &p.TypeID, &channel, &p.Enabled, &p.UpdatedAt)
		p.Channel = notifications.Channel(channel)
		return p, err
	})
}

func (s *Store) ListPreferences(ctx context.Context, userID string) ([]notifications.ChannelPreference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preferences
		WHERE user_id = $1
		ORDER BY type_id, channel`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return collectPreferences(rows)
}

func (s *Store) ListPreferencesFor(ctx context.Context, userIDs []string, typeID int64) ([]notifications.ChannelPreference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preferences
		WHERE type_id = $1 AND user_id = ANY($2::text[])
		ORDER BY user_id, channel`, typeID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return collectPreferences(rows)
}

func (s *Store) SavePreferences(ctx context.Context, userID string, prefs []notifications.ChannelPreference) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range prefs {
			updated := p.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			batch.Queue(`
				INSERT INTO notification_preferences (user_id, type_id, channel, enabled, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id, type_id, channel) DO UPDATE SET
					enabled = EXCLUDED.enabled,
					updated_at = EXCLUDED.updated_at`,
				userID, p.TypeID, string(p.Channel), p.Enabled, updated)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return fmt.Errorf("%w: %w", notifications.ErrUnknownType, err)
		}
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
