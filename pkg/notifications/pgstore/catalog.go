package pgstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

func (s *Store) UpsertInbox(ctx context.Context, in notifications.Inbox) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_inboxes (code, name, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, position = EXCLUDED.position`,
		in.Code, in.Name, in.Position,
	)
	if err != nil {
		return fmt.Errorf("upsert inbox: %w", err)
	}
	return nil
}

func (s *Store) ListInboxes(ctx context.Context) ([]notifications.Inbox, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, position FROM notification_inboxes ORDER BY position, code`)
	if err != nil {
		return nil, fmt.Errorf("list inboxes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Inbox, error) {
		var in notifications.Inbox
		err := row.Scan(&in.Code, &in.Name, &in.Position)
		return in, err
	})
}

const typeColumns = `id, code, name, inbox_code, importance, default_channels`

func scanType(row pgx.Row) (*notifications.NotificationType, error) {
	var (
		t          notifications.NotificationType
		importance int
		channels   []string
	)
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Inbox, &importance, &channels); err != nil {
		return nil, err
	}
	t.Importance = notifications.Importance(importance)
	t.DefaultChannels = toChannels(channels)
	return &t, nil
}

func (s *Store) UpsertType(ctx context.Context, t notifications.NotificationType) (*notifications.NotificationType, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notification_types (code, name, inbox_code, importance, default_channels)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			inbox_code = EXCLUDED.inbox_code,
			importance = EXCLUDED.importance,
			default_channels = EXCLUDED.default_channels
		RETURNING `+typeColumns,
		t.Code, t.Name, t.Inbox, int(t.Importance), fromChannels(t.DefaultChannels),
	)
	out, err := scanType(row)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return nil, fmt.Errorf("%w: %q", notifications.ErrUnknownInbox, t.Inbox)
		}
		return nil, fmt.Errorf("upsert type: %w", err)
	}
	return out, nil
}

func (s *Store) GetType(ctx context.Context, ref string) (*notifications.NotificationType, error) {
	var row pgx.Row
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		row = s.pool.QueryRow(ctx, `SELECT `+typeColumns+` FROM notification_types WHERE id = $1`, id)
	} else {
		row = s.pool.QueryRow(ctx, `SELECT `+typeColumns+` FROM notification_types WHERE code = $1`, ref)
	}
	t, err := scanType(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrUnknownType
		}
		return nil, fmt.Errorf("get type: %w", err)
	}
	return t, nil
}

func (s *Store) ListTypes(ctx context.Context) ([]notifications.NotificationType, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+typeColumns+` FROM notification_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.NotificationType, error) {
		t, err := scanType(row)
		if err != nil {
			return notifications.NotificationType{}, err
		}
		return *t, nil
	})
}

func toChannels(in []string) []notifications.Channel {
	out := make([]notifications.Channel, 0, len(in))
	for _, c := range in {
		out = append(out, notifications.Channel(c))
	}
	return out
}

func fromChannels(in []notifications.Channel) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, string(c))
	}
	return out
}
