package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

func (s *Store) GetRecipient(ctx context.Context, userID, recipientID string) (*notifications.Recipient, error) {
	r, err := scanRecipient(s.pool.QueryRow(ctx, `
		SELECT `+recipientColumns+` FROM notification_recipients r
		WHERE r.id = $1 AND r.user_id = $2`, recipientID, userID))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return r, nil
}

// recipientSet maps an inbox action to its SET clause. Placeholders start
// at $3; $1 and $2 are the recipient and user IDs.
func recipientSet(upd notifications.RecipientUpdate) (string, []any, error) {
	switch upd.Action {
	case notifications.ActionSeen:
		return `seen_at = COALESCE(seen_at, $3)`, []any{upd.At}, nil
	case notifications.ActionRead:
		return `seen_at = COALESCE(seen_at, $3), read_at = COALESCE(read_at, $3)`, []any{upd.At}, nil
	case notifications.ActionDismiss:
		return `dismissed_at = COALESCE(dismissed_at, $3)`, []any{upd.At}, nil
	case notifications.ActionArchive:
		return `archived_at = COALESCE(archived_at, $3)`, []any{upd.At}, nil
	case notifications.ActionUnarchive:
		return `archived_at = NULL`, nil, nil
	case notifications.ActionPin:
		return `pin_order = $3`, []any{upd.PinOrder}, nil
	case notifications.ActionUnpin:
		return `pin_order = NULL`, nil, nil
	}
	return "", nil, fmt.Errorf("%w: %q", notifications.ErrInvalidAction, upd.Action)
}

func (s *Store) UpdateRecipient(ctx context.Context, userID, recipientID string, upd notifications.RecipientUpdate) (*notifications.Recipient, error) {
	set, extra, err := recipientSet(upd)
	if err != nil {
		return nil, err
	}
	args := append([]any{recipientID, userID}, extra...)
	r, err := scanRecipient(s.pool.QueryRow(ctx, `
		UPDATE notification_recipients r SET `+set+`
		WHERE r.id = $1 AND r.user_id = $2
		RETURNING `+recipientColumns, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("update recipient: %w", err)
	}
	return r, nil
}

func (s *Store) MarkRecipientRead(ctx context.Context, recipientID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_recipients
		SET seen_at = COALESCE(seen_at, $2), read_at = $2
		WHERE id = $1 AND read_at IS NULL`, recipientID, at)
	if err != nil {
		return false, fmt.Errorf("mark recipient read: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notification_recipients WHERE id = $1)`, recipientID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check recipient: %w", err)
	}
	if !exists {
		return false, notifications.ErrRecipientNotFound
	}
	return false, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID, inbox string, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE notification_recipients r
		SET seen_at = COALESCE(r.seen_at, $2), read_at = $2
		FROM notifications n
		WHERE n.id = r.notification_id
			AND r.user_id = $1
			AND r.read_at IS NULL
			AND r.dismissed_at IS NULL
			AND r.archived_at IS NULL
			AND n.dispatched_at IS NOT NULL
			AND ($3::text = '' OR n.inbox_code = $3::text)
		RETURNING r.id`, userID, at, inbox)
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	return ids, nil
}

var refColumns = map[notifications.RefKind]string{
	notifications.RefTask:       "n.task_id",
	notifications.RefAbsence:    "n.absence_id",
	notifications.RefEvent:      "n.event_id",
	notifications.RefChatThread: "n.chat_thread_id",
}

type whereBuilder struct {
	conds []string
	args  []any
}

// add appends cond with its %[1]d placeholder bound to v.
func (w *whereBuilder) add(cond string, v any) {
	w.args = append(w.args, v)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) sql() string {
	return strings.Join(w.conds, " AND ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func inboxFilter(userID string, opts notifications.ListOptions) *whereBuilder {
	w := &whereBuilder{}
	w.add("r.user_id = $%[1]d", userID)
	w.conds = append(w.conds, "r.dismissed_at IS NULL", "n.dispatched_at IS NOT NULL")
	if !opts.IncludeArchived {
		w.conds = append(w.conds, "r.archived_at IS NULL")
	}
	if opts.OnlyUnread {
		w.conds = append(w.conds, "r.read_at IS NULL")
	}
	if opts.Inbox != "" {
		w.add("n.inbox_code = $%[1]d", opts.Inbox)
	}
	if opts.ThreadKey != "" {
		w.add("n.thread_key = $%[1]d", opts.ThreadKey)
	}
	if opts.Ref != nil {
		col, ok := refColumns[opts.Ref.Kind]
		if !ok || opts.Ref.ID == "" {
			w.conds = append(w.conds, "FALSE")
		} else {
			w.add(col+" = $%[1]d", opts.Ref.ID)
		}
	}
	if opts.Search != "" {
		w.add("(n.title ILIKE $%[1]d OR n.message ILIKE $%[1]d)", "%"+escapeLike(opts.Search)+"%")
	}
	return w
}

func inboxOrder(sort notifications.SortOrder) string {
	pinned := "(r.pin_order IS NULL), r.pin_order, "
	switch sort {
	case notifications.SortOldest:
		return pinned + "n.created_at ASC, r.id ASC"
	case notifications.SortImportance:
		return pinned + "n.importance DESC, n.created_at DESC, r.id DESC"
	default:
		return pinned + "n.created_at DESC, r.id DESC"
	}
}

func (s *Store) ListInbox(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.InboxItem, int, error) {
	opts = opts.Normalize()
	w := inboxFilter(userID, opts)
	from := `
		FROM notification_recipients r
		JOIN notifications n ON n.id = r.notification_id
		JOIN notification_types t ON t.id = n.type_id
		WHERE ` + w.sql()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) `+from, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inbox: %w", err)
	}

	args := append(append([]any{}, w.args...), opts.Limit, opts.Offset)
	query := fmt.Sprintf(`SELECT %s, %s %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		notificationColumns, recipientColumns, from, inboxOrder(opts.Sort), len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list inbox: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.InboxItem, error) {
		var r notifications.Recipient
		n, err := scanNotification(row, recipientDest(&r)...)
		if err != nil {
			return notifications.InboxItem{}, err
		}
		return notifications.InboxItem{Recipient: r, Notification: *n}, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list inbox: %w", err)
	}
	return items, total, nil
}

func (s *Store) CountInbox(ctx context.Context, userID string) ([]notifications.InboxCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.code, COALESCE(c.unread, 0), COALESCE(c.total, 0)
		FROM notification_inboxes i
		LEFT JOIN (
			SELECT n.inbox_code,
				COUNT(*) FILTER (WHERE r.read_at IS NULL) AS unread,
				COUNT(*) AS total
			FROM notification_recipients r
			JOIN notifications n ON n.id = r.notification_id
			WHERE r.user_id = $1
				AND r.dismissed_at IS NULL
				AND r.archived_at IS NULL
				AND n.dispatched_at IS NOT NULL
			GROUP BY n.inbox_code
		) c ON c.inbox_code = i.code
		ORDER BY i.position, i.code`, userID)
	if err != nil {
		return nil, fmt.Errorf("count inbox: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.InboxCount, error) {
		var c notifications.InboxCount
		err := row.Scan(&c.Inbox, &c.Unread, &c.Total)
		return c, err
	})
}
