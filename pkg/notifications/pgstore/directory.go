package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

// Directory reads contact data from the user_contacts table, which the
// people subsystem keeps in sync.
type Directory struct {
	pool *pgxpool.Pool
}

var _ notifications.Directory = (*Directory)(nil)

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Contact returns the contact of userID. Unknown users get an empty contact,
// which makes address-based channels skip them.
func (d *Directory) Contact(ctx context.Context, userID string) (notifications.Contact, error) {
	c := notifications.Contact{UserID: userID}
	err := d.pool.QueryRow(ctx,
		`SELECT name, email, locale FROM user_contacts WHERE user_id = $1`, userID,
	).Scan(&c.Name, &c.Email, &c.Locale)
	if err != nil && !pg.IsNotFoundError(err) {
		return c, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// SaveContact upserts a contact row.
func (d *Directory) SaveContact(ctx context.Context, c notifications.Contact) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO user_contacts (user_id, name, email, locale) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, locale = EXCLUDED.locale`,
		c.UserID, c.Name, c.Email, c.Locale)
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}
