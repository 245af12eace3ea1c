// Package pgstore implements notifications.Storage on PostgreSQL with pgx.
//
// Schema migrations are embedded and applied with goose through pg.Migrate:
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, logger); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
//
// Delivery transitions are single conditional updates
// (status = ANY(allowed predecessors)), so concurrent writers cannot move a
// delivery backwards. The package also reads the business tables the
// periodic dispatch jobs poll: attendance records, onboarding milestones
// and reminders.
package pgstore
