// Package pg connects opshub to PostgreSQL through github.com/jackc/pgx/v5 and
// applies schema migrations with github.com/pressly/goose/v3.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), log); err != nil {
//		return err
//	}
//
// Error helpers such as IsDuplicateKeyError classify *pgconn.PgError values so
// storage code can coalesce unique-constraint conflicts.
package pg
