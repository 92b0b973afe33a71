// Package database provides the SQLite connection behind the device hub's
// warm-start snapshot store.
//
// It opens the database with WAL mode and a busy timeout, applies forward
// migrations from MigrationsFS (set by the migrations package), and offers a
// health check. Migrations are additive: new columns must be nullable or
// carry a default.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
