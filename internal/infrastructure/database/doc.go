// Package database provides SQLite connectivity for Pill Fleet Core.
//
// This package manages:
//   - Database connection with WAL mode and enforced foreign keys
//   - Embedded schema migrations
//   - Transaction helpers shared by the repositories
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	err = database.WithTx(ctx, db, func(tx *sql.Tx) error {
//	    // mutation and its event log row commit together
//	    return nil
//	})
package database
