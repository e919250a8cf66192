// Package database provides the SQLite connection used by the event journal.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Health checks for the status server
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
