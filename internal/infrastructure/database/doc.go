// Package database provides the SQLite store used by the bridge.
//
// The database holds data that must outlive a restart but is not needed to
// rebuild the device registry:
//   - energy meter totals, so published kWh stays monotonic
//   - state history snapshots, served by the HTTP API
//   - the command audit log
//
// Migrations are plain .up.sql/.down.sql files read from an fs.FS, normally
// the embedded filesystem in the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
