package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB opens a shared in-memory SQLite database with the same dual
// reader/writer split as production and applies all migrations. The database
// name is derived from the test name so parallel tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// The test name goes into a "file:..." DSN, so percent-encode it. WAL is
	// meaningless for in-memory databases and is left off.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		url.PathEscape(t.Name()),
	)

	open := func(maxConns int) *sql.DB {
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			t.Fatalf("open test db: %v", err)
		}
		conn.SetMaxOpenConns(maxConns)
		if err := conn.PingContext(context.Background()); err != nil {
			_ = conn.Close()
			t.Fatalf("ping test db: %v", err)
		}
		return conn
	}

	db := &DB{Writer: open(1), Reader: open(4), path: dsn}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return db
}
