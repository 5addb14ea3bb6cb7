package shared

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// busyError provokes a real SQLITE_BUSY: one connection holds an exclusive
// transaction while another tries to write without a busy timeout.
func busyError(t *testing.T) error {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "busy.db")

	holder, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	t.Cleanup(func() { _ = holder.Close() })
	if _, err := holder.ExecContext(ctx, `CREATE TABLE item (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatalf("holder conn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := conn.ExecContext(ctx, `BEGIN EXCLUSIVE`); err != nil {
		t.Fatalf("begin exclusive: %v", err)
	}
	t.Cleanup(func() { _, _ = conn.ExecContext(ctx, `ROLLBACK`) })

	writer, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(0)")
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })

	_, err = writer.ExecContext(ctx, `INSERT INTO item (id) VALUES (1)`)
	if err == nil {
		t.Fatal("expected the write to conflict with the exclusive transaction")
	}
	return err
}

func TestIsSQLiteConflictErrorUsesDriverCode(t *testing.T) {
	t.Parallel()

	busy := busyError(t)
	if !IsSQLiteBusyError(busy) {
		t.Fatalf("expected SQLITE_BUSY, got %v", busy)
	}
	if IsSQLiteLockedError(busy) {
		t.Fatal("busy is not a shared-cache lock")
	}
	if !IsSQLiteConflictError(fmt.Errorf("set busy: %w", busy)) {
		t.Fatal("wrapped driver errors must still classify")
	}

	if IsSQLiteConflictError(nil) {
		t.Fatal("nil is not a conflict")
	}
	if IsSQLiteConflictError(errors.New("database is locked")) {
		t.Fatal("plain text errors are not driver conflicts")
	}
}

func TestIsSQLiteConflictErrorIgnoresOtherDriverErrors(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`SELECT * FROM missing_table`)
	if err == nil {
		t.Fatal("expected a schema error")
	}
	if IsSQLiteConflictError(err) {
		t.Fatalf("schema error must not be retried: %v", err)
	}
}
