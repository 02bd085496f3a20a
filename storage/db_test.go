package storage

import (
	"context"
	"strings"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemoryDB(nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectFinishBracketing(t *testing.T) {
	db := newTestDB(t)

	if db.Connected() {
		t.Error("fresh session should not be connected")
	}
	if status := db.Connect(); status != StatusOK {
		t.Fatalf("Connect = %d", status)
	}
	if status := db.Connect(); status != StatusOK {
		t.Fatalf("nested Connect = %d", status)
	}
	if !db.Connected() {
		t.Error("should be connected inside brackets")
	}
	if status := db.Finish(); status != StatusOK {
		t.Fatalf("Finish = %d", status)
	}
	if status := db.Finish(); status != StatusOK {
		t.Fatalf("Finish = %d", status)
	}
	if status := db.Finish(); status != StatusErrorUnconnected {
		t.Errorf("unbalanced Finish = %d, want %d", status, StatusErrorUnconnected)
	}
}

func TestTxnCallbacksFireOnCommit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var events []TxnEvent
	db.OnTxnEnd(func(ev TxnEvent) { events = append(events, ev) })

	if err := db.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := db.Exec(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if err := db.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if len(events) != 1 || events[0] != TxnCommit {
		t.Errorf("events = %v, want [commit]", events)
	}
}

func TestTxnCallbacksFireOnRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var events []TxnEvent
	db.OnTxnEnd(func(ev TxnEvent) { events = append(events, ev) })

	if err := db.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := db.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if len(events) != 1 || events[0] != TxnRollback {
		t.Errorf("events = %v, want [rollback]", events)
	}
}

func TestTxnCallbacksFireWithoutOpenTxn(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fired := 0
	db.OnTxnEnd(func(TxnEvent) { fired++ })

	// A boundary without an open transaction still tears down.
	db.Rollback(ctx)
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestQueryInsideTxnSeesWrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(ctx, "CREATE TABLE items (name TEXT)"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if err := db.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := db.Exec(ctx, "INSERT INTO items VALUES ('widget')"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	rs, err := db.Query(ctx, "SELECT name FROM items")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rs.Rows))
	}
	if err := db.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	rs, err = db.Query(ctx, "SELECT name FROM items")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rs.Rows) != 0 {
		t.Errorf("rollback should discard the insert, got %d rows", len(rs.Rows))
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status   int
		contains string
	}{
		{StatusErrorConnect, "establish"},
		{StatusErrorUnconnected, "not connected"},
		{StatusErrorTransaction, "current transaction is aborted"},
	}
	for _, tc := range tests {
		got := FormatStatus(tc.status)
		if !strings.Contains(strings.ToLower(got), tc.contains) {
			t.Errorf("FormatStatus(%d) = %q, want substring %q", tc.status, got, tc.contains)
		}
	}
}
