//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"tributary/source/nakadi"
)

func setupCursorManager(t *testing.T) *CursorManager {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "host=localhost port=5432 user=test password=test dbname=tributary_test sslmode=disable"
	}
	ctx := context.Background()
	m, err := Open(ctx, databaseURL, "integration_cursors", nil)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := m.InitSchema(ctx); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	if _, err := m.db.Exec("DELETE FROM " + m.Table()); err != nil {
		t.Fatalf("Failed to clean up test data: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCursorManager_CommitAndResume(t *testing.T) {
	m := setupCursorManager(t)
	ctx := context.Background()

	for _, c := range []nakadi.Cursor{
		{Partition: "0", Offset: "001-0001-10"},
		{Partition: "1", Offset: "001-0001-20"},
		{Partition: "0", Offset: "001-0001-11"},
	} {
		if err := m.OnSuccess(ctx, "order.created", c); err != nil {
			t.Fatalf("OnSuccess: %v", err)
		}
	}

	cursors, err := m.Cursors(ctx, "order.created")
	if err != nil {
		t.Fatalf("Cursors: %v", err)
	}
	if len(cursors) != 2 {
		t.Fatalf("expected 2 cursors, got %d", len(cursors))
	}
	if cursors[0].Partition != "0" || cursors[0].Offset != "001-0001-11" {
		t.Errorf("partition 0: got %+v", cursors[0])
	}
	if cursors[1].Partition != "1" || cursors[1].Offset != "001-0001-20" {
		t.Errorf("partition 1: got %+v", cursors[1])
	}

	other, err := m.Cursors(ctx, "order.cancelled")
	if err != nil {
		t.Fatalf("Cursors: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no cursors for another event type, got %v", other)
	}
}

func TestCursorManager_LockResumesFromStore(t *testing.T) {
	m := setupCursorManager(t)
	ctx := context.Background()
	if err := m.OnSuccess(ctx, "order.created", nakadi.Cursor{Partition: "1", Offset: "42"}); err != nil {
		t.Fatalf("OnSuccess: %v", err)
	}

	policy := nakadi.LowLevel("order.created").WithLock(nakadi.PartitionAssignment{Partitions: []string{"0", "1"}}, true)
	cursors, err := nakadi.ResumeCursors(ctx, m, policy, false)
	if err != nil {
		t.Fatalf("ResumeCursors: %v", err)
	}
	if len(cursors) != 2 || cursors[0].Offset != nakadi.OffsetBegin || cursors[1].Offset != "42" {
		t.Fatalf("unexpected resume cursors %+v", cursors)
	}
}
