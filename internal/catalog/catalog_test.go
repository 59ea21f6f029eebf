package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sqlrestore/internal/plan"
)

func testCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCatalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testEntry(db string, success bool, at time.Time) *Entry {
	return &Entry{
		Server:      "srv1:1433",
		Database:    db,
		Action:      "Database",
		BackupFiles: `\\srv\b\full.bak`,
		TargetTime:  "Latest",
		SizeBytes:   1024,
		DurationMS:  1500,
		Success:     success,
		CreatedAt:   at,
	}
}

func TestRecordAndList(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, e := range []*Entry{
		testEntry("db1", true, now.Add(-2*time.Hour)),
		testEntry("db1", false, now.Add(-time.Hour)),
		testEntry("db2", true, now),
	} {
		if err := c.Record(ctx, e); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if e.ID == 0 {
			t.Errorf("Record %d did not assign an ID", i)
		}
	}

	all, err := c.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List = %d entries, want 3", len(all))
	}
	if all[0].Database != "db2" {
		t.Errorf("newest-first ordering broken: first is %s", all[0].Database)
	}

	db1, err := c.List(ctx, Query{Database: "db1"})
	if err != nil {
		t.Fatalf("List db1: %v", err)
	}
	if len(db1) != 2 {
		t.Errorf("db1 entries = %d, want 2", len(db1))
	}

	ok, err := c.List(ctx, Query{Database: "db1", OnlyOK: true})
	if err != nil {
		t.Fatalf("List db1 ok: %v", err)
	}
	if len(ok) != 1 || !ok[0].Success {
		t.Errorf("OnlyOK filter broken: %+v", ok)
	}
}

func TestLastSuccessful(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if e, err := c.LastSuccessful(ctx, "db1"); err != nil || e != nil {
		t.Fatalf("empty catalog: entry=%v err=%v", e, err)
	}

	_ = c.Record(ctx, testEntry("db1", true, now.Add(-time.Hour)))
	_ = c.Record(ctx, testEntry("db1", false, now))

	e, err := c.LastSuccessful(ctx, "db1")
	if err != nil {
		t.Fatalf("LastSuccessful: %v", err)
	}
	if e == nil || !e.Success {
		t.Fatalf("LastSuccessful = %+v, want the older successful entry", e)
	}
}

func TestRestoredSinceAndPrune(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = c.Record(ctx, testEntry("db1", true, now.AddDate(0, 0, -40)))
	_ = c.Record(ctx, testEntry("db2", true, now))

	recent, err := c.RestoredSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("RestoredSince: %v", err)
	}
	if len(recent) != 1 || recent[0].Database != "db2" {
		t.Errorf("RestoredSince = %+v, want only db2", recent)
	}

	pruned, err := c.Prune(ctx, 30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune = %d, want 1", pruned)
	}

	if _, err := c.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should refuse to delete everything")
	}
}

func TestEntryFromStep(t *testing.T) {
	step := &plan.Step{
		Database:   "db1",
		Action:     plan.ActionLog,
		Files:      []string{`\\srv\b\log1.trn`, `\\srv\b\log2.trn`},
		NoRecovery: true,
		TotalSize:  2048,
		ToPointInTime: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
	}

	e := EntryFromStep("srv1:1433", step, false, errors.New("device offline"), 42*time.Second, false)
	if e.Action != "Log" || !e.NoRecovery || e.Success {
		t.Errorf("projection wrong: %+v", e)
	}
	if e.BackupFiles != `\\srv\b\log1.trn;\\srv\b\log2.trn` {
		t.Errorf("BackupFiles = %q", e.BackupFiles)
	}
	if e.TargetTime != "2024-03-15T09:00:00Z" {
		t.Errorf("TargetTime = %q", e.TargetTime)
	}
	if e.DurationMS != 42000 {
		t.Errorf("DurationMS = %d", e.DurationMS)
	}
	if e.Error != "device offline" {
		t.Errorf("Error = %q", e.Error)
	}
}
