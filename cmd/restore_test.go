package cmd

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"sqlrestore/internal/history"
	"sqlrestore/internal/logger"
	"sqlrestore/internal/plan"
)

func resetRestoreFlags() {
	restoreTimeStr = ""
	restoreStopAfterStr = ""
	restorePages = nil
	restoreFileMappings = nil
	restoreForce = false
	restoreConfirm = false
	restoreDryRun = false
	restoreScriptOut = ""
}

// ---------------------------------------------------------------------------
// flag parsing
// ---------------------------------------------------------------------------

func TestBuildPlanOptionsParsesCompositeFlags(t *testing.T) {
	resetRestoreFlags()
	restoreTimeStr = "2024-03-15T09:30:00"
	restorePages = []string{"1:402", "1:819"}
	restoreFileMappings = []string{`Sales_Data=D:\data\Sales.mdf`}
	restoreForce = true

	opts, err := buildPlanOptions()
	if err != nil {
		t.Fatalf("buildPlanOptions: %v", err)
	}

	want := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	if !opts.RestoreTime.Equal(want) {
		t.Errorf("RestoreTime = %v, want %v", opts.RestoreTime, want)
	}
	if len(opts.Pages) != 2 || opts.Pages[1] != (plan.Page{FileID: 1, PageID: 819}) {
		t.Errorf("Pages = %+v", opts.Pages)
	}
	if opts.FileMappings["Sales_Data"] != `D:\data\Sales.mdf` {
		t.Errorf("FileMappings = %v", opts.FileMappings)
	}
	if opts.Confirm != plan.ConfirmNone {
		t.Errorf("Confirm = %v, want ConfirmNone", opts.Confirm)
	}
}

func TestBuildPlanOptionsConfirmPolicy(t *testing.T) {
	tests := []struct {
		name   string
		force  bool
		dryRun bool
		want   plan.ConfirmPolicy
	}{
		{"default prompts", false, false, plan.ConfirmPrompt},
		{"force skips prompts", true, false, plan.ConfirmNone},
		{"dry run", false, true, plan.ConfirmDryRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRestoreFlags()
			restoreForce = tt.force
			restoreDryRun = tt.dryRun
			opts, err := buildPlanOptions()
			if err != nil {
				t.Fatalf("buildPlanOptions: %v", err)
			}
			if opts.Confirm != tt.want {
				t.Errorf("Confirm = %v, want %v", opts.Confirm, tt.want)
			}
		})
	}
}

func TestBuildPlanOptionsRejectsForceWithDryRun(t *testing.T) {
	resetRestoreFlags()
	restoreForce = true
	restoreDryRun = true
	if _, err := buildPlanOptions(); err == nil {
		t.Fatal("expected an error for --force with --dry-run")
	}
}

func TestParsePagesRejectsBadInput(t *testing.T) {
	for _, bad := range []string{"402", "a:402", "1:b", ""} {
		if _, err := parsePages([]string{bad}); err == nil {
			t.Errorf("parsePages(%q) accepted bad input", bad)
		}
	}
}

func TestParseMappingsRejectsBadInput(t *testing.T) {
	for _, bad := range []string{"nopath", "=physical", "logical="} {
		if _, err := parseMappings([]string{bad}); err == nil {
			t.Errorf("parseMappings(%q) accepted bad input", bad)
		}
	}
}

func TestParseTimeFlagLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-15T09:30:00", time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"2024-03-15 09:30:00", time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimeFlag("restore-time", tt.in)
		if err != nil {
			t.Errorf("parseTimeFlag(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTimeFlag(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseTimeFlag("restore-time", "yesterday"); err == nil {
		t.Error("expected an error for an unrecognized timestamp")
	}
}

// ---------------------------------------------------------------------------
// database filter
// ---------------------------------------------------------------------------

func TestFilterDatabasesCaseInsensitive(t *testing.T) {
	files := []history.BackupFile{
		{Database: "Sales"},
		{Database: "HR"},
		{Database: "sales"},
	}
	out := filterDatabases(files, []string{"SALES"})
	if len(out) != 2 {
		t.Fatalf("expected 2 files, got %d", len(out))
	}
	if out := filterDatabases(files, nil); len(out) != 3 {
		t.Errorf("no filter should keep everything, got %d", len(out))
	}
}

// ---------------------------------------------------------------------------
// script output
// ---------------------------------------------------------------------------

func TestEmitScriptsWritesFile(t *testing.T) {
	resetRestoreFlags()
	log = logger.NewNullLogger()

	fs := afero.NewMemMapFs()
	prev := scriptFs
	scriptFs = fs
	t.Cleanup(func() { scriptFs = prev })

	restoreScriptOut = "out/restore.sql"
	script := "RESTORE DATABASE [Sales] FROM DISK = N'a.bak'\nGO\nRESTORE LOG [Sales] FROM DISK = N'b.trn'"
	if err := emitScripts(script); err != nil {
		t.Fatalf("emitScripts: %v", err)
	}

	data, err := afero.ReadFile(fs, "out/restore.sql")
	if err != nil {
		t.Fatalf("reading script file: %v", err)
	}
	if string(data) != script+"\n" {
		t.Errorf("script file content:\n%s", data)
	}
}
