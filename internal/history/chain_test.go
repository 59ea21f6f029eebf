package history

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "sqlrestore/internal/errors"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
}

// salesHistory is a two-generation history: an older full with its own
// differential, a newer full with two differentials, and a log tail.
func salesHistory() []BackupFile {
	return []BackupFile{
		{Database: "sales", Type: TypeFull, FirstLSN: "50", LastLSN: "150", CheckpointLSN: "100", End: at(1, 0), FullName: PathList{"sales_full_1.bak"}},
		{Database: "sales", Type: TypeDifferential, FirstLSN: "150", LastLSN: "180", DatabaseBackupLSN: "100", End: at(3, 0), FullName: PathList{"sales_diff_1.bak"}},
		{Database: "sales", Type: TypeFull, FirstLSN: "150", LastLSN: "250", CheckpointLSN: "200", End: at(10, 0), FullName: PathList{"sales_full_2.bak"}},
		{Database: "sales", Type: TypeDifferential, FirstLSN: "250", LastLSN: "270", DatabaseBackupLSN: "200", End: at(11, 0), FullName: PathList{"sales_diff_2a.bak"}},
		{Database: "sales", Type: TypeDifferential, FirstLSN: "270", LastLSN: "280", DatabaseBackupLSN: "200", End: at(12, 0), FullName: PathList{"sales_diff_2b.bak"}},
		{Database: "sales", Type: TypeLog, FirstLSN: "250", LastLSN: "300", End: at(12, 6), FullName: PathList{"sales_log_1.trn"}},
		{Database: "sales", Type: TypeLog, FirstLSN: "300", LastLSN: "350", End: at(13, 0), FullName: PathList{"sales_log_2.trn"}},
		{Database: "sales", Type: TypeLog, FirstLSN: "350", LastLSN: "400", End: at(14, 0), FullName: PathList{"sales_log_3.trn"}},
	}
}

func leafNames(files []BackupFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Leaf()
	}
	return out
}

// ---------------------------------------------------------------------------
// SelectChain
// ---------------------------------------------------------------------------

func TestSelectChain_Latest(t *testing.T) {
	chain, err := SelectChain(salesHistory(), time.Time{})
	if err != nil {
		t.Fatalf("SelectChain: %v", err)
	}

	want := []string{"sales_full_2.bak", "sales_diff_2b.bak", "sales_log_1.trn", "sales_log_2.trn", "sales_log_3.trn"}
	got := leafNames(chain)
	if len(got) != len(want) {
		t.Fatalf("chain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSelectChain_TargetBeforeNewestFull(t *testing.T) {
	// Target between the first differential and the second full: the
	// chain must anchor on the older full.
	chain, err := SelectChain(salesHistory(), at(5, 0))
	if err != nil {
		t.Fatalf("SelectChain: %v", err)
	}

	if chain[0].Leaf() != "sales_full_1.bak" {
		t.Errorf("anchor = %q, want the older full", chain[0].Leaf())
	}
	if len(chain) < 2 || chain[1].Leaf() != "sales_diff_1.bak" {
		t.Errorf("chain = %v, want the older full's differential second", leafNames(chain))
	}
}

func TestSelectChain_LogTailIncludesFirstPastTarget(t *testing.T) {
	// Target falls inside log_2's window: log_2 must stay in the chain
	// so STOPAT inside it is reachable, and log_3 must be cut.
	target := at(12, 12)
	chain, err := SelectChain(salesHistory(), target)
	if err != nil {
		t.Fatalf("SelectChain: %v", err)
	}

	got := leafNames(chain)
	var hasLog2, hasLog3 bool
	for _, name := range got {
		if name == "sales_log_2.trn" {
			hasLog2 = true
		}
		if name == "sales_log_3.trn" {
			hasLog3 = true
		}
	}
	if !hasLog2 {
		t.Errorf("chain %v should include the log spanning the target", got)
	}
	if hasLog3 {
		t.Errorf("chain %v should cut logs after the one spanning the target", got)
	}
}

func TestSelectChain_DifferentialBaseMustMatch(t *testing.T) {
	// Remove the second full's differentials: the first full's
	// differential must not be applied on top of the second full.
	var files []BackupFile
	for _, f := range salesHistory() {
		if f.Leaf() == "sales_diff_2a.bak" || f.Leaf() == "sales_diff_2b.bak" {
			continue
		}
		files = append(files, f)
	}

	chain, err := SelectChain(files, time.Time{})
	if err != nil {
		t.Fatalf("SelectChain: %v", err)
	}
	for _, f := range chain {
		if f.Type == TypeDifferential {
			t.Errorf("differential %q applied against a mismatched full", f.Leaf())
		}
	}
}

func TestSelectChain_SkipsCopyOnlyFulls(t *testing.T) {
	files := salesHistory()
	files = append(files, BackupFile{
		Database: "sales", Type: TypeFull, IsCopyOnly: true,
		FirstLSN: "400", LastLSN: "450", CheckpointLSN: "420", End: at(15, 0),
		FullName: PathList{"sales_copyonly.bak"},
	})

	chain, err := SelectChain(files, time.Time{})
	if err != nil {
		t.Fatalf("SelectChain: %v", err)
	}
	if chain[0].Leaf() != "sales_full_2.bak" {
		t.Errorf("anchor = %q, copy-only fulls must never anchor a chain", chain[0].Leaf())
	}
}

func TestSelectChain_NoFullBackup(t *testing.T) {
	files := []BackupFile{
		{Database: "sales", Type: TypeLog, FirstLSN: "250", LastLSN: "300", End: at(12, 6)},
	}

	_, err := SelectChain(files, time.Time{})
	if err == nil {
		t.Fatal("expected an error when no full backup exists")
	}
	if apperrors.CodeOf(err) != apperrors.ErrCodeNoFullBackup {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.ErrCodeNoFullBackup)
	}
	if !strings.Contains(err.Error(), "sales") {
		t.Errorf("error should name the database: %v", err)
	}
}

func TestSelectChain_EmptyHistory(t *testing.T) {
	_, err := SelectChain(nil, time.Time{})
	if err == nil {
		t.Fatal("expected an error for empty history")
	}
	var restoreErr *apperrors.RestoreError
	if !errors.As(err, &restoreErr) {
		t.Fatalf("error type = %T, want *RestoreError", err)
	}
}

// ---------------------------------------------------------------------------
// ValidateChain
// ---------------------------------------------------------------------------

func TestValidateChain_HealthyChain(t *testing.T) {
	files := []BackupFile{
		{Database: "sales", Type: TypeFull, FirstLSN: "150", LastLSN: "250", CheckpointLSN: "200", End: at(10, 0), TotalSize: 1000},
		{Database: "sales", Type: TypeDifferential, FirstLSN: "250", LastLSN: "280", DatabaseBackupLSN: "200", End: at(12, 0), TotalSize: 200},
		{Database: "sales", Type: TypeLog, FirstLSN: "280", LastLSN: "350", End: at(13, 0), TotalSize: 50},
		{Database: "sales", Type: TypeLog, FirstLSN: "350", LastLSN: "400", End: at(14, 0), TotalSize: 50},
	}

	result := ValidateChain(files)
	if !result.Valid {
		t.Fatalf("healthy chain reported invalid: %v", result.Warnings)
	}
	if result.FullCount != 1 || result.DiffCount != 1 || result.LogCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 1/1/2", result.FullCount, result.DiffCount, result.LogCount)
	}
	if result.TotalSize != 1300 {
		t.Errorf("TotalSize = %d, want 1300", result.TotalSize)
	}
	if result.FirstLSN != "150" || result.LastLSN != "400" {
		t.Errorf("LSN range = %s..%s, want 150..400", result.FirstLSN, result.LastLSN)
	}
	if !result.CoversTo.Equal(at(14, 0)) {
		t.Errorf("CoversTo = %v, want %v", result.CoversTo, at(14, 0))
	}
}

func TestValidateChain_DetectsLogGap(t *testing.T) {
	files := []BackupFile{
		{Database: "sales", Type: TypeFull, FirstLSN: "150", LastLSN: "250", CheckpointLSN: "200", End: at(10, 0)},
		{Database: "sales", Type: TypeLog, FirstLSN: "250", LastLSN: "300", End: at(11, 0)},
		// log covering 300..350 is missing
		{Database: "sales", Type: TypeLog, FirstLSN: "350", LastLSN: "400", End: at(13, 0)},
	}

	result := ValidateChain(files)
	if result.Valid {
		t.Fatal("gapped chain reported valid")
	}
	if len(result.Gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(result.Gaps))
	}
	gap := result.Gaps[0]
	if gap.AfterLSN != "300" || gap.NextLSN != "350" {
		t.Errorf("gap = %s..%s, want 300..350", gap.AfterLSN, gap.NextLSN)
	}
}

func TestValidateChain_DetectsDifferentialBaseMismatch(t *testing.T) {
	files := []BackupFile{
		{Database: "sales", Type: TypeFull, FirstLSN: "150", LastLSN: "250", CheckpointLSN: "200", End: at(10, 0)},
		{Database: "sales", Type: TypeDifferential, FirstLSN: "250", LastLSN: "280", DatabaseBackupLSN: "100", End: at(12, 0)},
	}

	result := ValidateChain(files)
	if result.Valid {
		t.Fatal("mismatched differential reported valid")
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "does not match") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a base LSN mismatch", result.Warnings)
	}
}

func TestValidateChain_ChainWithoutFull(t *testing.T) {
	files := []BackupFile{
		{Database: "sales", Type: TypeLog, FirstLSN: "250", LastLSN: "300", End: at(11, 0)},
	}

	result := ValidateChain(files)
	if result.Valid {
		t.Fatal("log-only chain reported valid")
	}
	if len(result.Warnings) == 0 || !strings.Contains(result.Warnings[0], "full") {
		t.Errorf("warnings = %v, want a missing-full warning", result.Warnings)
	}
}

func TestValidateChain_Empty(t *testing.T) {
	result := ValidateChain(nil)
	if result.Valid {
		t.Fatal("empty chain reported valid")
	}
}
