package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"sqlrestore/internal/logger"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// recordingLogger captures warnings so ingestion behavior can be asserted.
type recordingLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (l *recordingLogger) Debug(msg string, args ...any) {}
func (l *recordingLogger) Info(msg string, args ...any)  {}
func (l *recordingLogger) Error(msg string, args ...any) {}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, fmt.Sprintf("%s %v", msg, args))
}

func (l *recordingLogger) WithFields(fields map[string]interface{}) logger.Logger { return l }
func (l *recordingLogger) WithField(key string, value interface{}) logger.Logger  { return l }

func (l *recordingLogger) StartOperation(name string) logger.OperationLogger {
	return nopOperation{}
}

type nopOperation struct{}

func (nopOperation) Update(msg string, args ...any)   {}
func (nopOperation) Complete(msg string, args ...any) {}
func (nopOperation) Fail(msg string, args ...any)     {}

func mkFile(db string, raw string, firstLSN, lastLSN string) BackupFile {
	f := BackupFile{
		Database: db,
		RawType:  TypeValue(raw),
		FullName: PathList{fmt.Sprintf(`\\backups\%s_%s.bak`, db, raw)},
		FirstLSN: LSN(firstLSN),
		LastLSN:  LSN(lastLSN),
	}
	f.Type = ParseBackupType(raw)
	return f
}

// ---------------------------------------------------------------------------
// Type classification
// ---------------------------------------------------------------------------

func TestParseBackupType(t *testing.T) {
	tests := []struct {
		raw  string
		want BackupType
	}{
		{"1", TypeFull},
		{"5", TypeDifferential},
		{"2", TypeLog},
		{"D", TypeFull},
		{"I", TypeDifferential},
		{"L", TypeLog},
		{"Database", TypeFull},
		{"database", TypeFull},
		{"Full", TypeFull},
		{"Database Differential", TypeDifferential},
		{"Differential", TypeDifferential},
		{"Transaction Log", TypeLog},
		{"transaction log", TypeLog},
		{"Log", TypeLog},
		{" 1 ", TypeFull},
		{"7", TypeUnknown},
		{"Filegroup", TypeUnknown},
		{"", TypeUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			if got := ParseBackupType(tc.raw); got != tc.want {
				t.Errorf("ParseBackupType(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestBackupTypeSortRank(t *testing.T) {
	if TypeFull.SortRank() >= TypeDifferential.SortRank() {
		t.Error("full must sort before differential")
	}
	if TypeDifferential.SortRank() >= TypeLog.SortRank() {
		t.Error("differential must sort before log")
	}
	if TypeUnknown.SortRank() != TypeFull.SortRank() {
		t.Error("unknown sets restore as database restores and must rank with fulls")
	}
}

// ---------------------------------------------------------------------------
// LSN ordering
// ---------------------------------------------------------------------------

func TestLSNCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"2", "1", 1},
		{"2", "2", 0},
		{"9", "10", -1},
		{"100", "99", 1},
		{"0001", "1", 0},
		{"", "1", -1},
		{"", "", 0},
		// numeric(25,0) values beyond uint64
		{"12345678901234567890123", "12345678901234567890124", -1},
		{"9999999999999999999999999", "10000000000000000000000000", -1},
	}

	for _, tc := range tests {
		t.Run(tc.a+"_vs_"+tc.b, func(t *testing.T) {
			if got := LSN(tc.a).Compare(LSN(tc.b)); got != tc.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestLSNIsZero(t *testing.T) {
	for _, zero := range []string{"", "0", "000", " 0 "} {
		if !LSN(zero).IsZero() {
			t.Errorf("LSN(%q).IsZero() = false, want true", zero)
		}
	}
	if LSN("17000000005600001").IsZero() {
		t.Error("non-zero LSN reported zero")
	}
}

// ---------------------------------------------------------------------------
// JSON ingestion shapes
// ---------------------------------------------------------------------------

func TestBackupFileUnmarshal_MixedTypeEncodings(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want BackupType
	}{
		{"numeric full", `{"database":"db1","type":1,"full_name":"x.bak"}`, TypeFull},
		{"numeric diff", `{"database":"db1","type":5,"full_name":"x.bak"}`, TypeDifferential},
		{"numeric log", `{"database":"db1","type":2,"full_name":"x.trn"}`, TypeLog},
		{"string log", `{"database":"db1","type":"Transaction Log","full_name":"x.trn"}`, TypeLog},
		{"string full", `{"database":"db1","type":"Database","full_name":"x.bak"}`, TypeFull},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var f BackupFile
			if err := json.Unmarshal([]byte(tc.blob), &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := ParseBackupType(string(f.RawType)); got != tc.want {
				t.Errorf("type = %v, want %v (raw %q)", got, tc.want, f.RawType)
			}
		})
	}
}

func TestBackupFileUnmarshal_PathShapes(t *testing.T) {
	var single BackupFile
	if err := json.Unmarshal([]byte(`{"database":"db1","type":1,"full_name":"C:\\b\\db1.bak"}`), &single); err != nil {
		t.Fatalf("unmarshal single: %v", err)
	}
	if len(single.FullName) != 1 || single.FullName[0] != `C:\b\db1.bak` {
		t.Errorf("single path = %v", single.FullName)
	}

	var striped BackupFile
	if err := json.Unmarshal([]byte(`{"database":"db1","type":1,"full_name":["/b/db1_1.bak","/b/db1_2.bak"]}`), &striped); err != nil {
		t.Fatalf("unmarshal striped: %v", err)
	}
	if len(striped.FullName) != 2 {
		t.Errorf("striped paths = %v, want 2 entries", striped.FullName)
	}
}

func TestBackupFileUnmarshal_NumericLSNPrecision(t *testing.T) {
	// 23-digit LSN as a bare JSON number must survive without float64 loss.
	blob := `{"database":"db1","type":2,"full_name":"x.trn","first_lsn":12345678901234567890123,"last_lsn":"12345678901234567890999"}`
	var f BackupFile
	if err := json.Unmarshal([]byte(blob), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.FirstLSN != "12345678901234567890123" {
		t.Errorf("FirstLSN = %q, digits were mangled", f.FirstLSN)
	}
	if !f.FirstLSN.Less(f.LastLSN) {
		t.Error("FirstLSN should order before LastLSN")
	}
}

func TestLeaf(t *testing.T) {
	tests := []struct {
		name  string
		paths PathList
		want  string
	}{
		{"windows path", PathList{`\\srv\sql\db1_full.bak`}, "db1_full.bak"},
		{"unix path", PathList{"/var/opt/mssql/db1.bak"}, "db1.bak"},
		{"url", PathList{"https://acct.blob.core.windows.net/backups/db1.bak"}, "db1.bak"},
		{"striped", PathList{`C:\b\s1.bak`, `C:\b\s2.bak`}, "s1.bak, s2.bak"},
		{"bare name", PathList{"db1.bak"}, "db1.bak"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := BackupFile{FullName: tc.paths}
			if got := f.Leaf(); got != tc.want {
				t.Errorf("Leaf() = %q, want %q", got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalize_DecidesTypesOnce(t *testing.T) {
	log := &recordingLogger{}
	in := []BackupFile{
		{Database: "db1", RawType: "1"},
		{Database: "db1", RawType: "Transaction Log"},
		{Database: "db1", RawType: "5"},
	}

	out, err := Normalize(in, false, log)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []BackupType{TypeFull, TypeLog, TypeDifferential}
	for i, f := range out {
		if f.Type != want[i] {
			t.Errorf("file %d type = %v, want %v", i, f.Type, want[i])
		}
	}
	if len(log.warnings) != 0 {
		t.Errorf("unexpected warnings: %v", log.warnings)
	}
}

func TestNormalize_UnknownTypeWarns(t *testing.T) {
	log := &recordingLogger{}
	in := []BackupFile{{Database: "db1", RawType: "9", FullName: PathList{"x.bak"}}}

	out, err := Normalize(in, false, log)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out[0].Type != TypeUnknown {
		t.Errorf("type = %v, want Unknown", out[0].Type)
	}
	if len(log.warnings) != 1 {
		t.Fatalf("warnings = %d, want exactly 1", len(log.warnings))
	}
	if !strings.Contains(log.warnings[0], "db1") {
		t.Errorf("warning should name the database: %s", log.warnings[0])
	}
}

func TestNormalize_StrictRejectsUnknown(t *testing.T) {
	log := &recordingLogger{}
	in := []BackupFile{{Database: "db1", RawType: "9"}}

	_, err := Normalize(in, true, log)
	if err == nil {
		t.Fatal("strict mode should reject unknown backup types")
	}
	if !strings.Contains(err.Error(), "db1") {
		t.Errorf("error should name the database: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Grouping and ordering
// ---------------------------------------------------------------------------

func TestGroupByDatabase_PreservesFirstSeenOrder(t *testing.T) {
	in := []BackupFile{
		mkFile("beta", "1", "10", "20"),
		mkFile("alpha", "1", "10", "20"),
		mkFile("beta", "2", "20", "30"),
		mkFile("gamma", "1", "5", "15"),
		mkFile("alpha", "2", "20", "25"),
	}

	groups, order := GroupByDatabase(in)
	wantOrder := []string{"beta", "alpha", "gamma"}
	if len(order) != len(wantOrder) {
		t.Fatalf("order = %v, want %v", order, wantOrder)
	}
	for i := range wantOrder {
		if order[i] != wantOrder[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], wantOrder[i])
		}
	}
	if len(groups["beta"]) != 2 || len(groups["alpha"]) != 2 || len(groups["gamma"]) != 1 {
		t.Errorf("group sizes wrong: %v", groups)
	}
}

func TestSortForRestore(t *testing.T) {
	files := []BackupFile{
		mkFile("db1", "2", "300", "400"),
		mkFile("db1", "1", "100", "250"),
		mkFile("db1", "2", "250", "300"),
		mkFile("db1", "5", "200", "260"),
	}

	SortForRestore(files)

	wantTypes := []BackupType{TypeFull, TypeDifferential, TypeLog, TypeLog}
	for i, f := range files {
		if f.Type != wantTypes[i] {
			t.Fatalf("position %d type = %v, want %v", i, f.Type, wantTypes[i])
		}
	}
	if files[2].FirstLSN != "250" || files[3].FirstLSN != "300" {
		t.Errorf("logs not ordered by FirstLSN: %s, %s", files[2].FirstLSN, files[3].FirstLSN)
	}
}

func TestSortForRestore_StableAndNonDecreasing(t *testing.T) {
	files := []BackupFile{
		mkFile("db1", "2", "17000000012300001", "17000000012400001"),
		mkFile("db1", "2", "17000000012200001", "17000000012300001"),
		mkFile("db1", "1", "17000000012000001", "17000000012250001"),
		mkFile("db1", "2", "17000000012400001", "17000000012500001"),
	}

	SortForRestore(files)

	for i := 1; i < len(files); i++ {
		prev, cur := files[i-1], files[i]
		if prev.Type.SortRank() > cur.Type.SortRank() {
			t.Fatalf("type rank decreased at %d", i)
		}
		if prev.Type.SortRank() == cur.Type.SortRank() && cur.FirstLSN.Less(prev.FirstLSN) {
			t.Fatalf("FirstLSN decreased at %d: %s after %s", i, cur.FirstLSN, prev.FirstLSN)
		}
	}
}
