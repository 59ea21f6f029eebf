package plan

import (
	"fmt"
	"strings"
	"time"
)

// stopTimeFormat renders STOPAT and mark bounds with millisecond
// precision. The ISO 8601 shape with a T separator is parsed
// culture-invariantly by the engine.
const stopTimeFormat = "2006-01-02T15:04:05.000"

// Script renders the step as one deterministic T-SQL batch. Identical
// steps render byte-identical text. KEEP_CDC is never rendered here:
// the executor appends it textually before running the script.
func (s *Step) Script() string {
	var b strings.Builder
	if s.ExecuteAs != "" {
		fmt.Fprintf(&b, "EXECUTE AS LOGIN = N'%s';\n", escapeString(s.ExecuteAs))
	}

	verb := "DATABASE"
	if s.Action == ActionLog {
		verb = "LOG"
	}
	fmt.Fprintf(&b, "RESTORE %s [%s]", verb, escapeIdentifier(s.Database))

	// PAGE precedes the device list and applies to database actions
	// only; log restores in a page-restore chain carry no page list.
	if s.PageList != "" && s.Action == ActionDatabase {
		fmt.Fprintf(&b, " PAGE = '%s'", s.PageList)
	}

	b.WriteString(" FROM ")
	b.WriteString(renderDevices(s.Files))
	b.WriteString(" WITH ")

	var with []string
	if s.Position > 0 {
		with = append(with, fmt.Sprintf("FILE = %d", s.Position))
	}
	for _, r := range s.Relocations {
		with = append(with, fmt.Sprintf("MOVE N'%s' TO N'%s'",
			escapeString(r.Logical), escapeString(r.Physical)))
	}
	if s.Replace {
		with = append(with, "REPLACE")
	}

	switch {
	case s.StandbyFile != "":
		with = append(with, fmt.Sprintf("STANDBY = N'%s'", escapeString(s.StandbyFile)))
	case s.NoRecovery:
		with = append(with, "NORECOVERY")
	default:
		with = append(with, "RECOVERY")
	}

	switch {
	case s.StopAtMark != "":
		with = append(with, renderMark("STOPATMARK", s.StopAtMark, s.StopAfterDate))
	case s.StopBeforeMark != "":
		with = append(with, renderMark("STOPBEFOREMARK", s.StopBeforeMark, s.StopAfterDate))
	case !s.ToPointInTime.IsZero():
		with = append(with, fmt.Sprintf("STOPAT = N'%s'", s.ToPointInTime.Format(stopTimeFormat)))
	}

	if s.KeepReplication {
		with = append(with, "KEEP_REPLICATION")
	}
	if s.Credential != "" {
		with = append(with, fmt.Sprintf("CREDENTIAL = N'%s'", escapeString(s.Credential)))
	}
	if s.MaxTransferSize > 0 {
		with = append(with, fmt.Sprintf("MAXTRANSFERSIZE = %d", s.MaxTransferSize))
	}
	if s.BlockSize > 0 {
		with = append(with, fmt.Sprintf("BLOCKSIZE = %d", s.BlockSize))
	}
	if s.BufferCount > 0 {
		with = append(with, fmt.Sprintf("BUFFERCOUNT = %d", s.BufferCount))
	}
	with = append(with, "STATS = 10")

	b.WriteString(strings.Join(with, ", "))
	return b.String()
}

// VerifyScript renders the RESTORE VERIFYONLY statement for the step's
// media without any recovery or relocation clauses.
func (s *Step) VerifyScript() string {
	var b strings.Builder
	b.WriteString("RESTORE VERIFYONLY FROM ")
	b.WriteString(renderDevices(s.Files))

	var with []string
	if s.Position > 0 {
		with = append(with, fmt.Sprintf("FILE = %d", s.Position))
	}
	if s.Credential != "" {
		with = append(with, fmt.Sprintf("CREDENTIAL = N'%s'", escapeString(s.Credential)))
	}
	if len(with) > 0 {
		b.WriteString(" WITH ")
		b.WriteString(strings.Join(with, ", "))
	}
	return b.String()
}

func renderDevices(files []string) string {
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = fmt.Sprintf("%s = N'%s'", deviceType(f), escapeString(f))
	}
	return strings.Join(parts, ", ")
}

// deviceType picks the device keyword: cloud locations restore from
// URL, everything else from DISK.
func deviceType(path string) string {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "s3://") {
		return "URL"
	}
	return "DISK"
}

func renderMark(keyword, mark string, after time.Time) string {
	clause := fmt.Sprintf("%s = N'%s'", keyword, escapeString(mark))
	if !after.IsZero() {
		clause += fmt.Sprintf(" AFTER N'%s'", after.Format(stopTimeFormat))
	}
	return clause
}

// escapeString doubles single quotes for an N'...' literal.
func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// escapeIdentifier doubles closing brackets for a [...] identifier.
func escapeIdentifier(s string) string {
	return strings.ReplaceAll(s, "]", "]]")
}
