package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	apperrors "sqlrestore/internal/errors"
)

// LoadFile reads backup history descriptors from a JSON export.
// Compressed exports are handled transparently: .gz and .zst
// extensions select the decompressor.
func LoadFile(path string) ([]BackupFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip history %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd history %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	files, err := Load(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history file %s: %w", path, err)
	}
	return files, nil
}

// SaveFile writes descriptors as a JSON array, compressed per the file
// extension the same way LoadFile reads them.
func SaveFile(path string, files []BackupFile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var closer io.Closer
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz := pgzip.NewWriter(f)
		w, closer = gz, gz
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("failed to open zstd writer for %s: %w", path, err)
		}
		w, closer = zw, zw
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(files); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to finish compressed history: %w", err)
		}
	}
	return f.Close()
}

// Load decodes backup history from JSON: either a single array or one
// object per line (the export shape of large estates).
func Load(r io.Reader) ([]BackupFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"backup history input is empty", "Export history with at least one backup set.")
	}

	if trimmed[0] == '[' {
		var files []BackupFile
		if err := json.Unmarshal(trimmed, &files); err != nil {
			return nil, apperrors.NewDataError(apperrors.ErrCodeBadHistoryInput,
				"backup history is not valid JSON", "").WithCause(err)
		}
		return files, nil
	}

	// JSON lines: one descriptor per line, blank lines ignored.
	var files []BackupFile
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var f BackupFile
		if err := json.Unmarshal(text, &f); err != nil {
			return nil, apperrors.NewDataError(apperrors.ErrCodeBadHistoryInput,
				fmt.Sprintf("backup history line %d is not valid JSON", line), "").WithCause(err)
		}
		files = append(files, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"backup history input contained no descriptors", "")
	}
	return files, nil
}
