package exitcode

import (
	"context"
	"fmt"
	"testing"

	apperrors "sqlrestore/internal/errors"
)

func TestExitCodeConstants(t *testing.T) {
	// Verify exit code constants match BSD sysexits.h values
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"General", General, 1},
		{"UsageError", UsageError, 2},
		{"DataError", DataError, 65},
		{"NoInput", NoInput, 66},
		{"Unavailable", Unavailable, 69},
		{"Software", Software, 70},
		{"IOError", IOError, 74},
		{"TempFail", TempFail, 75},
		{"NoPerm", NoPerm, 77},
		{"Config", Config, 78},
		{"Timeout", Timeout, 124},
		{"Cancelled", Cancelled, 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("%s = %d, want %d", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestFromError_Nil(t *testing.T) {
	if got := FromError(nil); got != Success {
		t.Errorf("FromError(nil) = %d, want %d", got, Success)
	}
}

func TestFromError_StructuredCategories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", apperrors.KeepCDCConflict(), Config},
		{"connection", apperrors.ConnectionFailed("host:1433", fmt.Errorf("refused")), Unavailable},
		{"data", apperrors.NoFullBackup("db1"), DataError},
		{"internal", apperrors.NewInternalError(apperrors.ErrCodePanic, "boom", nil), Software},
		{"wrapped config", fmt.Errorf("run failed: %w", apperrors.KeepCDCConflict()), Config},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromError(tc.err); got != tc.want {
				t.Errorf("FromError() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFromError_MessagePatterns(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"login failed", fmt.Errorf("mssql: login failed for user 'sa'"), NoPerm},
		{"unreachable", fmt.Errorf("unable to open tcp connection with host"), Unavailable},
		{"missing file", fmt.Errorf("open history.json: no such file or directory"), NoInput},
		{"timeout", fmt.Errorf("context deadline exceeded"), Timeout},
		{"cancelled", context.Canceled, Cancelled},
		{"bad media", fmt.Errorf("the media family on device is incorrectly formed"), DataError},
		{"fallback", fmt.Errorf("something odd"), General},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromError(tc.err); got != tc.want {
				t.Errorf("FromError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
