package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteConnString(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		readOnly bool
		wantNone bool
		contains []string
	}{
		{
			name:     "empty path returns empty string",
			path:     "   ",
			wantNone: true,
		},
		{
			name:     "plain path gets pragmas",
			path:     "/tmp/user.sqlite3",
			contains: []string{"file:/tmp/user.sqlite3", "_pragma=busy_timeout(", "_pragma=foreign_keys(ON)", "_time_format=sqlite"},
		},
		{
			name:     "read only adds mode=ro",
			path:     "/tmp/user.sqlite3",
			readOnly: true,
			contains: []string{"mode=ro"},
		},
		{
			name:     "existing file URI keeps its query and appends missing pragmas",
			path:     "file:/tmp/user.sqlite3?cache=shared",
			contains: []string{"cache=shared", "_pragma=busy_timeout(", "_pragma=foreign_keys(ON)", "_time_format=sqlite"},
		},
		{
			name:     "existing pragma is not duplicated",
			path:     "file:/tmp/user.sqlite3?_pragma=busy_timeout(5000)",
			contains: []string{"_pragma=busy_timeout(5000)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SQLiteConnString(tt.path, tt.readOnly)
			if tt.wantNone {
				require.Empty(t, got)
				return
			}
			for _, want := range tt.contains {
				assert.True(t, strings.Contains(got, want), "expected %q to contain %q", got, want)
			}
		})
	}
}
