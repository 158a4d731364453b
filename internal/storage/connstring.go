package storage

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// SQLiteConnString builds the file: DSN internal/kvstore opens its one
// per-user database handle with, for the ncruces/go-sqlite3 driver.
//
// Every store is opened with db.SetMaxOpenConns(1): one connection, one
// writer, matching the single-threaded cooperative scheduler model
// spec.md §5 requires. busy_timeout exists for the narrow window where
// a second process (a stale daemon, a second CLI invocation) still
// holds the file — it lets that second opener block briefly instead of
// failing immediately with "database is locked", rather than resolving
// any real in-process write contention, since this process never holds
// more than one connection at a time. foreign_keys enforces referential
// integrity across the article/section/media/outbox tables; time_format
// controls how the driver marshals TEXT timestamp columns.
// Honors the OUTLINESYNC_LOCK_TIMEOUT env var for busy timeout (default 30s).
// If readOnly is true, the connection is opened in read-only mode.
// If path is already a file: URI, pragmas are appended only if absent.
func SQLiteConnString(path string, readOnly bool) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("OUTLINESYNC_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if readOnly && !strings.Contains(conn, "mode=") {
			conn += sep + "mode=ro"
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=foreign_keys") {
			conn += sep + "_pragma=foreign_keys(ON)"
			sep = "&"
		}
		if !strings.Contains(conn, "_time_format=") {
			conn += sep + "_time_format=sqlite"
		}
		return conn
	}

	if readOnly {
		return fmt.Sprintf("file:%s?mode=ro&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
}
