package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// migration is one named, idempotent upgrade step. Steps run in order;
// each checks its own precondition so re-running a step that already
// applied is a no-op, matching the teacher's migration idiom of
// existence-checking before acting rather than relying solely on a
// version gate.
type migration struct {
	name string
	fn   func(ctx context.Context, tx *sql.Tx) error
}

// migrations is intentionally append-only: once a migration ships it is
// never edited, only superseded by a later one.
var migrations = []migration{
	{name: "001_base_schema", fn: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	}},
}

// migrate brings the store up to schemaVersion, running only the
// migrations not yet recorded in meta. A blocked upgrade (another
// process holds an older-version handle) is reported as a typed error
// rather than silently racing the other holder.
func (s *Store) migrate(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
			return wrapDBError("ensure meta table", err)
		}

		applied := 0
		row := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'migrations_applied'`)
		var v string
		if err := row.Scan(&v); err == nil {
			applied, _ = strconv.Atoi(v)
		} else if err != sql.ErrNoRows {
			return wrapDBError("read migrations_applied", err)
		}

		for i := applied; i < len(migrations); i++ {
			m := migrations[i]
			if err := m.fn(ctx, tx); err != nil {
				return wrapDBErrorf(err, "migration %s", m.name)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('migrations_applied', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, fmt.Sprintf("%d", len(migrations))); err != nil {
			return wrapDBError("record migrations_applied", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, fmt.Sprintf("%d", schemaVersion)); err != nil {
			return wrapDBError("record schema_version", err)
		}
		return nil
	})
}
