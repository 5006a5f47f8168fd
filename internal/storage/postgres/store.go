// Package postgres implements a PostgreSQL-backed replication archive: the
// same monotonically-versioned create/delete semantics as
// internal/replication.Archive, persisted to a table instead of an
// in-memory record list, for deployments that need the canonical store to survive a
// process restart.
package postgres

import (
	"context"
	"database/sql"
	"time"
)

// Store is a PostgreSQL-backed archive for one replicated record table. It
// is generic over the record's JSON-serializable wire form rather than over
// replication.Keyed directly, since SQL storage needs a stable row key
// distinct from an in-memory map key and a concrete column to persist.
type Store struct {
	db    *sql.DB
	table string
}

// New creates a Store backed by db, persisting into table. table must
// already have been created by EnsureSchema.
func New(db *sql.DB, table string) *Store {
	return &Store{db: db, table: table}
}

// EnsureSchema creates the backing table if it does not already exist. Safe
// to call unconditionally on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	// key is deliberately NOT the primary key: a delete-then-reinsert of a
	// structurally-identical object (same Key()) must leave both the old,
	// now-deleted row and the new, live row in the table as independent
	// records, the same way internal/replication.Archive keeps both records
	// rather than overwriting one key's slot (§4.3, §9). A
	// surrogate id is the primary key instead, with a plain index on key for
	// Delete's and GetUpdatesSince's lookups.
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id              BIGSERIAL PRIMARY KEY,
			key             TEXT NOT NULL,
			payload         JSONB NOT NULL,
			created_version BIGINT NOT NULL,
			deleted_version BIGINT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS `+s.table+`_key_idx ON `+s.table+` (key)
	`)
	return err
}

// nextVersion returns one past the highest version (created or deleted)
// currently recorded in the table, under the caller's transaction so
// concurrent inserts serialize correctly.
func (s *Store) nextVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var maxVersion sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT GREATEST(
			COALESCE(MAX(created_version), 0),
			COALESCE(MAX(deleted_version), 0)
		) FROM `+s.table,
	).Scan(&maxVersion)
	if err != nil {
		return 0, err
	}
	return maxVersion.Int64 + 1, nil
}

// Insert persists a new live record under key with payload, stamped with the
// next archive version. It always appends a new row rather than upserting
// one keyed by key, so a key that already has a deleted row (from an earlier
// Delete) gains a second, independent live row instead of colliding with it
// (see EnsureSchema).
func (s *Store) Insert(ctx context.Context, key string, payload []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	version, err := s.nextVersion(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, payload, created_version)
		VALUES ($1, $2, $3)
	`, key, payload, version); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete stamps the live record at key as deleted at the next archive
// version. Returns sql.ErrNoRows if no live record matches.
func (s *Store) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	version, err := s.nextVersion(ctx, tx)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE `+s.table+`
		SET deleted_version = $2
		WHERE id = (
			SELECT id FROM `+s.table+`
			WHERE key = $1 AND deleted_version IS NULL
			ORDER BY created_version ASC
			LIMIT 1
		)
	`, key, version)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// Row is one stored record's raw payload and version stamps.
type Row struct {
	Key            string
	Payload        []byte
	CreatedVersion int64
	DeletedVersion *int64
}

// Objects returns every currently live row.
func (s *Store) Objects(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, payload, created_version, deleted_version
		FROM `+s.table+`
		WHERE deleted_version IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// UpdateRows is the Postgres-backed equivalent of replication.Update, in
// terms of raw rows rather than decoded T values; the caller (RuleStore,
// PartyStore or SiteStore) decodes Created/Deleted into the concrete type.
type UpdateRows struct {
	FromVersion int64
	ToVersion   int64
	ValidUntil  time.Time
	Created     []Row
	Deleted     []Row
}

// GetUpdatesSince computes the create/delete delta since fromVersion,
// applying the same create-then-delete cancellation
// internal/replication.Store.GetUpdatesSince performs in memory (§4.3).
func (s *Store) GetUpdatesSince(ctx context.Context, fromVersion int64, maxLag time.Duration) (UpdateRows, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return UpdateRows{}, err
	}
	defer tx.Rollback()

	var toVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT GREATEST(
			COALESCE(MAX(created_version), 0),
			COALESCE(MAX(deleted_version), 0)
		) FROM `+s.table,
	).Scan(&toVersion); err != nil {
		return UpdateRows{}, err
	}
	to := toVersion.Int64

	createdRows, err := queryRows(ctx, tx, `
		SELECT key, payload, created_version, deleted_version FROM `+s.table+`
		WHERE created_version > $1 AND created_version <= $2
		  AND (deleted_version IS NULL OR deleted_version > $2)
	`, fromVersion, to)
	if err != nil {
		return UpdateRows{}, err
	}

	deletedRows, err := queryRows(ctx, tx, `
		SELECT key, payload, created_version, deleted_version FROM `+s.table+`
		WHERE created_version <= $1
		  AND deleted_version IS NOT NULL AND deleted_version > $1 AND deleted_version <= $2
	`, fromVersion, to)
	if err != nil {
		return UpdateRows{}, err
	}

	created, deleted := cancelReaddedRows(createdRows, deletedRows)

	return UpdateRows{
		FromVersion: fromVersion,
		ToVersion:   to,
		ValidUntil:  time.Now().Add(maxLag),
		Created:     created,
		Deleted:     deleted,
	}, nil
}

// cancelReaddedRows drops any key present in both created and deleted,
// mirroring internal/replication.Store's in-memory cancellation so net-zero
// churn within one interval produces an empty update (§4.3).
func cancelReaddedRows(created, deleted []Row) ([]Row, []Row) {
	deletedKeys := make(map[string]struct{}, len(deleted))
	for _, row := range deleted {
		deletedKeys[row.Key] = struct{}{}
	}
	createdKeys := make(map[string]struct{}, len(created))
	for _, row := range created {
		createdKeys[row.Key] = struct{}{}
	}

	filteredCreated := created[:0:0]
	for _, row := range created {
		if _, cancelled := deletedKeys[row.Key]; !cancelled {
			filteredCreated = append(filteredCreated, row)
		}
	}
	filteredDeleted := deleted[:0:0]
	for _, row := range deleted {
		if _, cancelled := createdKeys[row.Key]; !cancelled {
			filteredDeleted = append(filteredDeleted, row)
		}
	}
	return filteredCreated, filteredDeleted
}

func queryRows(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Key, &row.Payload, &row.CreatedVersion, &row.DeletedVersion); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
