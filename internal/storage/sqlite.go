// Package storage provides the embedded SQLite persistence layer for the
// sync engine.
//
// Two durable structures live in one database file, keyed by an
// application-specific namespace:
//
//   - snapshot: a single serialized copy of the client state, rewritten on
//     every store update
//   - intents: the ordered log of pending sync intents, appended and
//     consumed independently of the snapshot so it survives an interrupted
//     snapshot write
//
// The database runs in embedded mode with WAL so a status or queue
// inspection command can read while the engine writes.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/platewise/mealsync/internal/model"
)

// Store wraps the SQLite connection with snapshot and intent-log access.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The parent directory is created if missing. If the database doesn't
// exist it is created; call InitSchema before first use. The caller MUST
// call Close when done.
//
// Example:
//
//	st, err := storage.Open(filepath.Join(dir, "mealsync.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	st := &Store{conn: conn, path: path}

	// WAL for concurrent readers during writes
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return st, nil
}

// Close closes the database connection after checkpointing the WAL.
func (st *Store) Close() error {
	if st.conn == nil {
		return nil
	}

	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	st.conn = nil
	return nil
}

// Path returns the database file path.
func (st *Store) Path() string {
	return st.path
}

// InitSchema creates the snapshot and intent tables if they don't exist.
// Idempotent - safe to call multiple times.
func (st *Store) InitSchema() error {
	return st.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (st *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot (
		namespace TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		namespace TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		op TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		plan_id TEXT,
		payload TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intents_ns ON intents(namespace, seq);
	CREATE INDEX IF NOT EXISTS idx_intents_entity ON intents(namespace, kind, entity_id);
	`

	if _, err := st.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// SaveSnapshot overwrites the persisted state snapshot for a namespace.
func (st *Store) SaveSnapshot(namespace string, data []byte) error {
	query := `
	INSERT INTO snapshot (namespace, data, saved_at) VALUES (?, ?, ?)
	ON CONFLICT(namespace) DO UPDATE SET
		data = excluded.data,
		saved_at = excluded.saved_at
	`

	_, err := st.conn.Exec(query, namespace, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot reads the persisted state snapshot for a namespace.
// Returns (nil, false, nil) when no snapshot has been saved yet.
func (st *Store) LoadSnapshot(namespace string) ([]byte, bool, error) {
	var data string
	err := st.conn.QueryRow(
		"SELECT data FROM snapshot WHERE namespace = ?", namespace,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return []byte(data), true, nil
}

// DeleteSnapshot removes the persisted snapshot for a namespace.
func (st *Store) DeleteSnapshot(namespace string) error {
	if _, err := st.conn.Exec("DELETE FROM snapshot WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// AppendIntent appends an intent to the log and returns its sequence number.
func (st *Store) AppendIntent(namespace string, intent *model.SyncIntent) (int64, error) {
	if err := intent.Validate(); err != nil {
		return 0, fmt.Errorf("invalid intent: %w", err)
	}

	query := `
	INSERT INTO intents (id, namespace, user_id, kind, op, entity_id, plan_id, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := st.conn.Exec(query,
		intent.ID,
		namespace,
		intent.UserID,
		string(intent.Kind),
		string(intent.Op),
		intent.EntityID,
		intent.PlanID,
		payloadString(intent.Payload),
		intent.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append intent: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read intent seq: %w", err)
	}

	intent.Seq = seq
	return seq, nil
}

// ReplacePayload overwrites the payload of a pending intent in place,
// keeping its position in the log. Used to coalesce repeated toggles for
// the same item into one remote call.
func (st *Store) ReplacePayload(seq int64, payload json.RawMessage) error {
	res, err := st.conn.Exec("UPDATE intents SET payload = ? WHERE seq = ?", payloadString(payload), seq)
	if err != nil {
		return fmt.Errorf("failed to replace intent payload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("intent seq %d not found", seq)
	}
	return nil
}

// DeleteIntent removes a single intent by sequence number.
// Returns nil if the intent doesn't exist (idempotent).
func (st *Store) DeleteIntent(seq int64) error {
	if _, err := st.conn.Exec("DELETE FROM intents WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	return nil
}

// ListIntents returns all pending intents for a namespace in creation order.
func (st *Store) ListIntents(namespace string) ([]*model.SyncIntent, error) {
	query := `
	SELECT seq, id, user_id, kind, op, entity_id, plan_id, payload, created_at
	FROM intents WHERE namespace = ? ORDER BY seq ASC
	`

	rows, err := st.conn.Query(query, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []*model.SyncIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intents: %w", err)
	}

	return intents, nil
}

// LastIntentFor returns the most recent pending intent for an entity,
// or nil if none is queued.
func (st *Store) LastIntentFor(namespace string, kind model.EntityKind, entityID string) (*model.SyncIntent, error) {
	query := `
	SELECT seq, id, user_id, kind, op, entity_id, plan_id, payload, created_at
	FROM intents WHERE namespace = ? AND kind = ? AND entity_id = ?
	ORDER BY seq DESC LIMIT 1
	`

	rows, err := st.conn.Query(query, namespace, string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query intent: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanIntent(rows)
}

// HasPendingDelete reports whether a delete intent for the entity is queued.
// Checked items are keyed per plan, so a non-empty planID narrows the match
// to that plan; "" matches any plan for kinds keyed by entity id alone.
func (st *Store) HasPendingDelete(namespace string, kind model.EntityKind, planID, entityID string) (bool, error) {
	var n int
	err := st.conn.QueryRow(
		"SELECT COUNT(*) FROM intents WHERE namespace = ? AND kind = ? AND entity_id = ? AND op = ? AND (? = '' OR plan_id = ?)",
		namespace, string(kind), entityID, string(model.OpDelete), planID, planID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query pending deletes: %w", err)
	}
	return n > 0, nil
}

// PurgeIntents removes every pending intent for a namespace.
// Called at sign-out: entries belonging to a prior session are discarded,
// never replayed for a different user.
func (st *Store) PurgeIntents(namespace string) error {
	if _, err := st.conn.Exec("DELETE FROM intents WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("failed to purge intents: %w", err)
	}
	return nil
}

// CountIntents returns the number of pending intents for a namespace.
func (st *Store) CountIntents(namespace string) (int, error) {
	var n int
	err := st.conn.QueryRow("SELECT COUNT(*) FROM intents WHERE namespace = ?", namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count intents: %w", err)
	}
	return n, nil
}

// scanIntent reads one intent row from a *sql.Rows positioned on a row.
func scanIntent(rows *sql.Rows) (*model.SyncIntent, error) {
	var (
		intent    model.SyncIntent
		kind, op  string
		planID    sql.NullString
		payload   sql.NullString
		createdAt string
	)

	if err := rows.Scan(&intent.Seq, &intent.ID, &intent.UserID, &kind, &op,
		&intent.EntityID, &planID, &payload, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan intent: %w", err)
	}

	intent.Kind = model.EntityKind(kind)
	intent.Op = model.IntentOp(op)
	intent.PlanID = planID.String
	if payload.Valid && payload.String != "" {
		intent.Payload = json.RawMessage(payload.String)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse intent timestamp: %w", err)
	}
	intent.CreatedAt = ts

	return &intent, nil
}

func payloadString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	return string(raw)
}
