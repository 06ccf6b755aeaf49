// Package store provides the SQLite-backed persistence for document
// sessions: snapshots of the tree, the patch log, and execution records.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"weave/internal/cas"
	"weave/internal/node"
	"weave/internal/patch"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         BLOB PRIMARY KEY,
	session    TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session, created_at);

CREATE TABLE IF NOT EXISTS patches (
	session    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	ops        TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session, seq)
);

CREATE TABLE IF NOT EXISTS executions (
	node_id    TEXT NOT NULL,
	digest     TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_node ON executions(node_id, started_at);
`

// Execution is one recorded run of a code node.
type Execution struct {
	NodeID    string
	Digest    string
	Status    string
	StartedAt int64
	EndedAt   int64
}

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at the given path.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SaveSnapshot stores the document tree and returns its content id,
// derived from the canonical JSON of the tree. Saving the same tree
// twice is idempotent.
func (db *DB) SaveSnapshot(session string, doc node.Node) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	id, err := cas.NodeID("snapshot", doc)
	if err != nil {
		return nil, fmt.Errorf("deriving snapshot id: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT OR IGNORE INTO snapshots (id, session, doc, created_at)
		VALUES (?, ?, ?, ?)
	`, id, session, string(raw), cas.NowMs())
	if err != nil {
		return nil, fmt.Errorf("inserting snapshot: %w", err)
	}
	return id, nil
}

// Snapshot retrieves a stored tree by content id.
func (db *DB) Snapshot(id []byte) (node.Node, error) {
	var raw string
	err := db.conn.QueryRow(`SELECT doc FROM snapshots WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return node.Node{}, fmt.Errorf("snapshot %x not found", id)
	}
	if err != nil {
		return node.Node{}, fmt.Errorf("querying snapshot: %w", err)
	}
	return node.FromJSON([]byte(raw))
}

// LatestSnapshot returns the most recent snapshot for a session.
func (db *DB) LatestSnapshot(session string) (node.Node, []byte, error) {
	var id []byte
	var raw string
	err := db.conn.QueryRow(`
		SELECT id, doc FROM snapshots WHERE session = ?
		ORDER BY created_at DESC, id LIMIT 1
	`, session).Scan(&id, &raw)
	if err == sql.ErrNoRows {
		return node.Node{}, nil, fmt.Errorf("no snapshots for session %q", session)
	}
	if err != nil {
		return node.Node{}, nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	n, err := node.FromJSON([]byte(raw))
	return n, id, err
}

// AppendPatch records an applied patch at the given sequence number.
func (db *DB) AppendPatch(session string, seq int64, p patch.Patch) error {
	ops, err := p.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO patches (session, seq, ops, created_at)
		VALUES (?, ?, ?, ?)
	`, session, seq, string(ops), cas.NowMs())
	if err != nil {
		return fmt.Errorf("inserting patch: %w", err)
	}
	return nil
}

// Patches returns a session's patches with seq >= from, in order.
func (db *DB) Patches(session string, from int64) ([]patch.Patch, error) {
	rows, err := db.conn.Query(`
		SELECT ops FROM patches WHERE session = ? AND seq >= ?
		ORDER BY seq
	`, session, from)
	if err != nil {
		return nil, fmt.Errorf("querying patches: %w", err)
	}
	defer rows.Close()

	var patches []patch.Patch
	for rows.Next() {
		var ops string
		if err := rows.Scan(&ops); err != nil {
			return nil, fmt.Errorf("scanning patch: %w", err)
		}
		p, err := patch.FromJSON([]byte(ops))
		if err != nil {
			return nil, fmt.Errorf("decoding patch: %w", err)
		}
		patches = append(patches, p)
	}
	return patches, rows.Err()
}

// RecordExecution logs one run of a code node.
func (db *DB) RecordExecution(e Execution) error {
	_, err := db.conn.Exec(`
		INSERT INTO executions (node_id, digest, status, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.NodeID, e.Digest, e.Status, e.StartedAt, e.EndedAt)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// Executions returns a node's recorded runs, oldest first.
func (db *DB) Executions(nodeID string) ([]Execution, error) {
	rows, err := db.conn.Query(`
		SELECT node_id, digest, status, started_at, ended_at
		FROM executions WHERE node_id = ? ORDER BY started_at
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.NodeID, &e.Digest, &e.Status, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
