package archive

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/angel122382/rpcdevtools/internal/assert"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const maxRows = 100000

// Repository is the write side used by the Worker.
type Repository interface {
	InsertCall(c *Call) error
	Close() error
}

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// Open creates the database file if needed and applies the schema.
func Open(dbPath string) (*DB, error) {
	if err := assert.Check(dbPath != "", "database path must not be empty"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("enabling WAL mode: %v; closing database: %w", err, closeErr)
		}
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("executing schema: %v; closing database: %w", err, closeErr)
		}
		return nil, fmt.Errorf("executing schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertCall stores c.
func (db *DB) InsertCall(c *Call) error {
	if err := assert.NotNil(c, "call"); err != nil {
		return err
	}
	if err := assert.Check(c.ID != "", "call id must not be empty"); err != nil {
		return err
	}
	if err := assert.Check(c.Method != "", "call method must not be empty"); err != nil {
		return err
	}
	headers := string(c.Headers)
	if headers == "" {
		headers = "[]"
	}
	archivedAt := c.ArchivedAt
	if archivedAt.IsZero() {
		archivedAt = time.Now()
	}

	res, err := db.conn.Exec(`
		INSERT INTO calls (
			id, capture_id, request_id, method, rpc_type, status, duration_ms,
			requested_at, responded_at, headers, payload, payload_fingerprint,
			data, cause, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CaptureID, c.RequestID, c.Method, c.RPCType, c.Status, c.DurationMs,
		formatTime(c.RequestedAt), formatTime(c.RespondedAt), headers,
		nullableJSON(c.Payload), c.PayloadFingerprint,
		nullableJSON(c.Data), nullableJSON(c.Cause), formatTime(archivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil || rows != 1 {
		return fmt.Errorf("failed to insert call: rows affected = %d", rows)
	}
	return nil
}

// RecentCalls returns up to limit calls, most recently answered first.
func (db *DB) RecentCalls(limit int) (calls []Call, err error) {
	if err := assert.InRange(limit, 1, maxRows, "limit"); err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(`
		SELECT id, capture_id, request_id, method, rpc_type, status, duration_ms,
		       requested_at, responded_at, headers, COALESCE(payload, ''),
		       payload_fingerprint, COALESCE(data, ''), COALESCE(cause, ''), archived_at
		FROM calls ORDER BY responded_at DESC, archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying calls: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing call rows: %w", closeErr)
		}
	}()

	for i := 0; i < maxRows; i++ {
		if !rows.Next() {
			break
		}
		var c Call
		var requestedAt, respondedAt, archivedAt, headers, payload, data, cause string
		if err := rows.Scan(&c.ID, &c.CaptureID, &c.RequestID, &c.Method, &c.RPCType, &c.Status,
			&c.DurationMs, &requestedAt, &respondedAt, &headers, &payload,
			&c.PayloadFingerprint, &data, &cause, &archivedAt); err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		c.RequestedAt = parseTime(requestedAt)
		c.RespondedAt = parseTime(respondedAt)
		c.ArchivedAt = parseTime(archivedAt)
		c.Headers = rawOrNil(headers)
		c.Payload = rawOrNil(payload)
		c.Data = rawOrNil(data)
		c.Cause = rawOrNil(cause)
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calls: %w", err)
	}
	return calls, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
