package archive

import (
	"fmt"

	"github.com/angel122382/rpcdevtools/internal/assert"
)

// MethodStat aggregates archived calls of one method.
type MethodStat struct {
	Method        string
	RPCType       string
	Calls         int
	Errors        int
	AvgDurationMs float64
	MaxDurationMs float64
}

// Summary aggregates the whole archive.
type Summary struct {
	TotalCalls    int
	Errors        int
	Captures      int
	Methods       int
	AvgDurationMs float64
	FirstSeen     string
	LastSeen      string
}

const maxMethods = 1024

// MethodStats groups calls by method, busiest first.
func (db *DB) MethodStats() (stats []MethodStat, err error) {
	rows, err := db.conn.Query(`
		SELECT method, MAX(rpc_type), COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(NULLIF(duration_ms, 0)), 0),
		       COALESCE(MAX(duration_ms), 0)
		FROM calls GROUP BY method ORDER BY COUNT(*) DESC, method ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying method stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing method stats rows: %w", closeErr)
		}
	}()

	for i := 0; i < maxMethods; i++ {
		if !rows.Next() {
			break
		}
		var s MethodStat
		if err := rows.Scan(&s.Method, &s.RPCType, &s.Calls, &s.Errors, &s.AvgDurationMs, &s.MaxDurationMs); err != nil {
			return nil, fmt.Errorf("scanning method stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := assert.Check(rows.Err() == nil, "method stats rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return stats, nil
}

// Summary returns totals over every archived call.
func (db *DB) Summary() (*Summary, error) {
	s := &Summary{}
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT capture_id),
		       COUNT(DISTINCT method),
		       COALESCE(AVG(NULLIF(duration_ms, 0)), 0),
		       COALESCE(MIN(requested_at), ''),
		       COALESCE(MAX(responded_at), '')
		FROM calls`).Scan(&s.TotalCalls, &s.Errors, &s.Captures, &s.Methods, &s.AvgDurationMs, &s.FirstSeen, &s.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	return s, nil
}
