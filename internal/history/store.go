package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/mqtt-call-service/internal/service"
)

// timeLayout sorts lexically in the same order as time.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Call is a stored service call.
type Call struct {
	ID         string         `json:"id"`
	Domain     string         `json:"domain"`
	Service    string         `json:"service"`
	Data       map[string]any `json:"data"`
	Source     string         `json:"source,omitempty"`
	Blocking   bool           `json:"blocking"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS float64        `json:"duration_ms"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// Filter selects stored calls. Zero fields match everything.
type Filter struct {
	Domain  string
	Service string
	Status  string
	Since   time.Time
	Limit   int // default 50, max 500
	Offset  int
}

// ListResult is one page of calls, newest first.
type ListResult struct {
	Calls  []Call `json:"calls"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Store reads and writes the service_calls table.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores one call record.
func (s *Store) Insert(ctx context.Context, rec service.CallRecord) error {
	data := []byte("{}")
	if len(rec.Data) > 0 {
		b, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("marshalling call data: %w", err)
		}
		data = b
	}

	var errText any
	if rec.Err != nil {
		errText = rec.Err.Error()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_calls (id, domain, service, data, source, blocking, started_at, duration_ms, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Domain, rec.Service, string(data), rec.Source,
		boolToInt(rec.Blocking),
		rec.StartedAt.UTC().Format(timeLayout),
		float64(rec.Duration)/float64(time.Millisecond),
		rec.Status(), errText,
	)
	if err != nil {
		return fmt.Errorf("inserting service call: %w", err)
	}
	return nil
}

// List returns calls matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidFilter)
	}

	var conditions []string
	var args []any
	if filter.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, strings.ToLower(filter.Domain))
	}
	if filter.Service != "" {
		conditions = append(conditions, "service = ?")
		args = append(args, strings.ToLower(filter.Service))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM service_calls " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting service calls: %w", err)
	}

	query := "SELECT id, domain, service, data, source, blocking, started_at, duration_ms, status, error FROM service_calls " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying service calls: %w", err)
	}
	defer rows.Close()

	calls := []Call{}
	for rows.Next() {
		var c Call
		var data, startedAt string
		var blocking int
		var errText sql.NullString

		if err := rows.Scan(&c.ID, &c.Domain, &c.Service, &data, &c.Source,
			&blocking, &startedAt, &c.DurationMS, &c.Status, &errText); err != nil {
			return nil, fmt.Errorf("scanning service call: %w", err)
		}

		c.Blocking = blocking != 0
		c.Error = errText.String
		if json.Unmarshal([]byte(data), &c.Data) != nil || c.Data == nil {
			c.Data = map[string]any{}
		}
		c.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing call timestamp %q: %w", startedAt, err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service calls: %w", err)
	}

	return &ListResult{
		Calls:  calls,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Purge deletes calls that started before cutoff and returns how many
// rows were removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM service_calls WHERE started_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purging service calls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged rows: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
