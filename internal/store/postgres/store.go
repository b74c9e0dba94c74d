// Package postgres persists rules, executions, cadences and the CRM entities automation acts on.
//
// Claims are single conditional UPDATE statements; a zero rows-affected result means another worker got
// there first. Counter updates that must agree with a state transition share its transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/pkg/metrics"
	pkgerrors "crmflow/pkg/errors"
)

const (
	metricsService  = "automation"
	metricsDatabase = "postgres"

	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ automation.RuleStore           = (*Store)(nil)
	_ automation.ExecutionRepository = (*Store)(nil)
	_ cadence.Store                  = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery(metricsService, metricsDatabase, op, status)
	metrics.ObserveDatabaseQueryDuration(metricsService, metricsDatabase, op, time.Since(start))
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func notFound(kind, id string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("%s %s not found", kind, id)).WithDetail("id", id)
}

func expectOne(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// jsonb encodes v for a JSONB column. Nil maps and slices are stored as their empty form.
func jsonb(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return []byte("{}"), nil
		}
	case map[string][]string:
		if t == nil {
			return []byte("{}"), nil
		}
	case []automation.LogEntry:
		if t == nil {
			return []byte("[]"), nil
		}
	}
	return json.Marshal(v)
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
