package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/loom/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/loom.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow instead of Exec.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// CreateRun inserts a new run in running state. The started_at defaults to
// now when unset.
func (s *LibSQLStore) CreateRun(ctx context.Context, run *RunRecord) error {
	if run.RunID == "" || run.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run record requires run_id and workflow_id")
	}
	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	params, err := nullableJSON(run.Params)
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, status, input, params, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.WorkflowID, status, nullStr(run.Input), params, timeOrNow(run.StartedAt),
	)
	return err
}

// CompleteRun marks a run completed with its final result.
func (s *LibSQLStore) CompleteRun(ctx context.Context, runID, result string, took time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, duration_ms = ?, completed_at = CURRENT_TIMESTAMP
		 WHERE run_id = ?`,
		StatusCompleted, result, took.Milliseconds(), runID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, runID)
}

// FailRun marks a run failed with the error message.
func (s *LibSQLStore) FailRun(ctx context.Context, runID, errMsg string, took time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, duration_ms = ?, completed_at = CURRENT_TIMESTAMP
		 WHERE run_id = ?`,
		StatusFailed, errMsg, took.Milliseconds(), runID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, runID)
}

func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	run := &RunRecord{}
	var input, params, result, errMsg sql.NullString
	var durationMS sql.NullInt64
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, status, input, params, result, error, duration_ms, started_at, completed_at
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.WorkflowID, &run.Status, &input, &params, &result, &errMsg,
		&durationMS, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}

	run.Input = input.String
	run.Result = result.String
	run.Error = errMsg.String
	run.DurationMS = durationMS.Int64
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal run params: %w", err)
		}
	}
	return run, nil
}

// ListRuns returns runs matching the filter, most recent first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var conds []string
	var args []any
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT run_id, workflow_id, status, input, params, result, error, duration_ms, started_at, completed_at FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		var input, params, result, errMsg sql.NullString
		var durationMS sql.NullInt64
		var completedAt sql.NullTime
		if err := rows.Scan(&run.RunID, &run.WorkflowID, &run.Status, &input, &params,
			&result, &errMsg, &durationMS, &run.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Input = input.String
		run.Result = result.String
		run.Error = errMsg.String
		run.DurationMS = durationMS.Int64
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &run.Params); err != nil {
				return nil, fmt.Errorf("unmarshal run params: %w", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent records one progress event for a run.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	if event.RunID == "" || event.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "event record requires run_id and type")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.RunID, event.Type, nullRaw(event.Payload), timeOrNow(event.CreatedAt),
	)
	return err
}

// ListEvents returns a run's events in append order.
func (s *LibSQLStore) ListEvents(ctx context.Context, runID string) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, type, payload, created_at FROM run_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		ev := &EventRecord{}
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- scan/bind helpers ---

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

func nullableJSON(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", runID)
	}
	return nil
}
