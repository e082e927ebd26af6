package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/coriolis-labs/agentrun/internal/runmodel"
)

// PostgresStore implements Store against a relational runs table and a
// separate append-only run_events table, both keyed by run_id.
type PostgresStore struct {
	db *sql.DB

	stmtCreateRun       *sql.Stmt
	stmtGetRun          *sql.Stmt
	stmtUpdateRun       *sql.Stmt
	stmtAppendEvent     *sql.Stmt
	stmtGetEvents       *sql.Stmt
	stmtCountRunning    *sql.Stmt
	stmtNextEventSeq    *sql.Stmt
}

// PostgresConfig holds connection-pool settings for the run store's database.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns the pool defaults used when no override is given.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection pool against dsn and prepares the
// store's statements. dsn is a standard postgres:// URL or libpq keyword string.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateRun, err = s.db.Prepare(`
		INSERT INTO runs (run_id, goal, agent_profile_id, status, context, stream_tokens,
			steps, tool_calls, checkpoint_step_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '[]', '[]', 0, $7, $7)
	`)
	if err != nil {
		return fmt.Errorf("prepare create run: %w", err)
	}

	s.stmtGetRun, err = s.db.Prepare(`
		SELECT run_id, goal, agent_profile_id, status, context, stream_tokens, steps,
			tool_calls, pending_tool_call, checkpoint_step_index, answer, error,
			created_at, updated_at, completed_at
		FROM runs WHERE run_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get run: %w", err)
	}

	s.stmtUpdateRun, err = s.db.Prepare(`
		UPDATE runs SET status = $1, error = $2, answer = $3, steps = $4, tool_calls = $5,
			completed_at = $6, pending_tool_call = $7, checkpoint_step_index = $8, updated_at = $9
		WHERE run_id = $10
	`)
	if err != nil {
		return fmt.Errorf("prepare update run: %w", err)
	}

	s.stmtAppendEvent, err = s.db.Prepare(`
		INSERT INTO run_events (run_id, event_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare append event: %w", err)
	}

	s.stmtGetEvents, err = s.db.Prepare(`
		SELECT event_id, run_id, event_type, payload, created_at
		FROM run_events WHERE run_id = $1 AND event_id > $2
		ORDER BY event_id ASC LIMIT $3
	`)
	if err != nil {
		return fmt.Errorf("prepare get events: %w", err)
	}

	s.stmtCountRunning, err = s.db.Prepare(`
		SELECT count(*) FROM runs WHERE status IN ('running', 'awaiting_approval')
	`)
	if err != nil {
		return fmt.Errorf("prepare count running: %w", err)
	}

	s.stmtNextEventSeq, err = s.db.Prepare(`
		SELECT coalesce(max(event_id), 0) + 1 FROM run_events WHERE run_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare next event seq: %w", err)
	}

	return nil
}

// Close closes the prepared statements and the underlying pool.
func (s *PostgresStore) Close() error {
	stmts := []*sql.Stmt{
		s.stmtCreateRun, s.stmtGetRun, s.stmtUpdateRun,
		s.stmtAppendEvent, s.stmtGetEvents, s.stmtCountRunning, s.stmtNextEventSeq,
	}
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, goal, profileID string, runCtx map[string]string, streamTokens bool) (*runmodel.Run, error) {
	runCtxJSON, err := json.Marshal(runCtx)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	now := time.Now()
	run := &runmodel.Run{
		RunID:          uuid.NewString(),
		Goal:           goal,
		AgentProfileID: profileID,
		Status:         runmodel.StatusPending,
		Context:        runCtx,
		StreamTokens:   streamTokens,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = s.stmtCreateRun.ExecContext(ctx,
		run.RunID, run.Goal, run.AgentProfileID, run.Status, runCtxJSON, run.StreamTokens, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) GetRunByID(ctx context.Context, runID string) (*runmodel.Run, error) {
	return scanRun(s.stmtGetRun.QueryRowContext(ctx, runID))
}

func scanRun(row *sql.Row) (*runmodel.Run, error) {
	run := &runmodel.Run{}
	var contextJSON, stepsJSON, toolCallsJSON, pendingJSON []byte
	var answer, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.RunID, &run.Goal, &run.AgentProfileID, &run.Status, &contextJSON,
		&run.StreamTokens, &stepsJSON, &toolCallsJSON, &pendingJSON,
		&run.CheckpointStepIndex, &answer, &errMsg,
		&run.CreatedAt, &run.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if len(contextJSON) > 0 && string(contextJSON) != "null" {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &run.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &run.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	if len(pendingJSON) > 0 && string(pendingJSON) != "null" {
		if err := json.Unmarshal(pendingJSON, &run.PendingToolCall); err != nil {
			return nil, fmt.Errorf("unmarshal pending tool call: %w", err)
		}
	}
	run.Answer = answer.String
	run.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit, offset int, status runmodel.Status) ([]*runmodel.Run, error) {
	query := `
		SELECT run_id, goal, agent_profile_id, status, context, stream_tokens, steps,
			tool_calls, pending_tool_call, checkpoint_step_index, answer, error,
			created_at, updated_at, completed_at
		FROM runs
	`
	var args []any
	argPos := 1
	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, limit)
		argPos++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*runmodel.Run
	for rows.Next() {
		run := &runmodel.Run{}
		var contextJSON, stepsJSON, toolCallsJSON, pendingJSON []byte
		var answer, errMsg sql.NullString
		var completedAt sql.NullTime

		if err := rows.Scan(
			&run.RunID, &run.Goal, &run.AgentProfileID, &run.Status, &contextJSON,
			&run.StreamTokens, &stepsJSON, &toolCallsJSON, &pendingJSON,
			&run.CheckpointStepIndex, &answer, &errMsg,
			&run.CreatedAt, &run.UpdatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		if len(contextJSON) > 0 && string(contextJSON) != "null" {
			json.Unmarshal(contextJSON, &run.Context)
		}
		if len(stepsJSON) > 0 {
			json.Unmarshal(stepsJSON, &run.Steps)
		}
		if len(toolCallsJSON) > 0 {
			json.Unmarshal(toolCallsJSON, &run.ToolCalls)
		}
		if len(pendingJSON) > 0 && string(pendingJSON) != "null" {
			json.Unmarshal(pendingJSON, &run.PendingToolCall)
		}
		run.Answer = answer.String
		run.Error = errMsg.String
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// UpdateRun reads the current row, applies patch in Go, and writes the full
// row back inside a transaction, so a concurrent AppendRunEvent on the same
// run never blocks on this update's lock.
func (s *PostgresStore) UpdateRun(ctx context.Context, runID string, patch runmodel.UpdateFields) (*runmodel.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanRun(tx.StmtContext(ctx, s.stmtGetRun).QueryRowContext(ctx, runID))
	if err != nil {
		return nil, err
	}

	applyPatch(current, patch)
	current.UpdatedAt = time.Now()

	stepsJSON, err := json.Marshal(current.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	toolCallsJSON, err := json.Marshal(current.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	var pendingJSON []byte
	if current.PendingToolCall != nil {
		pendingJSON, err = json.Marshal(current.PendingToolCall)
		if err != nil {
			return nil, fmt.Errorf("marshal pending tool call: %w", err)
		}
	}

	result, err := tx.StmtContext(ctx, s.stmtUpdateRun).ExecContext(ctx,
		current.Status, nullableString(current.Error), nullableString(current.Answer),
		stepsJSON, toolCallsJSON, current.CompletedAt, pendingJSON,
		current.CheckpointStepIndex, current.UpdatedAt, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return current, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) AppendRunEvent(ctx context.Context, runID string, eventType runmodel.EventType, payload any) (*runmodel.Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var nextID int64
	if err := tx.StmtContext(ctx, s.stmtNextEventSeq).QueryRowContext(ctx, runID).Scan(&nextID); err != nil {
		return nil, fmt.Errorf("next event sequence: %w", err)
	}

	now := time.Now()
	if _, err := tx.StmtContext(ctx, s.stmtAppendEvent).ExecContext(ctx, runID, nextID, eventType, payloadJSON, now); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append event: %w", err)
	}

	return &runmodel.Event{
		EventID:   nextID,
		RunID:     runID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) GetRunEvents(ctx context.Context, runID string, afterID int64, limit int) ([]*runmodel.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.stmtGetEvents.QueryContext(ctx, runID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []*runmodel.Event
	for rows.Next() {
		event := &runmodel.Event{}
		var payloadJSON []byte
		if err := rows.Scan(&event.EventID, &event.RunID, &event.EventType, &payloadJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payloadJSON) > 0 {
			var payload any
			if err := json.Unmarshal(payloadJSON, &payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
			event.Payload = payload
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) CountRunningRuns(ctx context.Context) (int, error) {
	var count int
	if err := s.stmtCountRunning.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("count running runs: %w", err)
	}
	return count, nil
}
