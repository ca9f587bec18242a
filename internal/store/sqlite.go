package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"finsage/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes anyway; a single pooled connection avoids
	// SQLITE_BUSY under concurrent tool-call recording and keeps ":memory:"
	// databases shared across the pool.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			question_id TEXT NOT NULL,
			question_text TEXT NOT NULL,
			context_ref TEXT NOT NULL,
			entity TEXT,
			status TEXT NOT NULL,
			responder TEXT,
			category TEXT,
			rationale TEXT,
			evidence TEXT,
			final TEXT,
			error TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			responder TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			note TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_run ON turns(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_call_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			query TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 1,
			result TEXT,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			handoff_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			from_responder TEXT NOT NULL,
			to_responder TEXT NOT NULL,
			rationale TEXT,
			excerpt TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_run ON handoffs(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS critic_reports (
			report_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			verdict TEXT NOT NULL,
			corrections TEXT,
			confidence TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, question_id, question_text, context_ref, entity, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Question.ID, run.Question.Text, run.Question.ContextRef,
		run.Question.Entity, run.Status, run.StartedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, question_id, question_text, context_ref, entity, status, responder,
		        category, rationale, evidence, final, error, started_at, ended_at
		 FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var entity, responder, category, rationale, evidence, final, errData sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&run.RunID, &run.Question.ID, &run.Question.Text, &run.Question.ContextRef,
		&entity, &run.Status, &responder, &category, &rationale, &evidence, &final, &errData,
		&run.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.Question.Entity = entity.String
	run.Responder = responder.String
	if category.Valid {
		cls := &domain.Classification{
			Category:  domain.Category(category.String),
			Rationale: rationale.String,
		}
		if evidence.Valid && evidence.String != "" {
			if err := json.Unmarshal([]byte(evidence.String), &cls.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode evidence: %w", err)
			}
		}
		run.Classification = cls
	}
	if final.Valid && final.String != "" {
		run.Final = json.RawMessage(final.String)
	}
	if errData.Valid && errData.String != "" {
		run.Error = json.RawMessage(errData.String)
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// UpdateRunStatus advances a non-terminal run to a new status and active
// responder. Terminal runs are never updated.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, responder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, responder = ? WHERE run_id = ? AND status NOT IN ('DONE', 'FAILED')`,
		status, responder, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found or already sealed", runID)
	}
	return nil
}

// UpdateRunClassification records the triage decision on the run.
func (s *SQLiteStore) UpdateRunClassification(ctx context.Context, runID string, cls *domain.Classification) error {
	evidence, _ := json.Marshal(cls.Evidence)
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET category = ?, rationale = ?, evidence = ? WHERE run_id = ?`,
		cls.Category, cls.Rationale, string(evidence), runID)
	return err
}

// SealRun moves a run to an absorbing terminal status. Sealing an already
// terminal run is an error: the trail is immutable once sealed.
func (s *SQLiteStore) SealRun(ctx context.Context, runID string, status domain.RunStatus, final []byte, errData []byte) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot seal run with non-terminal status %s", status)
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final = ?, error = ?, ended_at = ?
		 WHERE run_id = ? AND status NOT IN ('DONE', 'FAILED')`,
		status, nullable(final), nullable(errData), now, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found or already sealed", runID)
	}
	return nil
}

// ListRuns returns the most recent runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, question_id, question_text, context_ref, entity, status, responder,
		        category, rationale, evidence, final, error, started_at, ended_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CreateTurn appends a turn record.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *domain.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, run_id, seq, responder, input, output, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.RunID, turn.Seq, turn.Responder, turn.Input,
		nullable(turn.Output), turn.Note, turn.CreatedAt)
	return err
}

// CreateToolCall appends a completed tool call record.
func (s *SQLiteStore) CreateToolCall(ctx context.Context, tc *domain.ToolCall) error {
	var completedAt interface{}
	if tc.CompletedAt != nil {
		completedAt = *tc.CompletedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, run_id, turn_id, tool, query, status, attempts, result, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ToolCallID, tc.RunID, tc.TurnID, tc.Tool, tc.Query, tc.Status, tc.Attempts,
		nullable(tc.Result), nullable(tc.Error), tc.CreatedAt, completedAt)
	return err
}

// CreateHandoff appends a handoff event record.
func (s *SQLiteStore) CreateHandoff(ctx context.Context, ho *domain.HandoffEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handoffs (handoff_id, run_id, turn_id, from_responder, to_responder, rationale, excerpt, accepted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ho.HandoffID, ho.RunID, ho.TurnID, ho.From, ho.To, ho.Rationale, ho.Excerpt,
		boolToInt(ho.Accepted), ho.CreatedAt)
	return err
}

// CreateCriticReport appends a critic report record.
func (s *SQLiteStore) CreateCriticReport(ctx context.Context, report *domain.CriticReport) error {
	corrections, _ := json.Marshal(report.Corrections)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO critic_reports (report_id, run_id, turn_id, verdict, corrections, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ReportID, report.RunID, report.TurnID, report.Verdict, string(corrections),
		report.Confidence, report.CreatedAt)
	return err
}

// GetAuditTrail reassembles a run's full ordered record.
func (s *SQLiteStore) GetAuditTrail(ctx context.Context, runID string) (*domain.AuditTrail, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	trail := &domain.AuditTrail{Run: *run}

	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, run_id, seq, responder, input, output, note, created_at
		 FROM turns WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Turn
		var output, note sql.NullString
		if err := rows.Scan(&t.TurnID, &t.RunID, &t.Seq, &t.Responder, &t.Input, &output, &note, &t.CreatedAt); err != nil {
			return nil, err
		}
		if output.Valid && output.String != "" {
			t.Output = json.RawMessage(output.String)
		}
		t.Note = note.String
		trail.Turns = append(trail.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tcRows, err := s.db.QueryContext(ctx,
		`SELECT tool_call_id, run_id, turn_id, tool, query, status, attempts, result, error, created_at, completed_at
		 FROM tool_calls WHERE run_id = ? ORDER BY created_at, tool_call_id`, runID)
	if err != nil {
		return nil, err
	}
	defer tcRows.Close()
	for tcRows.Next() {
		var tc domain.ToolCall
		var result, errData sql.NullString
		var completedAt sql.NullTime
		if err := tcRows.Scan(&tc.ToolCallID, &tc.RunID, &tc.TurnID, &tc.Tool, &tc.Query,
			&tc.Status, &tc.Attempts, &result, &errData, &tc.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if result.Valid && result.String != "" {
			tc.Result = json.RawMessage(result.String)
		}
		if errData.Valid && errData.String != "" {
			tc.Error = json.RawMessage(errData.String)
		}
		if completedAt.Valid {
			tc.CompletedAt = &completedAt.Time
		}
		trail.Tools = append(trail.Tools, tc)
	}
	if err := tcRows.Err(); err != nil {
		return nil, err
	}

	hoRows, err := s.db.QueryContext(ctx,
		`SELECT handoff_id, run_id, turn_id, from_responder, to_responder, rationale, excerpt, accepted, created_at
		 FROM handoffs WHERE run_id = ? ORDER BY created_at, handoff_id`, runID)
	if err != nil {
		return nil, err
	}
	defer hoRows.Close()
	for hoRows.Next() {
		var ho domain.HandoffEvent
		var accepted int
		if err := hoRows.Scan(&ho.HandoffID, &ho.RunID, &ho.TurnID, &ho.From, &ho.To,
			&ho.Rationale, &ho.Excerpt, &accepted, &ho.CreatedAt); err != nil {
			return nil, err
		}
		ho.Accepted = accepted != 0
		trail.Handoffs = append(trail.Handoffs, ho)
	}
	if err := hoRows.Err(); err != nil {
		return nil, err
	}

	crRow := s.db.QueryRowContext(ctx,
		`SELECT report_id, run_id, turn_id, verdict, corrections, confidence, created_at
		 FROM critic_reports WHERE run_id = ? ORDER BY created_at LIMIT 1`, runID)
	var cr domain.CriticReport
	var corrections sql.NullString
	err = crRow.Scan(&cr.ReportID, &cr.RunID, &cr.TurnID, &cr.Verdict, &corrections, &cr.Confidence, &cr.CreatedAt)
	switch err {
	case nil:
		if corrections.Valid && corrections.String != "" {
			if err := json.Unmarshal([]byte(corrections.String), &cr.Corrections); err != nil {
				return nil, fmt.Errorf("failed to decode corrections: %w", err)
			}
		}
		trail.Critic = &cr
	case sql.ErrNoRows:
		// No review phase for this run.
	default:
		return nil, err
	}

	return trail, nil
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
