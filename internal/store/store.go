// Package store persists orchestrator state to an embedded SQLite database
// so the loop resumes retry and backoff counters across process restarts.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joseguzman1337/autopilot/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const deployHashKey = "last_deployed_hash"

// Store manages the SQLite database backing agent records, cycle history,
// and deploy state.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if necessary) the database at dbPath and applies
// the schema.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks instead of
	// failing during concurrent initialization of the same file.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a SQL statement with exponential backoff on
// "database is locked" errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveAgentRecord upserts one agent record.
func (s *Store) SaveAgentRecord(ctx context.Context, rec *models.AgentRecord) error {
	query := `INSERT INTO agent_records
		(name, enabled, last_run, last_status, last_reason, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			last_status = excluded.last_status,
			last_reason = excluded.last_reason,
			consecutive_failures = excluded.consecutive_failures`

	_, err := s.db.ExecContext(ctx, query,
		rec.Name,
		boolToInt(rec.Enabled),
		rec.LastRun,
		string(rec.LastOutcome.Status),
		rec.LastOutcome.Reason,
		rec.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("save agent record %s: %w", rec.Name, err)
	}
	return nil
}

// GetAgentRecord loads one agent record. An agent never seen before gets a
// fresh enabled record rather than an error.
func (s *Store) GetAgentRecord(ctx context.Context, name string) (*models.AgentRecord, error) {
	query := `SELECT name, enabled, last_run, last_status, last_reason, consecutive_failures
		FROM agent_records WHERE name = ?`

	rec, err := scanAgentRecord(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return &models.AgentRecord{Name: name, Enabled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent record %s: %w", name, err)
	}
	return rec, nil
}

// ListAgentRecords returns all agent records ordered by name.
func (s *Store) ListAgentRecords(ctx context.Context) ([]*models.AgentRecord, error) {
	query := `SELECT name, enabled, last_run, last_status, last_reason, consecutive_failures
		FROM agent_records ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agent records: %w", err)
	}
	defer rows.Close()

	var records []*models.AgentRecord
	for rows.Next() {
		rec, err := scanAgentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetAgentEnabled flips the persisted enabled flag for one agent,
// creating the record if the agent has never run.
func (s *Store) SetAgentEnabled(ctx context.Context, name string, enabled bool) error {
	query := `INSERT INTO agent_records (name, enabled) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled`
	if _, err := s.db.ExecContext(ctx, query, name, boolToInt(enabled)); err != nil {
		return fmt.Errorf("set agent %s enabled=%v: %w", name, enabled, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentRecord(row rowScanner) (*models.AgentRecord, error) {
	var rec models.AgentRecord
	var enabled int
	var lastRun sql.NullTime
	var status, reason string

	if err := row.Scan(&rec.Name, &enabled, &lastRun, &status, &reason, &rec.ConsecutiveFailures); err != nil {
		return nil, err
	}
	rec.Enabled = enabled != 0
	if lastRun.Valid {
		rec.LastRun = lastRun.Time
	}
	rec.LastOutcome = models.Outcome{Status: models.Status(status), Reason: reason}
	return &rec, nil
}

// AppendCycle appends a finalized cycle record to the history.
func (s *Store) AppendCycle(ctx context.Context, rec *models.CycleRecord) error {
	agentJSON, err := json.Marshal(rec.AgentOutcomes)
	if err != nil {
		return fmt.Errorf("marshal agent outcomes: %w", err)
	}
	stageJSON, err := json.Marshal(rec.StageOutcomes)
	if err != nil {
		return fmt.Errorf("marshal stage outcomes: %w", err)
	}

	query := `INSERT INTO cycle_records
		(id, started_at, finished_at, overall_status, overall_reason, failed_stage, deploy_attempted, agent_outcomes, stage_outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.StartedAt,
		rec.FinishedAt,
		string(rec.Overall.Status),
		rec.Overall.Reason,
		string(rec.FailedStage),
		boolToInt(rec.DeployAttempted),
		string(agentJSON),
		string(stageJSON),
	)
	if err != nil {
		return fmt.Errorf("append cycle %s: %w", rec.ID, err)
	}
	return nil
}

// LatestCycle returns the most recent cycle record, or nil if the history
// is empty.
func (s *Store) LatestCycle(ctx context.Context) (*models.CycleRecord, error) {
	cycles, err := s.RecentCycles(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	return cycles[0], nil
}

// RecentCycles returns up to limit cycle records, newest first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]*models.CycleRecord, error) {
	query := `SELECT id, started_at, finished_at, overall_status, overall_reason, failed_stage, deploy_attempted, agent_outcomes, stage_outcomes
		FROM cycle_records ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*models.CycleRecord
	for rows.Next() {
		var rec models.CycleRecord
		var status, reason, failedStage, agentJSON, stageJSON string
		var deployAttempted int

		err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.FinishedAt, &status, &reason,
			&failedStage, &deployAttempted, &agentJSON, &stageJSON)
		if err != nil {
			return nil, fmt.Errorf("scan cycle record: %w", err)
		}

		rec.Overall = models.Outcome{Status: models.Status(status), Reason: reason}
		rec.FailedStage = models.Stage(failedStage)
		rec.DeployAttempted = deployAttempted != 0
		if err := json.Unmarshal([]byte(agentJSON), &rec.AgentOutcomes); err != nil {
			return nil, fmt.Errorf("unmarshal agent outcomes: %w", err)
		}
		if err := json.Unmarshal([]byte(stageJSON), &rec.StageOutcomes); err != nil {
			return nil, fmt.Errorf("unmarshal stage outcomes: %w", err)
		}
		cycles = append(cycles, &rec)
	}
	return cycles, rows.Err()
}

// ConsecutiveCycleFailures counts the unbroken run of Failure cycles at the
// tail of the history. This is what survives restarts so the escalation
// threshold is not reset by a process bounce.
func (s *Store) ConsecutiveCycleFailures(ctx context.Context) (int, error) {
	query := `SELECT overall_status FROM cycle_records ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query cycle statuses: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, fmt.Errorf("scan cycle status: %w", err)
		}
		if models.Status(status) != models.StatusFailure {
			break
		}
		count++
	}
	return count, rows.Err()
}

// LastDeployedHash returns the persisted deployed commit hash, or empty if
// nothing was deployed yet.
func (s *Store) LastDeployedHash(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM deploy_state WHERE key = ?`, deployHashKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get deploy hash: %w", err)
	}
	return value, nil
}

// SetLastDeployedHash records the deployed commit hash.
func (s *Store) SetLastDeployedHash(ctx context.Context, hash string) error {
	query := `INSERT INTO deploy_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, deployHashKey, hash); err != nil {
		return fmt.Errorf("set deploy hash: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
