package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rctune/internal/tuner"
)

// ErrRunNotFound is returned by Get when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is the persisted summary of one tuner run.
type Run struct {
	RunID          string                   `json:"run_id"`
	Strategy       string                   `json:"strategy"`
	Oracle         string                   `json:"oracle"`
	TargetHz       float64                  `json:"target_hz"`
	ToleranceHz    float64                  `json:"tolerance_hz"`
	Status         tuner.Status             `json:"status"`
	Best           tuner.BestFit            `json:"best"`
	IterationCount int                      `json:"iteration_count"`
	OracleCalls    int                      `json:"oracle_calls"`
	Sensitivity    *tuner.SensitivityReport `json:"sensitivity,omitempty"`
	ParamsJSON     json.RawMessage          `json:"params_json,omitempty"`
	StartedAt      int64                    `json:"started_at"`
	CompletedAt    int64                    `json:"completed_at"`
}

// NewRun builds the stored summary of res.
func NewRun(res *tuner.Result, oracle string) *Run {
	return &Run{
		RunID:          res.RunID,
		Strategy:       res.Strategy,
		Oracle:         oracle,
		TargetHz:       res.TargetHz,
		ToleranceHz:    res.ToleranceHz,
		Status:         res.Status,
		Best:           res.Best,
		IterationCount: len(res.Iterations),
		OracleCalls:    res.OracleCalls,
		StartedAt:      res.StartedAt.UnixNano(),
		CompletedAt:    res.CompletedAt.UnixNano(),
	}
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return time.Duration(r.CompletedAt - r.StartedAt)
}

// RunStore provides persistence for tuner runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists run and its iterations in one transaction. If RunID is
// empty, a UUID is generated.
func (s *RunStore) Insert(run *Run, iterations []tuner.Iteration) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	if run.CompletedAt == 0 {
		run.CompletedAt = run.StartedAt
	}
	run.IterationCount = len(iterations)

	var paramsStr, sensStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}
	if run.Sensitivity != nil {
		b, err := json.Marshal(run.Sensitivity)
		if err != nil {
			return fmt.Errorf("marshal sensitivity: %w", err)
		}
		sensStr = string(b)
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO tuning_runs (
				run_id, strategy, oracle, target_hz, tolerance_hz, status,
				best_resistance, best_capacitance, best_frequency_hz, best_abs_error_hz, best_iteration,
				iteration_count, oracle_calls, params_json, sensitivity_json, started_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Strategy, run.Oracle, run.TargetHz, run.ToleranceHz, string(run.Status),
			run.Best.Candidate.Resistance, run.Best.Candidate.Capacitance, run.Best.FrequencyHz,
			run.Best.AbsError, run.Best.Iteration,
			run.IterationCount, run.OracleCalls, paramsStr, sensStr, run.StartedAt, run.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO tuning_iterations (
				run_id, iteration, phase, resistance, capacitance, frequency_hz,
				found, abs_error_hz, best, jittered, probes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare iteration insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range iterations {
			if _, err := stmt.Exec(
				run.RunID, it.Index, it.Phase, it.Candidate.Resistance, it.Candidate.Capacitance,
				it.FrequencyHz, it.Found, it.AbsError, it.Best, it.Jittered, it.Probes,
			); err != nil {
				return fmt.Errorf("insert iteration %d: %w", it.Index, err)
			}
		}
		return tx.Commit()
	})
}

// Save stores a finished result. sens may be nil.
func (s *RunStore) Save(res *tuner.Result, oracle string, params json.RawMessage, sens *tuner.SensitivityReport) (*Run, error) {
	run := NewRun(res, oracle)
	run.ParamsJSON = params
	run.Sensitivity = sens
	if err := s.Insert(run, res.Iterations); err != nil {
		return nil, err
	}
	logf("saved run %s (%s, %d iterations)", run.RunID, run.Status, run.IterationCount)
	return run, nil
}

const runColumns = `
	run_id, strategy, oracle, target_hz, tolerance_hz, status,
	best_resistance, best_capacitance, best_frequency_hz, best_abs_error_hz, best_iteration,
	iteration_count, oracle_calls, params_json, sensitivity_json, started_at, completed_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var status string
	var paramsStr, sensStr sql.NullString
	err := row.Scan(
		&r.RunID, &r.Strategy, &r.Oracle, &r.TargetHz, &r.ToleranceHz, &status,
		&r.Best.Candidate.Resistance, &r.Best.Candidate.Capacitance, &r.Best.FrequencyHz,
		&r.Best.AbsError, &r.Best.Iteration,
		&r.IterationCount, &r.OracleCalls, &paramsStr, &sensStr, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = tuner.Status(status)
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	if sensStr.Valid {
		var rep tuner.SensitivityReport
		if err := json.Unmarshal([]byte(sensStr.String), &rep); err != nil {
			return nil, fmt.Errorf("decode sensitivity for run %s: %w", r.RunID, err)
		}
		r.Sensitivity = &rep
	}
	return &r, nil
}

// Get returns a single run by ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM tuning_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. limit <= 0 returns all.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM tuning_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Iterations returns the stored iterations of a run in order.
func (s *RunStore) Iterations(runID string) ([]tuner.Iteration, error) {
	rows, err := s.db.Query(`
		SELECT iteration, phase, resistance, capacitance, frequency_hz,
		       found, abs_error_hz, best, jittered, probes
		FROM tuning_iterations
		WHERE run_id = ?
		ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var out []tuner.Iteration
	for rows.Next() {
		var it tuner.Iteration
		if err := rows.Scan(
			&it.Index, &it.Phase, &it.Candidate.Resistance, &it.Candidate.Capacitance, &it.FrequencyHz,
			&it.Found, &it.AbsError, &it.Best, &it.Jittered, &it.Probes,
		); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes a run and, through the foreign key, its iterations.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM tuning_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}
