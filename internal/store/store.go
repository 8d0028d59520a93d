package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jpequegn/qlabbench/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tests (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	requested_profile TEXT NOT NULL,
	profile TEXT NOT NULL,
	target TEXT NOT NULL,
	size_gb REAL NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	pid INTEGER,
	pgid INTEGER,
	estimated_duration INTEGER NOT NULL,
	output_path TEXT,
	result_blob TEXT,
	error TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tests_state ON tests(state);
CREATE INDEX IF NOT EXISTS idx_tests_started_at ON tests(started_at);

CREATE TABLE IF NOT EXISTS processes (
	test_id TEXT NOT NULL,
	pid INTEGER NOT NULL,
	pgid INTEGER NOT NULL,
	command TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	state TEXT NOT NULL,
	PRIMARY KEY (test_id, pid),
	FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_processes_state ON processes(state);

CREATE TABLE IF NOT EXISTS metrics (
	test_id TEXT NOT NULL,
	ts DATETIME NOT NULL,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT NOT NULL,
	FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE
);
`

// resultBlob is the JSON shape stored in tests.result_blob.
type resultBlob struct {
	Summary *model.Summary `json:"summary,omitempty"`
	Grading *model.Grading `json:"grading,omitempty"`
}

// Store is a SQLite-backed, transactional record of test lifecycle state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveStart inserts a new tests row in the Starting state along with its
// initial processes row, in a single transaction.
func (s *Store) SaveStart(req model.TestRequest, pid, pgid int, startTime time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO tests (id, state, requested_profile, profile, target, size_gb,
			started_at, pid, pgid, estimated_duration, output_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(req.TestId), string(model.StateStarting), req.RequestedProfile, string(req.ProfileId),
		req.TargetPath, req.SizeGB, startTime, pid, pgid, req.EstimatedDurationS, req.OutputArtifactPath,
	)
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO processes (test_id, pid, pgid, command, started_at, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(req.TestId), pid, pgid, "fio", startTime, string(model.StateStarting))
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}

	return tx.Commit()
}

// UpdateState transitions a test's state, optionally attaching a Summary,
// Grading, and/or error message, and records completed_at on terminal
// transitions. A row already in a terminal state is never modified: the
// first terminal transition wins and later attempts are ignored.
func (s *Store) UpdateState(id model.TestId, newState model.TestState, summary *model.Summary, grading *model.Grading, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRow(`SELECT state FROM tests WHERE id = ?`, string(id)).Scan(&current)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query current state: %w", err)
	}
	if model.TestState(current).IsTerminal() {
		return nil
	}

	var blobJSON []byte
	if summary != nil || grading != nil {
		blobJSON, err = json.Marshal(resultBlob{Summary: summary, Grading: grading})
		if err != nil {
			return fmt.Errorf("marshal result blob: %w", err)
		}
	}

	var completedAt interface{}
	if newState.IsTerminal() {
		completedAt = time.Now()
	}

	res, err := tx.Exec(`
		UPDATE tests SET state = ?, result_blob = COALESCE(?, result_blob),
			error = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ?
	`, string(newState), nullIfEmpty(blobJSON), errMsg, completedAt, string(id))
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}

	if _, err := tx.Exec(`UPDATE processes SET state = ? WHERE test_id = ?`, string(newState), string(id)); err != nil {
		return fmt.Errorf("update process: %w", err)
	}

	return tx.Commit()
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Get returns a single test record by id.
func (s *Store) Get(id model.TestId) (*model.TestRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, state, requested_profile, profile, target, size_gb, started_at,
			completed_at, pid, pgid, estimated_duration, output_path, result_blob, error
		FROM tests WHERE id = ?
	`, string(id))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return rec, err
}

// ListRunning returns all rows in a non-terminal state.
func (s *Store) ListRunning() ([]*model.TestRecord, error) {
	return s.ListByStates(model.StateStarting, model.StateRunning, model.StateDisconnected)
}

// ListByStates returns all rows whose state is one of states, newest first.
func (s *Store) ListByStates(states ...model.TestState) ([]*model.TestRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := fmt.Sprintf(`
		SELECT id, state, requested_profile, profile, target, size_gb, started_at,
			completed_at, pid, pgid, estimated_duration, output_path, result_blob, error
		FROM tests
		WHERE state IN (%s)
		ORDER BY started_at DESC
	`, strings.Join(placeholders, ","))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tests by state: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Delete permanently removes a test row and its associated processes and
// metrics rows, used by background cleanup rather than retention pruning.
func (s *Store) Delete(id model.TestId) error {
	res, err := s.db.Exec(`DELETE FROM tests WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RecoverOrphans finds running rows older than minAge and asks the caller's
// liveness probe whether the recorded pid is still alive. Live records
// become disconnected; dead ones become failed with reason "orphaned
// during restart"; the probe may also return indeterminate (leaving the
// record as running, to be resolved as unknown by the caller).
func (s *Store) RecoverOrphans(minAge time.Duration, probeLive func(pid int) (alive bool, determinate bool)) ([]*model.TestRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, state, requested_profile, profile, target, size_gb, started_at,
			completed_at, pid, pgid, estimated_duration, output_path, result_blob, error
		FROM tests
		WHERE state = ? AND started_at <= ?
	`, string(model.StateRunning), time.Now().Add(-minAge))
	if err != nil {
		return nil, fmt.Errorf("query orphan candidates: %w", err)
	}
	candidates, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var recovered []*model.TestRecord
	for _, rec := range candidates {
		if rec.PID == nil {
			continue
		}
		alive, determinate := probeLive(*rec.PID)
		if !determinate {
			continue
		}
		newState := model.StateFailed
		errMsg := "orphaned during restart"
		if alive {
			newState = model.StateDisconnected
			errMsg = ""
		}
		if err := s.UpdateState(rec.TestId, newState, nil, nil, errMsg); err != nil {
			return recovered, err
		}
		rec.State = newState
		rec.ErrorMsg = errMsg
		recovered = append(recovered, rec)
	}
	return recovered, nil
}

// History returns the most recent terminal rows, newest first.
func (s *Store) History(limit int) ([]*model.TestRecord, error) {
	query := `
		SELECT id, state, requested_profile, profile, target, size_gb, started_at,
			completed_at, pid, pgid, estimated_duration, output_path, result_blob, error
		FROM tests
		WHERE state IN (?, ?, ?, ?, ?)
		ORDER BY started_at DESC
	`
	args := []interface{}{
		string(model.StateCompleted), string(model.StateFailed), string(model.StateStopped),
		string(model.StateTimeout), string(model.StateUnknown),
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Prune deletes terminal rows older than the retention window, cascading
// to processes and metrics via foreign keys.
func (s *Store) Prune(olderThanDays int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM tests
		WHERE state IN (?, ?, ?, ?, ?) AND started_at < ?
	`,
		string(model.StateCompleted), string(model.StateFailed), string(model.StateStopped),
		string(model.StateTimeout), string(model.StateUnknown),
		time.Now().AddDate(0, 0, -olderThanDays),
	)
	if err != nil {
		return 0, fmt.Errorf("prune tests: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports the number of tests per state plus the on-disk database
// size in bytes.
func (s *Store) Stats() (map[model.TestState]int, int64, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM tests GROUP BY state`)
	if err != nil {
		return nil, 0, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.TestState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, 0, fmt.Errorf("scan stats row: %w", err)
		}
		counts[model.TestState(state)] = count
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return counts, 0, fmt.Errorf("query page_count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return counts, 0, fmt.Errorf("query page_size: %w", err)
	}

	return counts, pageCount * pageSize, nil
}

// RecordMetric appends a single time-series sample for a test.
func (s *Store) RecordMetric(id model.TestId, name string, value float64, unit string) error {
	_, err := s.db.Exec(`INSERT INTO metrics (test_id, ts, name, value, unit) VALUES (?, ?, ?, ?, ?)`,
		string(id), time.Now(), name, value, unit)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*model.TestRecord, error) {
	var (
		id, state, reqProfile, profile, target string
		sizeGB, estDuration                    float64
		startedAt                              time.Time
		completedAt                            sql.NullTime
		pid, pgid                              sql.NullInt64
		outputPath, blobJSON, errMsg           sql.NullString
	)

	if err := row.Scan(&id, &state, &reqProfile, &profile, &target, &sizeGB, &startedAt,
		&completedAt, &pid, &pgid, &estDuration, &outputPath, &blobJSON, &errMsg); err != nil {
		return nil, err
	}

	rec := &model.TestRecord{
		TestRequest: model.TestRequest{
			TestId:             model.TestId(id),
			ProfileId:          model.ProfileId(profile),
			RequestedProfile:   reqProfile,
			TargetPath:         target,
			SizeGB:             sizeGB,
			EstimatedDurationS: int(estDuration),
			OutputArtifactPath: outputPath.String,
		},
		State:     model.TestState(state),
		StartTime: startedAt,
		ErrorMsg:  errMsg.String,
	}

	if completedAt.Valid {
		t := completedAt.Time
		rec.EndTime = &t
	}
	if pid.Valid {
		v := int(pid.Int64)
		rec.PID = &v
	}
	if pgid.Valid {
		v := int(pgid.Int64)
		rec.PGID = &v
	}
	if blobJSON.Valid && blobJSON.String != "" {
		var blob resultBlob
		if err := json.Unmarshal([]byte(blobJSON.String), &blob); err == nil {
			rec.Summary = blob.Summary
			rec.Grading = blob.Grading
		}
	}

	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*model.TestRecord, error) {
	var out []*model.TestRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test rows: %w", err)
	}
	return out, nil
}
