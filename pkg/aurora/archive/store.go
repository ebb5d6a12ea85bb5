// Package archive persists job and poll history to a local SQLite database
// so degradation decisions remain auditable after a job is gone from the
// scheduler queue.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

// JobEntry is one archived scheduler job.
type JobEntry struct {
	JobID     string
	Title     string
	State     string
	Pipeline  string
	Submitted *time.Time
	Completed *time.Time
}

// PollEntry is the outcome of one monitor evaluation.
type PollEntry struct {
	JobID     string
	Timestamp time.Time
	Cycles    int
	Capacity  float64 // latest capacity, mAh
	Retention float64 // fraction of the first cycle
	Action    string
	Report    string
}

// Store is a SQLite-backed archive of jobs and their monitoring history.
type Store struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

// Open opens or creates the archive database.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	store := &Store{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %v", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %v", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		pipeline TEXT,
		submitted DATETIME,
		completed DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS polls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		cycles INTEGER NOT NULL,
		capacity REAL NOT NULL,
		retention REAL NOT NULL,
		action TEXT NOT NULL,
		report TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_polls_job_timestamp ON polls(job_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_polls_created_at ON polls(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	statements := map[string]string{
		"upsert_job": `
			INSERT INTO jobs (job_id, title, state, pipeline, submitted, completed, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(job_id) DO UPDATE SET
				state = excluded.state,
				pipeline = excluded.pipeline,
				completed = excluded.completed,
				updated_at = CURRENT_TIMESTAMP
		`,
		"insert_poll": `
			INSERT INTO polls (job_id, timestamp, cycles, capacity, retention, action, report)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
		"select_polls": `
			SELECT job_id, timestamp, cycles, capacity, retention, action, report
			FROM polls
			WHERE job_id = ?
			ORDER BY timestamp ASC
		`,
		"select_job": `
			SELECT job_id, title, state, pipeline, submitted, completed
			FROM jobs
			WHERE job_id = ?
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %v", name, err)
		}
		s.prepared[name] = stmt
	}
	return nil
}

// UpsertJob records a job's latest known lifecycle state.
func (s *Store) UpsertJob(entry JobEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.prepared["upsert_job"].Exec(
		entry.JobID, entry.Title, entry.State, entry.Pipeline,
		entry.Submitted, entry.Completed)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %v", entry.JobID, err)
	}
	return nil
}

// RecordPoll appends one monitor evaluation to the history.
func (s *Store) RecordPoll(entry PollEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.prepared["insert_poll"].Exec(
		entry.JobID, entry.Timestamp, entry.Cycles, entry.Capacity,
		entry.Retention, entry.Action, entry.Report)
	if err != nil {
		return fmt.Errorf("failed to record poll for job %s: %v", entry.JobID, err)
	}
	return nil
}

// GetJob returns the archived entry for a job, or sql.ErrNoRows.
func (s *Store) GetJob(jobID string) (JobEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var (
		entry                JobEntry
		submitted, completed sql.NullTime
	)
	err := s.prepared["select_job"].QueryRow(jobID).Scan(
		&entry.JobID, &entry.Title, &entry.State, &entry.Pipeline,
		&submitted, &completed)
	if err != nil {
		return JobEntry{}, err
	}
	if submitted.Valid {
		entry.Submitted = &submitted.Time
	}
	if completed.Valid {
		entry.Completed = &completed.Time
	}
	return entry, nil
}

// GetPolls returns the poll history of a job in chronological order.
func (s *Store) GetPolls(jobID string) ([]PollEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_polls"].Query(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query polls for job %s: %v", jobID, err)
	}
	defer rows.Close()

	var entries []PollEntry
	for rows.Next() {
		var entry PollEntry
		if err := rows.Scan(&entry.JobID, &entry.Timestamp, &entry.Cycles,
			&entry.Capacity, &entry.Retention, &entry.Action, &entry.Report); err != nil {
			return nil, fmt.Errorf("failed to scan poll row: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Cleanup removes poll rows older than the retention window. Job rows are
// kept; they are small and useful indefinitely.
func (s *Store) Cleanup(retention time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().Add(-retention)
	result, err := s.db.Exec("DELETE FROM polls WHERE created_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old polls: %v", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		klog.V(2).InfoS("Cleaned up old poll records", "removed", rows, "cutoff", cutoff)
	}
	return nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stmt := range s.prepared {
		stmt.Close()
	}
	return s.db.Close()
}
