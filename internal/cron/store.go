// Package cron schedules recurring jobs that fire as inbound agent
// messages. Schedules are standard five-field cron expressions validated
// with gronx; jobs persist in a SQLite file so they survive restarts.
package cron

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Job is one scheduled task. Message is the text handed to the agent when
// the job fires; DeliverChannel/DeliverChatID optionally route the agent's
// reply to a chat.
type Job struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Schedule       string     `json:"schedule"`
	Message        string     `json:"message"`
	DeliverChannel string     `json:"deliver_channel,omitempty"`
	DeliverChatID  string     `json:"deliver_chat_id,omitempty"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	NextRun        time.Time  `json:"next_run"`
	LastRun        *time.Time `json:"last_run,omitempty"`
}

// Store persists jobs in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the job database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cron dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cron store: %w", err)
	}
	// Serialized access; the scheduler and the cron tool share this store.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		schedule TEXT NOT NULL,
		message TEXT NOT NULL,
		deliver_channel TEXT NOT NULL DEFAULT '',
		deliver_chat_id TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		next_run TIMESTAMP NOT NULL,
		last_run TIMESTAMP
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add inserts a job.
func (s *Store) Add(job Job) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, name, schedule, message, deliver_channel, deliver_chat_id, enabled, created_at, next_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Schedule, job.Message,
		job.DeliverChannel, job.DeliverChatID, job.Enabled,
		job.CreatedAt.UTC(), job.NextRun.UTC(),
	)
	if err != nil {
		return fmt.Errorf("add job %s: %w", job.Name, err)
	}
	return nil
}

// List returns all jobs, newest first.
func (s *Store) List() ([]Job, error) {
	rows, err := s.db.Query(
		`SELECT id, name, schedule, message, deliver_channel, deliver_chat_id, enabled, created_at, next_run, last_run
		 FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var lastRun sql.NullTime
		if err := rows.Scan(&j.ID, &j.Name, &j.Schedule, &j.Message,
			&j.DeliverChannel, &j.DeliverChatID, &j.Enabled,
			&j.CreatedAt, &j.NextRun, &lastRun); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if lastRun.Valid {
			t := lastRun.Time
			j.LastRun = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Due returns enabled jobs whose next run is at or before now.
func (s *Store) Due(now time.Time) ([]Job, error) {
	rows, err := s.db.Query(
		`SELECT id, name, schedule, message, deliver_channel, deliver_chat_id, enabled, created_at, next_run, last_run
		 FROM jobs WHERE enabled = 1 AND next_run <= ?`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var lastRun sql.NullTime
		if err := rows.Scan(&j.ID, &j.Name, &j.Schedule, &j.Message,
			&j.DeliverChannel, &j.DeliverChatID, &j.Enabled,
			&j.CreatedAt, &j.NextRun, &lastRun); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if lastRun.Valid {
			t := lastRun.Time
			j.LastRun = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Remove deletes a job by id. Reports whether a row was deleted.
func (s *Store) Remove(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetEnabled flips a job's enabled flag. Reports whether the job exists.
func (s *Store) SetEnabled(id string, enabled bool) (bool, error) {
	res, err := s.db.Exec(`UPDATE jobs SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return false, fmt.Errorf("enable job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkRun records a completed fire and the recomputed next run.
func (s *Store) MarkRun(id string, lastRun, nextRun time.Time) error {
	_, err := s.db.Exec(`UPDATE jobs SET last_run = ?, next_run = ? WHERE id = ?`,
		lastRun.UTC(), nextRun.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark run %s: %w", id, err)
	}
	return nil
}
