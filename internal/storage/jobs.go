package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// defaultMaxAttempts applies when a job is enqueued without a limit.
const defaultMaxAttempts = 3

// jobTime formats job timestamps to the second, matching the column
// defaults, so run_after compares correctly as text.
func jobTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// retryDelay is the wait before a failed job's next attempt: 2s, 4s, 8s...
func retryDelay(attempts int) time.Duration {
	return time.Second << attempts
}

// EnqueueJob adds a pending job. A zero RunAfter makes it runnable now.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	_, err := s.db.Exec(`INSERT INTO jobs
		(id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, job.MaxAttempts,
		jobTime(runAfter), jobTime(now), jobTime(now),
	)
	return err
}

// ClaimNextJob marks the oldest runnable pending job of one of the given
// types as running and returns it. It returns nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := jobTime(time.Now())
	args := []any{JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}

	var claimed *Job
	err := s.inTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT id, type, payload_json, status, attempts, max_attempts,
				run_after, created_at, updated_at, last_error
			FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (`+placeholders(len(types))+`)
			ORDER BY run_after, created_at
			LIMIT 1`, args...)
		j, err := scanJob(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting next job: %w", err)
		}

		res, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			JobRunning, now, j.ID, JobPending)
		if err := mustAffect(res, err); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return fmt.Errorf("marking job %s running: %w", j.ID, err)
		}
		j.Status = JobRunning
		if j.UpdatedAt, err = parseTime("updated_at", now); err != nil {
			return err
		}
		claimed = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) CompleteJob(id string) error {
	return mustAffect(s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, jobTime(time.Now()), id))
}

// FailJob records a failed attempt. The job goes back to pending with an
// exponential delay until it has used max_attempts, then it is marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
		if err != nil {
			return noRows(err)
		}

		attempts++
		now := time.Now()
		status, runAfter := JobPending, now.Add(retryDelay(attempts))
		if attempts >= maxAttempts {
			status, runAfter = JobFailed, now
		}
		_, err = tx.Exec(`UPDATE jobs
			SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ?
			WHERE id = ?`,
			status, attempts, errMsg, jobTime(runAfter), jobTime(now), id)
		return err
	})
}

// RequeueRunning returns jobs left running by an interrupted process to
// pending without counting an attempt. It reports how many were reset.
func (s *Store) RequeueRunning() (int, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, jobTime(time.Now()), JobRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var runAfter, created, updated string
	var lastError sql.NullString
	if err := r.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &created, &updated, &lastError); err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String

	var err error
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at", created); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return Job{}, err
	}
	return j, nil
}
