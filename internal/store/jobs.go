package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, asin, country_code, format, bucket, prefix, account, state, reason, raw_path, m4b_path, created_at, updated_at"

// JobRecord is one row of the acquisition job ledger.
type JobRecord struct {
	ID          string    `json:"id"`
	ASIN        string    `json:"asin"`
	CountryCode string    `json:"country_code"`
	Format      string    `json:"format"`
	Bucket      string    `json:"bucket"`
	Prefix      string    `json:"path"`
	Account     string    `json:"account,omitempty"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	RawPath     string    `json:"raw_path,omitempty"`
	M4BPath     string    `json:"m4b_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateJob inserts a new ledger row. CreatedAt and UpdatedAt are stamped here.
func (s *Store) CreateJob(ctx context.Context, job *JobRecord) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("create job: id is required")
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	timestamp := formatTime(now)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ASIN,
		job.CountryCode,
		job.Format,
		job.Bucket,
		job.Prefix,
		job.Account,
		job.State,
		nullableString(job.Reason),
		nullableString(job.RawPath),
		nullableString(job.M4BPath),
		timestamp,
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob persists the mutable fields of a ledger row.
func (s *Store) UpdateJob(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("update job: nil record")
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, reason = ?, raw_path = ?, m4b_path = ?, updated_at = ? WHERE id = ?`,
		job.State,
		nullableString(job.Reason),
		nullableString(job.RawPath),
		nullableString(job.M4BPath),
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update job %s: no such row", job.ID)
	}
	return nil
}

// GetJob fetches a ledger row by id. A missing row returns nil without error.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recently updated rows, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobsByState returns a count of rows grouped by state.
func (s *Store) CountJobsByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// PruneJobs deletes rows in the given terminal states last updated before cutoff.
func (s *Store) PruneJobs(ctx context.Context, before time.Time, states ...string) (int64, error) {
	if len(states) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, 0, len(states)+1)
	args = append(args, formatTime(before))
	for _, state := range states {
		args = append(args, state)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE updated_at < ? AND state IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*JobRecord, error) {
	var (
		job        JobRecord
		reason     sql.NullString
		rawPath    sql.NullString
		m4bPath    sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ASIN,
		&job.CountryCode,
		&job.Format,
		&job.Bucket,
		&job.Prefix,
		&job.Account,
		&job.State,
		&reason,
		&rawPath,
		&m4bPath,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Reason = reason.String
	job.RawPath = rawPath.String
	job.M4BPath = m4bPath.String
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	return &job, nil
}

// FailInterrupted marks every non-terminal row as failed with reason. The
// daemon calls it at startup: a job still in flight belonged to a process
// that no longer exists.
func (s *Store) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = 'failed', reason = ?, updated_at = ?
         WHERE state NOT IN ('complete', 'failed')`,
		reason,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}
