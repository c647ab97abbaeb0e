package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a bulk job.
//
// NOTE: These values are persisted in bulk_jobs rows and are part of
// the stable on-disk contract.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses never
// transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the durable record of one bulk lookup job. Once the in-process
// executor is reaped this row is the source of truth.
type Job struct {
	JobID              string          `json:"job_id"`
	Status             JobStatus       `json:"status"`
	ExtensionIDs       []string        `json:"extension_ids"`
	Stores             []string        `json:"stores"`
	IncludePermissions bool            `json:"include_permissions"`
	TotalTasks         int             `json:"total_tasks"`
	CompletedTasks     int             `json:"completed_tasks"`
	FailedTasks        int             `json:"failed_tasks"`
	Results            json.RawMessage `json:"results,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// Progress returns completion as a percentage in [0, 100].
func (j *Job) Progress() float64 {
	if j.TotalTasks == 0 {
		return 0
	}
	return float64(j.CompletedTasks) / float64(j.TotalTasks) * 100
}

// JobUpdate is a partial update applied to a bulk_jobs row. Nil fields
// are left untouched.
type JobUpdate struct {
	Status         *JobStatus
	CompletedTasks *int
	FailedTasks    *int
	Results        json.RawMessage
	ErrorMessage   *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// CreateJob persists a new pending job row.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if job == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(job.JobID) == "" {
		return errors.New("job_id is required")
	}

	ids, err := json.Marshal(job.ExtensionIDs)
	if err != nil {
		return fmt.Errorf("encode extension ids: %w", err)
	}
	stores, err := json.Marshal(job.Stores)
	if err != nil {
		return fmt.Errorf("encode stores: %w", err)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bulk_jobs
		 (job_id, status, extension_ids, stores, include_permissions,
		  total_tasks, completed_tasks, failed_tasks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, string(job.Status), string(ids), string(stores),
		boolToInt(job.IncludePermissions), job.TotalTasks,
		job.CompletedTasks, job.FailedTasks, formatDBTime(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob applies a partial update to a job row.
func (s *Store) UpdateJob(ctx context.Context, jobID string, upd JobUpdate) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job_id is required")
	}

	var sets []string
	var args []any

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.CompletedTasks != nil {
		sets = append(sets, "completed_tasks = ?")
		args = append(args, *upd.CompletedTasks)
	}
	if upd.FailedTasks != nil {
		sets = append(sets, "failed_tasks = ?")
		args = append(args, *upd.FailedTasks)
	}
	if upd.Results != nil {
		sets = append(sets, "results = ?")
		args = append(args, string(upd.Results))
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, formatDBTime(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatDBTime(*upd.CompletedAt))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, jobID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE bulk_jobs SET `+strings.Join(sets, ", ")+` WHERE job_id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job not found: %s", jobID)
	}
	return nil
}

// GetJob loads a job row. A nil job with a nil error means the job does
// not exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, status, extension_ids, stores, include_permissions,
		        total_tasks, completed_tasks, failed_tasks, results,
		        error_message, created_at, started_at, completed_at
		 FROM bulk_jobs
		 WHERE job_id = ?`,
		jobID)

	var job Job
	var status, ids, stores string
	var includePermissions int
	var results, errorMessage sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&job.JobID, &status, &ids, &stores, &includePermissions,
		&job.TotalTasks, &job.CompletedTasks, &job.FailedTasks, &results,
		&errorMessage, &createdAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.Status = JobStatus(status)
	job.IncludePermissions = includePermissions != 0

	if err := json.Unmarshal([]byte(ids), &job.ExtensionIDs); err != nil {
		return nil, fmt.Errorf("decode extension ids: %w", err)
	}
	if err := json.Unmarshal([]byte(stores), &job.Stores); err != nil {
		return nil, fmt.Errorf("decode stores: %w", err)
	}
	if results.Valid && results.String != "" {
		job.Results = json.RawMessage(results.String)
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}

	if job.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.StartedAt, err = parseOptionalDBTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if job.CompletedAt, err = parseOptionalDBTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return &job, nil
}
