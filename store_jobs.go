package pagegen

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eringen/pagegen/pipeline"
)

// ErrJobNotProcessing is returned when progress is written for a job that
// is not PROCESSING.
var ErrJobNotProcessing = errors.New("job is not processing")

const jobColumns = `id, name, template_id, template_slug, insurance_type_slug, insurance_type_name,
	slug_pattern, title_pattern, meta_title_pattern, meta_description_pattern, input_rows, renames,
	skip_existing, update_existing, publish_on_create, dry_run, status,
	total, processed, created, updated, skipped, failed, error_log, error_message,
	created_at, started_at, completed_at`

// jobSummaryColumns is jobColumns with the input rows left out.
var jobSummaryColumns = strings.Replace(jobColumns, "input_rows", "'[]'", 1)

func scanJob(row interface{ Scan(...any) error }) (*pipeline.Job, error) {
	var j pipeline.Job
	var rows, renames, errLog, status, createdAt string
	var skip, update, publish, dry int
	var startedAt, completedAt sql.NullString
	if err := row.Scan(&j.ID, &j.Name, &j.TemplateID, &j.TemplateSlug, &j.InsuranceTypeSlug, &j.InsuranceTypeName,
		&j.SlugPattern, &j.TitlePattern, &j.MetaTitlePattern, &j.MetaDescriptionPattern, &rows, &renames,
		&skip, &update, &publish, &dry, &status,
		&j.Progress.Total, &j.Progress.Processed, &j.Progress.Created, &j.Progress.Updated,
		&j.Progress.Skipped, &j.Progress.Failed, &errLog, &j.ErrorMessage,
		&createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rows), &j.Rows); err != nil {
		return nil, fmt.Errorf("job %s rows: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(renames), &j.Renames); err != nil {
		return nil, fmt.Errorf("job %s renames: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(errLog), &j.Progress.Errors); err != nil {
		return nil, fmt.Errorf("job %s error log: %w", j.ID, err)
	}
	j.Policy = pipeline.Policy{
		SkipExisting:    skip == 1,
		UpdateExisting:  update == 1,
		PublishOnCreate: publish == 1,
		DryRun:          dry == 1,
	}
	j.Status = pipeline.Status(status)
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	return &j, nil
}

func jsonText(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// CreateJob inserts a new job. ID, status and creation time are filled in
// when unset, and Total is derived from the rows.
func (s *Store) CreateJob(ctx context.Context, j *pipeline.Job) error {
	if j.TemplateID == "" {
		return errors.New("job requires a template")
	}
	if strings.TrimSpace(j.SlugPattern) == "" {
		return errors.New("job requires a slug pattern")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = pipeline.StatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = timeNow()
	}
	j.Progress = pipeline.Progress{Total: len(j.Rows)}

	rows, err := jsonText(j.Rows, "[]")
	if err != nil {
		return err
	}
	renames, err := jsonText(j.Renames, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, '[]', '', ?, NULL, NULL)`,
		j.ID, j.Name, j.TemplateID, j.TemplateSlug, j.InsuranceTypeSlug, j.InsuranceTypeName,
		j.SlugPattern, j.TitlePattern, j.MetaTitlePattern, j.MetaDescriptionPattern, rows, renames,
		boolInt(j.Policy.SkipExisting), boolInt(j.Policy.UpdateExisting),
		boolInt(j.Policy.PublishOnCreate), boolInt(j.Policy.DryRun), string(j.Status),
		j.Progress.Total, formatTime(j.CreatedAt))
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (*pipeline.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

// ListJobs returns the most recent jobs without their input rows.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]pipeline.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobSummaryColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ListQueuedJobs returns the IDs of QUEUED jobs, oldest first.
func (s *Store) ListQueuedJobs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status = 'QUEUED' ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QueueJob moves a PENDING job to QUEUED so the dispatcher picks it up.
func (s *Store) QueueJob(ctx context.Context, id string) error {
	return s.transition(ctx, id, `UPDATE jobs SET status = 'QUEUED' WHERE id = ? AND status = 'PENDING'`, pipeline.ErrNotStartable)
}

// MarkJobProcessing claims a PENDING or QUEUED job. The conditional update
// guarantees that only one caller wins a race for the same job.
func (s *Store) MarkJobProcessing(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, `UPDATE jobs SET status = 'PROCESSING', started_at = ?
		WHERE id = ? AND status IN ('PENDING', 'QUEUED')`, pipeline.ErrNotStartable, formatTime(at))
}

func (s *Store) UpdateJobProgress(ctx context.Context, id string, p pipeline.Progress) error {
	errLog, err := jsonText(p.Errors, "[]")
	if err != nil {
		return err
	}
	return s.transition(ctx, id, `UPDATE jobs SET total = ?, processed = ?, created = ?, updated = ?,
		skipped = ?, failed = ?, error_log = ?
		WHERE id = ? AND status = 'PROCESSING'`, ErrJobNotProcessing,
		p.Total, p.Processed, p.Created, p.Updated, p.Skipped, p.Failed, errLog)
}

// FinalizeJob writes the terminal status and final progress of a
// PROCESSING job.
func (s *Store) FinalizeJob(ctx context.Context, id string, status pipeline.Status, p pipeline.Progress, errMsg string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize job %s: %s is not a terminal status", id, status)
	}
	errLog, err := jsonText(p.Errors, "[]")
	if err != nil {
		return err
	}
	return s.transition(ctx, id, `UPDATE jobs SET status = ?, total = ?, processed = ?, created = ?, updated = ?,
		skipped = ?, failed = ?, error_log = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'PROCESSING'`, ErrJobNotProcessing,
		string(status), p.Total, p.Processed, p.Created, p.Updated, p.Skipped, p.Failed, errLog, errMsg, formatTime(at))
}

// DeleteJob removes a job that is not currently processing.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.transition(ctx, id, `DELETE FROM jobs WHERE id = ? AND status != 'PROCESSING'`, pipeline.ErrNotStartable)
}

// transition runs a conditional statement whose last placeholder is the job
// ID. When nothing changes it reports ErrNotFound for unknown jobs and
// conflict otherwise.
func (s *Store) transition(ctx context.Context, id, query string, conflict error, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return conflict
}
