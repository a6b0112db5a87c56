// Package pipeline turns tabular rows into slug-addressed pages: variable
// assembly, geography resolution, slug generation and upsert, run
// sequentially per job with periodic progress checkpoints.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eringen/pagegen/logfields"
	"github.com/eringen/pagegen/metrics"
	"github.com/eringen/pagegen/tmpl"
)

// GeoLookup resolves reference geography. Lookups return ErrNotFound when
// nothing matches. FindCity restricts the search to stateID when non-empty
// and returns the city with its state and country attached.
type GeoLookup interface {
	FindState(ctx context.Context, slugOrCode string) (*State, error)
	FindCity(ctx context.Context, slugOrName, stateID string) (*City, error)
	FindCountry(ctx context.Context, code string) (*Country, error)
}

// PageStore persists generated pages. FindPageBySlug returns ErrNotFound
// for unknown slugs.
type PageStore interface {
	FindPageBySlug(ctx context.Context, slug string) (*Page, error)
	CreatePage(ctx context.Context, p *Page) error
	UpdatePage(ctx context.Context, p *Page) error
}

// JobStore persists job state. MarkJobProcessing must move a PENDING or
// QUEUED job to PROCESSING atomically and return ErrNotStartable otherwise.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	MarkJobProcessing(ctx context.Context, id string, at time.Time) error
	UpdateJobProgress(ctx context.Context, id string, p Progress) error
	FinalizeJob(ctx context.Context, id string, status Status, p Progress, errMsg string, at time.Time) error
}

// Invalidator drops cached copies of a public path.
type Invalidator interface {
	InvalidatePath(ctx context.Context, path string) error
}

// Deps are the runner's collaborators. Invalidator, Logger and Metrics are
// optional.
type Deps struct {
	Geo         GeoLookup
	Pages       PageStore
	Jobs        JobStore
	Invalidator Invalidator
	Logger      *zap.Logger
	Metrics     metrics.Recorder
}

const (
	defaultCheckpointEvery   = 10
	defaultInvalidateTimeout = 10 * time.Second
)

// Runner executes generation jobs.
type Runner struct {
	deps              Deps
	log               *zap.Logger
	metrics           metrics.Recorder
	steps             []Step
	checkpointEvery   int
	invalidateTimeout time.Duration
	now               func() time.Time
	newID             func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type RunnerOption func(*Runner)

// WithCheckpointEvery sets how many rows are processed between progress
// writes. Values below 1 are ignored.
func WithCheckpointEvery(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.checkpointEvery = n
		}
	}
}

// WithSteps replaces the variable assembly chain.
func WithSteps(steps ...Step) RunnerOption {
	return func(r *Runner) { r.steps = steps }
}

func WithInvalidateTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.invalidateTimeout = d }
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func WithIDGenerator(fn func() string) RunnerOption {
	return func(r *Runner) { r.newID = fn }
}

func NewRunner(deps Deps, opts ...RunnerOption) *Runner {
	r := &Runner{
		deps:              deps,
		log:               deps.Logger,
		metrics:           deps.Metrics,
		steps:             DefaultSteps(),
		checkpointEvery:   defaultCheckpointEvery,
		invalidateTimeout: defaultInvalidateTimeout,
		now:               time.Now,
		newID:             uuid.NewString,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = metrics.NoopRecorder{}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// ErrRunnerClosed is returned by Start after Close.
var ErrRunnerClosed = errors.New("runner is closed")

// Start verifies the job is startable, moves it to PROCESSING and runs it in
// the background. It returns as soon as the status has flipped.
func (r *Runner) Start(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	job, err := r.claim(ctx, jobID)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.Execute(r.ctx, job)
	}()
	return nil
}

// Run claims the job like Start but executes it on the caller's goroutine.
func (r *Runner) Run(ctx context.Context, jobID string) (Progress, error) {
	job, err := r.claim(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	return r.Execute(ctx, job)
}

func (r *Runner) claim(ctx context.Context, jobID string) (*Job, error) {
	job, err := r.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !job.Status.Startable() {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrNotStartable)
	}
	at := r.now()
	if err := r.deps.Jobs.MarkJobProcessing(ctx, jobID, at); err != nil {
		return nil, fmt.Errorf("mark job %s processing: %w", jobID, err)
	}
	job.Status = StatusProcessing
	job.StartedAt = &at
	r.log.Info("job started", logfields.JobID(jobID), zap.Int("rows", len(job.Rows)))
	return job, nil
}

// Wait blocks until every background job and invalidation has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Close stops background jobs between rows and waits for them. Interrupted
// jobs finalize as FAILED.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// Execute processes every row of a job already in PROCESSING, checkpoints
// progress and finalizes the job. The returned error is non-nil only for
// pipeline-level failures; row failures are recorded in the progress.
func (r *Runner) Execute(ctx context.Context, job *Job) (Progress, error) {
	started := r.now()
	log := r.log.With(logfields.JobID(job.ID))
	state := NewRunState(job, r.deps.Pages)
	prog := Progress{Total: len(job.Rows)}

	var runErr error
	for i, row := range job.Rows {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("job interrupted after %d of %d rows: %w", i, len(job.Rows), err)
			break
		}
		o := r.ProcessRow(ctx, state, i, row)
		prog.Record(i, o)
		r.metrics.IncRowOutcome(string(o.Action))
		if o.Action == ActionFailed {
			log.Warn("row failed", logfields.Row(i), logfields.Error(o.Err))
		} else {
			log.Debug("row processed", logfields.Row(i), logfields.Slug(o.Slug),
				logfields.Action(string(o.Action)), logfields.GeoLevel(string(o.GeoLevel)))
		}
		if prog.Processed%r.checkpointEvery == 0 && prog.Processed < prog.Total {
			if err := r.deps.Jobs.UpdateJobProgress(ctx, job.ID, prog.clone()); err != nil {
				runErr = fmt.Errorf("checkpoint after row %d: %w", i, err)
				break
			}
		}
	}

	status, msg := StatusCompleted, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	finished := r.now()
	// Finalize even when ctx was cancelled so the job never stays PROCESSING.
	if err := r.deps.Jobs.FinalizeJob(context.WithoutCancel(ctx), job.ID, status, prog.clone(), msg, finished); err != nil {
		log.Error("finalize job failed", logfields.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finalize job: %w", err)
		}
	}
	job.Status, job.Progress, job.ErrorMessage, job.CompletedAt = status, prog.clone(), msg, &finished

	r.metrics.IncJobOutcome(string(status))
	r.metrics.ObserveJobDuration(finished.Sub(started))
	log.Info("job finished",
		logfields.JobStatus(string(status)),
		zap.Int("processed", prog.Processed),
		zap.Int("created", prog.Created),
		zap.Int("updated", prog.Updated),
		zap.Int("skipped", prog.Skipped),
		zap.Int("failed", prog.Failed),
		logfields.DurationMS(float64(finished.Sub(started).Milliseconds())),
	)
	return prog, runErr
}

// ProcessRow runs one row through assembly, geography, slug and upsert.
// It never panics; a panic inside the row is reported as a failure.
func (r *Runner) ProcessRow(ctx context.Context, state *RunState, idx int, row Row) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Action: ActionFailed, Err: rowFailure(KindInternal, idx, fmt.Errorf("panic: %v", p))}
		}
	}()
	job := state.job

	vars := Assemble(r.steps, Source{Job: job, Row: row})
	geo, err := ResolveGeo(ctx, r.deps.Geo, vars)
	if err != nil {
		return Outcome{Action: ActionFailed, Err: rowFailure(KindResolution, idx, err)}
	}
	slug, err := GenerateSlug(job.SlugPattern, vars)
	if err != nil {
		return Outcome{Action: ActionFailed, GeoLevel: geo.Level, Err: rowFailure(KindValidation, idx, err)}
	}
	out = Outcome{Slug: slug, GeoLevel: geo.Level}

	existing, err := state.find(ctx, slug)
	if err != nil {
		out.Action, out.Err = ActionFailed, rowFailure(KindPersistence, idx, err)
		return out
	}
	display := r.displayFields(job, vars)

	if existing != nil {
		if job.Policy.SkipExisting || !job.Policy.UpdateExisting {
			out.Action = ActionSkipped
			return out
		}
		page := mergePage(existing, vars, display, geo, job.Policy.PublishOnCreate, r.now())
		if err := state.update(ctx, page); err != nil {
			out.Action, out.Err = ActionFailed, rowFailure(KindPersistence, idx, err)
			return out
		}
		if !job.Policy.DryRun {
			r.invalidate(page.Path())
		}
		out.Action = ActionUpdated
		return out
	}

	now := r.now()
	page := &Page{
		ID:              r.newID(),
		Slug:            slug,
		TemplateID:      job.TemplateID,
		Title:           display.title,
		Subtitle:        display.subtitle,
		MetaTitle:       display.metaTitle,
		MetaDescription: display.metaDescription,
		CountryID:       geo.CountryID(),
		StateID:         geo.StateID(),
		CityID:          geo.CityID(),
		GeoLevel:        geo.Level,
		Variables:       vars,
		Published:       job.Policy.PublishOnCreate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if page.Published {
		page.PublishedAt = &now
	}
	if err := state.create(ctx, page); err != nil {
		out.Action, out.Err = ActionFailed, rowFailure(KindPersistence, idx, err)
		return out
	}
	out.Action = ActionCreated
	return out
}

type displayFields struct {
	title, subtitle, metaTitle, metaDescription string
}

// displayFields picks page display text from the row, falling back to the
// job's optional patterns rendered against the row's variables.
func (r *Runner) displayFields(job *Job, vars *tmpl.Map) displayFields {
	pick := func(pattern string, keys ...string) string {
		for _, k := range keys {
			if s := scalar(vars, k); s != "" {
				return s
			}
		}
		if pattern == "" {
			return ""
		}
		return tmpl.Render(pattern, vars, tmpl.Options{Policy: tmpl.RemoveUnresolved})
	}
	return displayFields{
		title:           pick(job.TitlePattern, "h1_title", "page_title"),
		subtitle:        pick("", "page_subtitle", "hero_subtitle"),
		metaTitle:       pick(job.MetaTitlePattern, "meta_title"),
		metaDescription: pick(job.MetaDescriptionPattern, "meta_description"),
	}
}

// mergePage applies an update on top of a stored page without mutating it.
// New variables win, display fields and geography change only when the new
// value is present, and publishing is one-way.
func mergePage(old *Page, vars *tmpl.Map, d displayFields, geo GeoRef, publish bool, now time.Time) *Page {
	p := *old
	base := old.Variables
	if base == nil {
		base = tmpl.NewMap()
	}
	p.Variables = base.Overlay(vars)
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&p.Title, d.title},
		{&p.Subtitle, d.subtitle},
		{&p.MetaTitle, d.metaTitle},
		{&p.MetaDescription, d.metaDescription},
	} {
		if f.val != "" {
			*f.dst = f.val
		}
	}
	if geo.Country != nil {
		p.CountryID = geo.CountryID()
	}
	if geo.State != nil {
		p.StateID = geo.StateID()
	}
	if geo.City != nil {
		p.CityID = geo.CityID()
	}
	if geo.Level != GeoNone {
		p.GeoLevel = geo.Level
	}
	if publish && !p.Published {
		p.Published = true
		p.PublishedAt = &now
	}
	p.UpdatedAt = now
	return &p
}

// invalidate fires a cache invalidation without blocking the row loop.
// Errors are logged and counted, never returned.
func (r *Runner) invalidate(path string) {
	if r.deps.Invalidator == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.invalidateTimeout)
		defer cancel()
		err := r.deps.Invalidator.InvalidatePath(ctx, path)
		r.metrics.IncInvalidation(err == nil)
		if err != nil {
			r.log.Warn("cache invalidation failed", logfields.Path(path), logfields.Error(err))
		}
	}()
}

// RunState carries per-job state across rows. Dry runs keep would-be
// writes in an overlay so later rows see earlier ones without touching the
// page store.
type RunState struct {
	job     *Job
	pages   PageStore
	overlay map[string]*Page
}

// NewRunState prepares the state for one execution of job.
func NewRunState(job *Job, pages PageStore) *RunState {
	s := &RunState{job: job, pages: pages}
	if job.Policy.DryRun {
		s.overlay = make(map[string]*Page)
	}
	return s
}

func (s *RunState) find(ctx context.Context, slug string) (*Page, error) {
	if p, ok := s.overlay[slug]; ok {
		return p, nil
	}
	p, err := s.pages.FindPageBySlug(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *RunState) create(ctx context.Context, p *Page) error {
	if s.overlay != nil {
		s.overlay[p.Slug] = p
		return nil
	}
	return s.pages.CreatePage(ctx, p)
}

func (s *RunState) update(ctx context.Context, p *Page) error {
	if s.overlay != nil {
		s.overlay[p.Slug] = p
		return nil
	}
	return s.pages.UpdatePage(ctx, p)
}
