package pagegen

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pagegen/logfields"
	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/tmpl"
	"github.com/eringen/pagegen/views"
)

const maxCSVUpload = 20 << 20 // 20MB

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, views.AdminLogin(false, CsrfToken(c)))
	}
	ctx := c.Request().Context()
	total, published, err := a.Store.CountPages(ctx)
	if err != nil {
		return err
	}
	jobs, err := a.Store.ListJobs(ctx, 20)
	if err != nil {
		return err
	}
	rows := make([]views.DashboardJob, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, views.DashboardJob{
			ID:        j.ID,
			Name:      j.Name,
			Status:    string(j.Status),
			Processed: j.Progress.Processed,
			Total:     j.Progress.Total,
			Failed:    j.Progress.Failed,
		})
	}
	return Render(c, views.AdminDashboard(total, published, rows, CsrfToken(c)))
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.loginLimiter.Record(ip)
	return RenderStatus(c, http.StatusUnauthorized, views.AdminLogin(true, CsrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// Templates

func (a *App) handleListTemplates(c echo.Context) error {
	ts, err := a.Store.ListTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	if ts == nil {
		ts = []Template{}
	}
	return c.JSON(http.StatusOK, ts)
}

func (a *App) handleGetTemplate(c echo.Context) error {
	t, err := a.Store.FindTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (a *App) handleSaveTemplate(c echo.Context) error {
	var t Template
	if err := c.Bind(&t); err != nil {
		return badRequest("invalid template: %v", err)
	}
	if strings.TrimSpace(t.HTML) == "" {
		return badRequest("html is required")
	}
	if t.Slug == "" && t.Name == "" {
		return badRequest("slug or name is required")
	}
	if err := a.Store.SaveTemplate(c.Request().Context(), &t); err != nil {
		return err
	}
	a.Cache.InvalidateTemplate(t.ID)
	return c.JSON(http.StatusOK, t)
}

func (a *App) handleDeleteTemplate(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := a.Store.FindTemplate(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := a.Store.DeleteTemplate(ctx, t.ID); err != nil {
		return err
	}
	a.Cache.InvalidateTemplate(t.ID)
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleTemplateVariables(c echo.Context) error {
	t, err := a.Store.FindTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"variables": t.Variables()})
}

type previewRequest struct {
	Variables *tmpl.Map `json:"variables"`
}

type previewResponse struct {
	HTML       string          `json:"html"`
	CSS        string          `json:"css"`
	Validation tmpl.Validation `json:"validation"`
}

// handlePreviewTemplate renders a template against sample variables and
// reports which referenced variables the sample leaves empty.
func (a *App) handlePreviewTemplate(c echo.Context) error {
	t, err := a.Store.FindTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid preview request: %v", err)
	}
	vars := req.Variables
	if vars == nil {
		vars = tmpl.NewMap()
	}
	out := tmpl.RenderWithStyle(t.HTML, t.CSS, vars, a.Logger.Named("tmpl"))
	return c.JSON(http.StatusOK, previewResponse{
		HTML:       out.HTML,
		CSS:        out.CSS,
		Validation: tmpl.ValidateContext(t.HTML+"\n"+t.CSS, vars),
	})
}

// Jobs

type jobRequest struct {
	Name                   string            `json:"name"`
	Template               string            `json:"template"`
	InsuranceTypeSlug      string            `json:"insurance_type_slug"`
	InsuranceTypeName      string            `json:"insurance_type_name"`
	SlugPattern            string            `json:"slug_pattern"`
	TitlePattern           string            `json:"title_pattern"`
	MetaTitlePattern       string            `json:"meta_title_pattern"`
	MetaDescriptionPattern string            `json:"meta_description_pattern"`
	Rows                   []pipeline.Row    `json:"rows"`
	CSV                    string            `json:"csv"`
	Renames                []pipeline.Rename `json:"renames"`
	Policy                 pipeline.Policy   `json:"policy"`
	Queue                  bool              `json:"queue"`
}

// ParseRenames turns "target=source" pairs into renames.
func ParseRenames(pairs []string) ([]pipeline.Rename, error) {
	var out []pipeline.Rename
	for _, p := range pairs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		target, source, ok := strings.Cut(p, "=")
		target, source = strings.TrimSpace(target), strings.TrimSpace(source)
		if !ok || target == "" || source == "" {
			return nil, fmt.Errorf("invalid mapping %q, want target=source", p)
		}
		out = append(out, pipeline.Rename{Target: target, Source: source})
	}
	return out, nil
}

// bindJobRequest reads a job from JSON, or from a multipart form carrying
// the rows as a "csv" file upload.
func bindJobRequest(c echo.Context) (jobRequest, error) {
	var req jobRequest
	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if err := c.Bind(&req); err != nil {
			return req, badRequest("invalid job: %v", err)
		}
		if req.CSV != "" {
			rows, err := pipeline.ReadCSV(strings.NewReader(req.CSV))
			if err != nil {
				return req, badRequest("%v", err)
			}
			req.Rows = append(req.Rows, rows...)
		}
		return req, nil
	}

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxCSVUpload)
	req = jobRequest{
		Name:                   c.FormValue("name"),
		Template:               c.FormValue("template"),
		InsuranceTypeSlug:      c.FormValue("insurance_type_slug"),
		InsuranceTypeName:      c.FormValue("insurance_type_name"),
		SlugPattern:            c.FormValue("slug_pattern"),
		TitlePattern:           c.FormValue("title_pattern"),
		MetaTitlePattern:       c.FormValue("meta_title_pattern"),
		MetaDescriptionPattern: c.FormValue("meta_description_pattern"),
		Policy: pipeline.Policy{
			SkipExisting:    c.FormValue("skip_existing") != "",
			UpdateExisting:  c.FormValue("update_existing") != "",
			PublishOnCreate: c.FormValue("publish_on_create") != "",
			DryRun:          c.FormValue("dry_run") != "",
		},
		Queue: c.FormValue("queue") != "",
	}
	form, err := c.MultipartForm()
	if err != nil {
		return req, badRequest("invalid upload: %v", err)
	}
	renames, err := ParseRenames(form.Value["map"])
	if err != nil {
		return req, badRequest("%v", err)
	}
	req.Renames = renames
	fh, err := c.FormFile("csv")
	if err != nil {
		return req, badRequest("csv file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return req, err
	}
	defer f.Close()
	rows, err := pipeline.ReadCSV(f)
	if err != nil {
		return req, badRequest("%v", err)
	}
	req.Rows = rows
	return req, nil
}

func (a *App) handleCreateJob(c echo.Context) error {
	req, err := bindJobRequest(c)
	if err != nil {
		return err
	}
	if req.Template == "" {
		return badRequest("template is required")
	}
	if strings.TrimSpace(req.SlugPattern) == "" {
		return badRequest("slug_pattern is required")
	}
	if len(req.Rows) == 0 {
		return badRequest("job has no rows")
	}
	ctx := c.Request().Context()
	t, err := a.Store.FindTemplate(ctx, req.Template)
	if errors.Is(err, ErrNotFound) {
		return badRequest("unknown template %q", req.Template)
	}
	if err != nil {
		return err
	}
	job := &pipeline.Job{
		Name:                   req.Name,
		TemplateID:             t.ID,
		TemplateSlug:           t.Slug,
		InsuranceTypeSlug:      req.InsuranceTypeSlug,
		InsuranceTypeName:      req.InsuranceTypeName,
		SlugPattern:            req.SlugPattern,
		TitlePattern:           req.TitlePattern,
		MetaTitlePattern:       req.MetaTitlePattern,
		MetaDescriptionPattern: req.MetaDescriptionPattern,
		Rows:                   req.Rows,
		Renames:                req.Renames,
		Policy:                 req.Policy,
	}
	if req.Queue {
		job.Status = pipeline.StatusQueued
	}
	if err := a.Store.CreateJob(ctx, job); err != nil {
		return err
	}
	a.Logger.Info("job created", logfields.JobID(job.ID), logfields.TemplateID(t.ID),
		logfields.JobStatus(string(job.Status)))
	job.Rows = nil
	return c.JSON(http.StatusCreated, job)
}

func (a *App) handleListJobs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	jobs, err := a.Store.ListJobs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []pipeline.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

// handleGetJob reports a job's status and progress. Input rows are only
// included with ?rows=1.
func (a *App) handleGetJob(c echo.Context) error {
	job, err := a.Store.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if c.QueryParam("rows") == "" {
		job.Rows = nil
	}
	return c.JSON(http.StatusOK, job)
}

func (a *App) handleDeleteJob(c echo.Context) error {
	if err := a.Store.DeleteJob(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleExecuteJob flips a PENDING or QUEUED job to PROCESSING and runs it
// in the background. It answers 202 as soon as the job is claimed.
func (a *App) handleExecuteJob(c echo.Context) error {
	if !a.triggerLimiter.Allow("execute:" + c.RealIP()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many job triggers, try again later")
	}
	id := c.Param("id")
	err := a.Runner.Start(c.Request().Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrRunnerClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"id":      id,
		"status":  string(pipeline.StatusProcessing),
		"message": "Job started",
	})
}

// handleQueueJob hands a PENDING job to the dispatcher.
func (a *App) handleQueueJob(c echo.Context) error {
	id := c.Param("id")
	if err := a.Store.QueueJob(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": string(pipeline.StatusQueued)})
}

// Pages

func (a *App) handleListPages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	pages, err := a.Store.ListPages(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	if pages == nil {
		pages = []pipeline.Page{}
	}
	return c.JSON(http.StatusOK, pages)
}

type publishRequest struct {
	Slug      string `json:"slug"`
	Published bool   `json:"published"`
}

func (a *App) handlePublishPage(c echo.Context) error {
	var req publishRequest
	if err := c.Bind(&req); err != nil || req.Slug == "" {
		return badRequest("slug is required")
	}
	ctx := c.Request().Context()
	slug := strings.Trim(req.Slug, "/")
	if err := a.Store.SetPagePublished(ctx, slug, req.Published); err != nil {
		return err
	}
	a.invalidatePath(ctx, "/"+slug)
	return c.JSON(http.StatusOK, map[string]any{"slug": slug, "published": req.Published})
}

func (a *App) handleDeletePage(c echo.Context) error {
	slug := strings.Trim(c.QueryParam("slug"), "/")
	if slug == "" {
		return badRequest("slug is required")
	}
	ctx := c.Request().Context()
	if err := a.Store.DeletePage(ctx, slug); err != nil {
		return err
	}
	a.invalidatePath(ctx, "/"+slug)
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleListStates(c echo.Context) error {
	states, err := a.Store.ListStates(c.Request().Context())
	if err != nil {
		return err
	}
	if states == nil {
		states = []pipeline.State{}
	}
	return c.JSON(http.StatusOK, states)
}

// invalidatePath notifies every invalidation target. Failures are logged
// only; the write that triggered them already succeeded.
func (a *App) invalidatePath(ctx context.Context, path string) {
	if err := a.invalidator.InvalidatePath(context.WithoutCancel(ctx), path); err != nil {
		a.Logger.Warn("cache invalidation failed", logfields.Path(path), logfields.Error(err))
	}
}
