package pagegen

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/tmpl"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seededStore returns a store with the embedded geography and starter
// template loaded.
func seededStore(t *testing.T) *Store {
	t.Helper()
	s := setupTestStore(t)
	require.NoError(t, SeedDefaults(context.Background(), s))
	return s
}

func freezeTime(t *testing.T, at time.Time) *time.Time {
	t.Helper()
	now := at
	prev := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = prev })
	return &now
}

func TestNewStore(t *testing.T) {
	s := setupTestStore(t)
	require.NotNil(t, s.db)
	assert.NoError(t, s.Ping())
}

func TestEveryConnectionGetsPragmas(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conns := make([]*sql.Conn, 4)
	for i := range conns {
		c, err := s.db.Conn(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		conns[i] = c
	}
	for i, c := range conns {
		var fk, timeout int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 1, fk, "conn %d foreign_keys", i)
		assert.Equal(t, 5000, timeout, "conn %d busy_timeout", i)
	}
}

func TestSeedDefaults(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	states, err := s.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 5)

	tpl, err := s.GetTemplateBySlug(ctx, DefaultTemplateSlug)
	require.NoError(t, err)
	assert.Contains(t, tpl.Variables(), "state_name")

	// A second call changes nothing.
	require.NoError(t, SeedDefaults(ctx, s))
	again, err := s.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 5)
	ts, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, ts, 1)
}

func TestFindState(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	for _, ref := range []string{"CA", "ca", "california", "California"} {
		st, err := s.FindState(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "California", st.Name, ref)
		assert.Equal(t, "CA", st.Code, ref)
		require.NotNil(t, st.Country, ref)
		assert.Equal(t, "US", st.Country.Code, ref)
	}

	_, err := s.FindState(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindCity(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	city, err := s.FindCity(ctx, "los-angeles", "")
	require.NoError(t, err)
	assert.Equal(t, "Los Angeles", city.Name)
	require.NotNil(t, city.State)
	assert.Equal(t, "CA", city.State.Code)
	require.NotNil(t, city.State.Country)
	assert.Equal(t, "US", city.State.Country.Code)

	byName, err := s.FindCity(ctx, "los angeles", "")
	require.NoError(t, err)
	assert.Equal(t, city.ID, byName.ID)

	tx, err := s.FindState(ctx, "TX")
	require.NoError(t, err)
	_, err = s.FindCity(ctx, "los-angeles", tx.ID)
	assert.ErrorIs(t, err, ErrNotFound, "city lookup is restricted to the state")

	houston, err := s.FindCity(ctx, "houston", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, houston.StateID)
}

func TestFindCountry(t *testing.T) {
	s := seededStore(t)
	c, err := s.FindCountry(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, "United States", c.Name)
	assert.Equal(t, "united-states", c.Slug)

	_, err = s.FindCountry(context.Background(), "zz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeedGeographyUpserts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seed, err := ParseGeoSeed([]byte(`
countries:
  - code: US
    name: United States
    states:
      - code: NV
        name: Nevada
        population: 100
        cities:
          - name: Las Vegas
            population: 50
          - name: Reno
`))
	require.NoError(t, err)
	stats, err := s.SeedGeography(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, SeedStats{Countries: 1, States: 1, Cities: 2}, stats)

	first, err := s.FindState(ctx, "nevada")
	require.NoError(t, err)
	assert.EqualValues(t, 100, first.Population)

	seed.Countries[0].States[0].Population = 3104614
	_, err = s.SeedGeography(ctx, seed)
	require.NoError(t, err)

	second, err := s.FindState(ctx, "NV")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reseeding keeps IDs")
	assert.EqualValues(t, 3104614, second.Population)

	city, err := s.FindCity(ctx, "las-vegas", second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Las Vegas", city.Name)
}

func TestSeedGeographyRejectsMissingCodes(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.SeedGeography(context.Background(), &GeoSeed{Countries: []CountrySeed{{Name: "Nowhere"}}})
	assert.Error(t, err)
}

func testPage(slug string, published bool) *pipeline.Page {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &pipeline.Page{
		ID:         "page-" + slug,
		Slug:       slug,
		TemplateID: "tpl-1",
		Title:      "Auto Insurance in " + slug,
		GeoLevel:   pipeline.GeoState,
		Variables:  tmpl.MapOf("state_name", "California", "avg_premium", 2115),
		Published:  published,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if published {
		p.PublishedAt = &now
	}
	return p
}

func TestCreateAndFindPage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stateID := "state-ca"
	page := testPage("auto-insurance/california", true)
	page.StateID = &stateID
	require.NoError(t, s.CreatePage(ctx, page))

	got, err := s.FindPageBySlug(ctx, page.Slug)
	require.NoError(t, err)
	assert.Equal(t, page.ID, got.ID)
	assert.Equal(t, page.Title, got.Title)
	assert.Equal(t, pipeline.GeoState, got.GeoLevel)
	assert.True(t, got.Published)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, page.PublishedAt.Equal(*got.PublishedAt))
	assert.True(t, page.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.StateID)
	assert.Equal(t, stateID, *got.StateID)
	assert.Nil(t, got.CityID)
	assert.Equal(t, []string{"state_name", "avg_premium"}, got.Variables.Keys(), "variable order survives storage")
	assert.Equal(t, "California", got.Variables.GetString("state_name"))

	err = s.CreatePage(ctx, testPage(page.Slug, false))
	assert.ErrorContains(t, err, "already exists")

	_, err = s.FindPageBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPublishedPage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreatePage(ctx, testPage("draft", false)))

	_, err := s.GetPublishedPage(ctx, "draft")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindPageBySlug(ctx, "draft")
	assert.NoError(t, err)
}

func TestUpdatePage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	page := testPage("home-insurance/texas", false)
	require.NoError(t, s.CreatePage(ctx, page))

	page.Title = "Updated"
	page.Variables = tmpl.MapOf("state_name", "Texas")
	page.UpdatedAt = page.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.UpdatePage(ctx, page))

	got, err := s.FindPageBySlug(ctx, page.Slug)
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Title)
	assert.Equal(t, "Texas", got.Variables.GetString("state_name"))
	assert.True(t, page.UpdatedAt.Equal(got.UpdatedAt))

	missing := testPage("nope", false)
	assert.ErrorIs(t, s.UpdatePage(ctx, missing), ErrNotFound)
}

func TestSetPagePublishedStampsOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	now := freezeTime(t, first)
	require.NoError(t, s.CreatePage(ctx, testPage("life-insurance", false)))

	require.NoError(t, s.SetPagePublished(ctx, "life-insurance", true))
	got, err := s.GetPublishedPage(ctx, "life-insurance")
	require.NoError(t, err)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, first.Equal(*got.PublishedAt))

	*now = first.Add(24 * time.Hour)
	require.NoError(t, s.SetPagePublished(ctx, "life-insurance", false))
	require.NoError(t, s.SetPagePublished(ctx, "life-insurance", true))
	got, err = s.GetPublishedPage(ctx, "life-insurance")
	require.NoError(t, err)
	assert.True(t, first.Equal(*got.PublishedAt), "republishing keeps the first publish time")

	assert.ErrorIs(t, s.SetPagePublished(ctx, "missing", true), ErrNotFound)
}

func TestListAndCountPages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for i, slug := range []string{"a", "b", "c"} {
		p := testPage(slug, slug != "b")
		p.UpdatedAt = p.UpdatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreatePage(ctx, p))
	}

	published, err := s.ListPublishedPages(ctx)
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Equal(t, "c", published[0].Slug, "most recently updated first")
	assert.Equal(t, "a", published[1].Slug)

	all, err := s.ListPages(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	rest, err := s.ListPages(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].Slug)

	total, pub, err := s.CountPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, pub)
}

func TestDeletePage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreatePage(ctx, testPage("gone", true)))

	require.NoError(t, s.DeletePage(ctx, "gone"))
	_, err := s.FindPageBySlug(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeletePage(ctx, "gone"), ErrNotFound)
}

func TestSaveTemplateUpsertsBySlug(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tpl := &Template{Name: "City Landing", HTML: "<h1>{{city_name}}</h1>"}
	require.NoError(t, s.SaveTemplate(ctx, tpl))
	assert.Equal(t, "city-landing", tpl.Slug)
	assert.NotEmpty(t, tpl.ID)

	again := &Template{Slug: "city-landing", Name: "City Landing v2", HTML: "<h1>{{city_name}}, {{state_code}}</h1>"}
	require.NoError(t, s.SaveTemplate(ctx, again))
	assert.Equal(t, tpl.ID, again.ID)

	got, err := s.FindTemplate(ctx, "city-landing")
	require.NoError(t, err)
	assert.Equal(t, "City Landing v2", got.Name)
	assert.Equal(t, []string{"city_name", "state_code"}, got.Variables())

	byID, err := s.FindTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Slug, byID.Slug)

	assert.Error(t, s.SaveTemplate(ctx, &Template{Name: "empty"}), "html is required")
	_, err = s.FindTemplate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTemplateInUse(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tpl := &Template{Name: "Used", HTML: "<p>{{title}}</p>"}
	require.NoError(t, s.SaveTemplate(ctx, tpl))
	page := testPage("uses-template", true)
	page.TemplateID = tpl.ID
	require.NoError(t, s.CreatePage(ctx, page))

	assert.ErrorIs(t, s.DeleteTemplate(ctx, tpl.ID), ErrTemplateInUse)

	require.NoError(t, s.DeletePage(ctx, page.Slug))
	require.NoError(t, s.DeleteTemplate(ctx, tpl.ID))
	assert.ErrorIs(t, s.DeleteTemplate(ctx, tpl.ID), ErrNotFound)
}

func newStoredJob(t *testing.T, s *Store, rows ...pipeline.Row) *pipeline.Job {
	t.Helper()
	job := &pipeline.Job{
		Name:              "auto",
		TemplateID:        "tpl-1",
		InsuranceTypeSlug: "auto-insurance",
		InsuranceTypeName: "Auto Insurance",
		SlugPattern:       "{{insurance_type_slug}}/{{state_slug}}/{{city_slug}}",
		Rows:              rows,
		Renames:           []pipeline.Rename{{Target: "city_name", Source: "City"}},
		Policy:            pipeline.Policy{SkipExisting: true, PublishOnCreate: true},
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := newStoredJob(t, s, pipeline.RowOf("state_code", "CA", "City", "Fresno"), pipeline.RowOf("state_code", "TX"))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, pipeline.StatusPending, job.Status)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.SlugPattern, got.SlugPattern)
	assert.Equal(t, job.Policy, got.Policy)
	assert.Equal(t, job.Renames, got.Renames)
	assert.Equal(t, 2, got.Progress.Total)
	require.Len(t, got.Rows, 2)
	v, ok := got.Rows[0].Get("City")
	assert.True(t, ok)
	assert.Equal(t, "Fresno", v)
	assert.Nil(t, got.StartedAt)

	list, err := s.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Rows, "listings leave rows out")

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.CreateJob(ctx, &pipeline.Job{TemplateID: "tpl-1"}), "slug pattern is required")
}

func TestJobTransitions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := newStoredJob(t, s, pipeline.RowOf("state_code", "CA"))
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.QueueJob(ctx, job.ID))
	ids, err := s.ListQueuedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, ids)
	assert.ErrorIs(t, s.QueueJob(ctx, job.ID), pipeline.ErrNotStartable)

	assert.ErrorIs(t, s.UpdateJobProgress(ctx, job.ID, pipeline.Progress{Total: 1}), ErrJobNotProcessing)

	require.NoError(t, s.MarkJobProcessing(ctx, job.ID, at))
	assert.ErrorIs(t, s.MarkJobProcessing(ctx, job.ID, at), pipeline.ErrNotStartable, "only one claim wins")
	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), pipeline.ErrNotStartable)

	ids, err = s.ListQueuedJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	prog := pipeline.Progress{Total: 1, Processed: 1, Failed: 1, Errors: []pipeline.RowError{{Row: 0, Message: "boom"}}}
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, prog))

	assert.Error(t, s.FinalizeJob(ctx, job.ID, pipeline.StatusProcessing, prog, "", at))
	require.NoError(t, s.FinalizeJob(ctx, job.ID, pipeline.StatusCompleted, prog, "", at.Add(time.Minute)))
	assert.ErrorIs(t, s.FinalizeJob(ctx, job.ID, pipeline.StatusFailed, prog, "again", at), ErrJobNotProcessing)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, prog, got.Progress)
	require.NotNil(t, got.StartedAt)
	assert.True(t, at.Equal(*got.StartedAt))
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, s.DeleteJob(ctx, job.ID))
	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), ErrNotFound)
	assert.ErrorIs(t, s.MarkJobProcessing(ctx, "missing", at), ErrNotFound)
}

func TestRunnerAgainstStore(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	tpl, err := s.FindTemplate(ctx, DefaultTemplateSlug)
	require.NoError(t, err)

	job := &pipeline.Job{
		TemplateID:        tpl.ID,
		InsuranceTypeSlug: "auto-insurance",
		InsuranceTypeName: "Auto Insurance",
		SlugPattern:       "{{state_slug}}/{{city_slug}}",
		Rows: []pipeline.Row{
			pipeline.RowOf("state_code", "CA", "city_name", "Fresno"),
			pipeline.RowOf("state_slug", "texas"),
			pipeline.RowOf("note", "no geography"),
		},
		Policy: pipeline.Policy{PublishOnCreate: true},
	}
	require.NoError(t, s.CreateJob(ctx, job))

	runner := pipeline.NewRunner(pipeline.Deps{Geo: s, Pages: s, Jobs: s})
	defer runner.Close()
	prog, err := runner.Run(ctx, job.ID)
	require.NoError(t, err)
	runner.Wait()

	assert.Equal(t, 3, prog.Processed)
	assert.Equal(t, 2, prog.Created)
	assert.Equal(t, 1, prog.Failed)
	require.Len(t, prog.Errors, 1)
	assert.Equal(t, 2, prog.Errors[0].Row)

	page, err := s.GetPublishedPage(ctx, "california/fresno")
	require.NoError(t, err)
	assert.Equal(t, pipeline.GeoCity, page.GeoLevel)
	require.NotNil(t, page.CityID)
	fresno, err := s.FindCity(ctx, "fresno", "")
	require.NoError(t, err)
	assert.Equal(t, fresno.ID, *page.CityID)

	state, err := s.GetPublishedPage(ctx, "texas")
	require.NoError(t, err)
	assert.Equal(t, pipeline.GeoState, state.GeoLevel)

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, final.Status)
	assert.Equal(t, prog, final.Progress)
}

func TestNotFoundMapsNoRows(t *testing.T) {
	assert.ErrorIs(t, notFound(sql.ErrNoRows), ErrNotFound)
	other := errors.New("disk I/O error")
	assert.Equal(t, other, notFound(other))
}
