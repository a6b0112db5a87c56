package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagegen"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	return &cli, ctx, err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseGenerateFlags(t *testing.T) {
	csv := writeFile(t, "rows.csv", "state\nTX\n")
	cli, ctx, err := parse(t, "generate", "--csv", csv, "-t", "insurance-landing",
		"--slug-pattern", "{{state_slug}}", "-m", "state_code=state", "--skip-existing", "--publish")
	require.NoError(t, err)
	assert.Equal(t, "generate", ctx.Command())
	assert.Equal(t, []string{"state_code=state"}, cli.Generate.Map)
	assert.True(t, cli.Generate.SkipExisting)
	assert.True(t, cli.Generate.Publish)
	assert.NotNil(t, cli.logger)
}

func TestParseRejectsConflictingPolicies(t *testing.T) {
	csv := writeFile(t, "rows.csv", "state\nTX\n")
	_, _, err := parse(t, "generate", "--csv", csv, "-t", "x", "--slug-pattern", "y",
		"--skip-existing", "--update-existing")
	assert.Error(t, err)
}

func TestGenerateRunsJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	csv := writeFile(t, "auto.csv", "state_code,city_name\nCA,Fresno\nTX,Austin\n")
	cli, _, err := parse(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "--database", dbPath,
		"generate", "--csv", csv, "-t", pagegen.DefaultTemplateSlug,
		"--slug-pattern", "auto-insurance/{{state_slug}}/{{city_slug}}", "--publish")
	require.NoError(t, err)
	require.NoError(t, cli.Generate.Run(cli))

	store, err := pagegen.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	page, err := store.GetPublishedPage(context.Background(), "auto-insurance/california/fresno")
	require.NoError(t, err)
	assert.Equal(t, "CITY", string(page.GeoLevel))

	jobs, err := store.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "auto", jobs[0].Name)
	assert.Equal(t, 2, jobs[0].Progress.Created)
}

func TestGenerateUpdateRevalidatesDownstream(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secret") != "downstream-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		paths = append(paths, r.URL.Query().Get("path"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"revalidated":true}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeFile(t, "pagegen.yaml",
		"database_path: "+filepath.Join(dir, "cli.db")+"\n"+
			"revalidate_url: "+srv.URL+"\n"+
			"revalidate_secret: downstream-secret\n")
	csv := writeFile(t, "auto.csv", "state_code,city_name\nCA,Fresno\nTX,Austin\n")
	generate := func() {
		cli, _, err := parse(t, "--config", cfg, "generate", "--csv", csv, "-t", pagegen.DefaultTemplateSlug,
			"--slug-pattern", "auto-insurance/{{state_slug}}/{{city_slug}}", "--update-existing")
		require.NoError(t, err)
		require.NoError(t, cli.Generate.Run(cli))
	}

	generate()
	mu.Lock()
	assert.Empty(t, paths, "created pages are not revalidated")
	mu.Unlock()

	generate()
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"/auto-insurance/california/fresno", "/auto-insurance/texas/austin"}, paths)
}

func TestReadContext(t *testing.T) {
	vars, err := readContext(writeFile(t, "ctx.json", `{"state_name":"Ohio","avg_premium":1450}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"state_name", "avg_premium"}, vars.Keys())

	_, err = readContext(writeFile(t, "list.json", `[1,2]`))
	assert.ErrorContains(t, err, "JSON object")

	empty, err := readContext("")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}
