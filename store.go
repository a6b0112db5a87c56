package pagegen

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/pagegen/pipeline"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = pipeline.ErrNotFound

var timeNow = time.Now

// Store wraps a SQLite database holding geography, templates, generated
// pages and generation jobs. It implements the pipeline's GeoLookup,
// PageStore and JobStore.
type Store struct {
	db *sql.DB
}

var (
	_ pipeline.GeoLookup = (*Store)(nil)
	_ pipeline.PageStore = (*Store)(nil)
	_ pipeline.JobStore  = (*Store)(nil)
)

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// connPragmas run on every pooled connection. WAL lets the public site read
// while a job writes; writers wait on the busy timeout instead of failing
// with SQLITE_BUSY.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"cache_size(-8000)",
	"mmap_size(268435456)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := make(url.Values)
	q["_pragma"] = connPragmas
	return "file:" + path + "?" + q.Encode()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS countries (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE COLLATE NOCASE,
    name TEXT NOT NULL,
    slug TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS states (
    id TEXT PRIMARY KEY,
    country_id TEXT NOT NULL REFERENCES countries(id),
    code TEXT NOT NULL COLLATE NOCASE,
    name TEXT NOT NULL,
    slug TEXT NOT NULL COLLATE NOCASE,
    population INTEGER NOT NULL DEFAULT 0,
    avg_premium REAL NOT NULL DEFAULT 0,
    UNIQUE (country_id, code)
);
CREATE INDEX IF NOT EXISTS idx_states_slug ON states(slug);
CREATE TABLE IF NOT EXISTS cities (
    id TEXT PRIMARY KEY,
    state_id TEXT NOT NULL REFERENCES states(id),
    name TEXT NOT NULL COLLATE NOCASE,
    slug TEXT NOT NULL COLLATE NOCASE,
    population INTEGER NOT NULL DEFAULT 0,
    avg_premium REAL NOT NULL DEFAULT 0,
    UNIQUE (state_id, slug)
);
CREATE INDEX IF NOT EXISTS idx_cities_slug ON cities(slug);
CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    html TEXT NOT NULL,
    css TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    template_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    subtitle TEXT NOT NULL DEFAULT '',
    meta_title TEXT NOT NULL DEFAULT '',
    meta_description TEXT NOT NULL DEFAULT '',
    country_id TEXT,
    state_id TEXT,
    city_id TEXT,
    geo_level TEXT NOT NULL DEFAULT '',
    variables TEXT NOT NULL DEFAULT '{}',
    published INTEGER NOT NULL DEFAULT 0,
    published_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_published ON pages(published, updated_at);
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    template_id TEXT NOT NULL,
    template_slug TEXT NOT NULL DEFAULT '',
    insurance_type_slug TEXT NOT NULL DEFAULT '',
    insurance_type_name TEXT NOT NULL DEFAULT '',
    slug_pattern TEXT NOT NULL,
    title_pattern TEXT NOT NULL DEFAULT '',
    meta_title_pattern TEXT NOT NULL DEFAULT '',
    meta_description_pattern TEXT NOT NULL DEFAULT '',
    input_rows TEXT NOT NULL DEFAULT '[]',
    renames TEXT NOT NULL DEFAULT '[]',
    skip_existing INTEGER NOT NULL DEFAULT 0,
    update_existing INTEGER NOT NULL DEFAULT 0,
    publish_on_create INTEGER NOT NULL DEFAULT 0,
    dry_run INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    total INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    created INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error_log TEXT NOT NULL DEFAULT '[]',
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
`)
	return err
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}
