package pagegen

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/tmpl"
)

const pageColumns = `id, slug, template_id, title, subtitle, meta_title, meta_description,
	country_id, state_id, city_id, geo_level, variables, published, published_at, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (*pipeline.Page, error) {
	var p pipeline.Page
	var countryID, stateID, cityID, publishedAt sql.NullString
	var geoLevel, vars, createdAt, updatedAt string
	var published int
	if err := row.Scan(&p.ID, &p.Slug, &p.TemplateID, &p.Title, &p.Subtitle, &p.MetaTitle, &p.MetaDescription,
		&countryID, &stateID, &cityID, &geoLevel, &vars, &published, &publishedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CountryID = stringPtr(countryID)
	p.StateID = stringPtr(stateID)
	p.CityID = stringPtr(cityID)
	p.GeoLevel = pipeline.GeoLevel(geoLevel)
	p.Variables = tmpl.NewMap()
	if err := json.Unmarshal([]byte(vars), p.Variables); err != nil {
		return nil, fmt.Errorf("page %s variables: %w", p.Slug, err)
	}
	p.Published = published == 1
	p.PublishedAt = timePtr(publishedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func encodeVariables(m *tmpl.Map) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FindPageBySlug returns the page with slug regardless of publish state.
func (s *Store) FindPageBySlug(ctx context.Context, slug string) (*pipeline.Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE slug = ?`, slug)
	p, err := scanPage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetPublishedPage returns a published page by slug.
func (s *Store) GetPublishedPage(ctx context.Context, slug string) (*pipeline.Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE slug = ? AND published = 1`, slug)
	p, err := scanPage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Store) CreatePage(ctx context.Context, p *pipeline.Page) error {
	vars, err := encodeVariables(p.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.TemplateID, p.Title, p.Subtitle, p.MetaTitle, p.MetaDescription,
		nullString(p.CountryID), nullString(p.StateID), nullString(p.CityID), string(p.GeoLevel), vars,
		boolInt(p.Published), nullTime(p.PublishedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("page slug %q already exists: %w", p.Slug, err)
	}
	return err
}

// UpdatePage overwrites every mutable column of the page identified by ID.
func (s *Store) UpdatePage(ctx context.Context, p *pipeline.Page) error {
	vars, err := encodeVariables(p.Variables)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pages SET slug = ?, template_id = ?, title = ?, subtitle = ?,
		meta_title = ?, meta_description = ?, country_id = ?, state_id = ?, city_id = ?, geo_level = ?,
		variables = ?, published = ?, published_at = ?, updated_at = ?
		WHERE id = ?`,
		p.Slug, p.TemplateID, p.Title, p.Subtitle, p.MetaTitle, p.MetaDescription,
		nullString(p.CountryID), nullString(p.StateID), nullString(p.CityID), string(p.GeoLevel),
		vars, boolInt(p.Published), nullTime(p.PublishedAt), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPagePublished flips the publish flag. Publishing stamps published_at
// the first time only.
func (s *Store) SetPagePublished(ctx context.Context, slug string, published bool) error {
	now := formatTime(timeNow())
	res, err := s.db.ExecContext(ctx, `UPDATE pages SET published = ?,
		published_at = CASE WHEN ? = 1 AND published_at IS NULL THEN ? ELSE published_at END,
		updated_at = ?
		WHERE slug = ?`, boolInt(published), boolInt(published), now, now, slug)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePage removes a page by slug.
func (s *Store) DeletePage(ctx context.Context, slug string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE slug = ?`, slug)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPublishedPages returns every published page, most recently updated
// first.
func (s *Store) ListPublishedPages(ctx context.Context) ([]pipeline.Page, error) {
	return s.queryPages(ctx, `SELECT `+pageColumns+` FROM pages WHERE published = 1 ORDER BY updated_at DESC, slug`)
}

// ListPages returns one page of all pages for the admin API.
func (s *Store) ListPages(ctx context.Context, limit, offset int) ([]pipeline.Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryPages(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY updated_at DESC, slug LIMIT ? OFFSET ?`, limit, offset)
}

// CountPages returns the total and published page counts.
func (s *Store) CountPages(ctx context.Context) (total, published int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(published), 0) FROM pages`).Scan(&total, &published)
	return total, published, err
}

func (s *Store) queryPages(ctx context.Context, query string, args ...any) ([]pipeline.Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
