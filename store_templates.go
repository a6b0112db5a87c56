package pagegen

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eringen/pagegen/tmpl"
)

// Template is a stored page layout: HTML and CSS in the template language.
type Template struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	HTML      string    `json:"html"`
	CSS       string    `json:"css,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Variables lists every variable the template's HTML and CSS reference.
func (t Template) Variables() []string {
	return tmpl.ExtractVariables(t.HTML + "\n" + t.CSS)
}

const templateColumns = `id, slug, name, html, css, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	var t Template
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.HTML, &t.CSS, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// SaveTemplate inserts a template or replaces the one with the same slug.
// The stored ID is written back to t.
func (s *Store) SaveTemplate(ctx context.Context, t *Template) error {
	if t.Slug == "" {
		t.Slug = tmpl.Slugify(t.Name)
	}
	if t.Slug == "" {
		return errors.New("template requires a slug or name")
	}
	if strings.TrimSpace(t.HTML) == "" {
		return errors.New("template requires html")
	}
	if t.Name == "" {
		t.Name = t.Slug
	}
	now := timeNow()
	existing, err := s.GetTemplateBySlug(ctx, t.Slug)
	switch {
	case err == nil:
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `UPDATE templates SET name = ?, html = ?, css = ?, updated_at = ? WHERE id = ?`,
			t.Name, t.HTML, t.CSS, formatTime(now), t.ID)
		return err
	case errors.Is(err, ErrNotFound):
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt, t.UpdatedAt = now, now
		_, err = s.db.ExecContext(ctx, `INSERT INTO templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Slug, t.Name, t.HTML, t.CSS, formatTime(now), formatTime(now))
		return err
	default:
		return err
	}
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *Store) GetTemplateBySlug(ctx context.Context, slug string) (*Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE slug = ?`, slug))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// FindTemplate resolves a template by ID, then by slug.
func (s *Store) FindTemplate(ctx context.Context, ref string) (*Template, error) {
	t, err := s.GetTemplate(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return s.GetTemplateBySlug(ctx, ref)
	}
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes a template that no page references.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	var used int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages WHERE template_id = ?`, id).Scan(&used); err != nil {
		return err
	}
	if used > 0 {
		return ErrTemplateInUse
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
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

// ErrTemplateInUse is returned when deleting a template that pages still use.
var ErrTemplateInUse = errors.New("template is used by pages")
