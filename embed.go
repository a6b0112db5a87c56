package pagegen

import (
	"context"
	"embed"
	"errors"
	"fmt"
)

// Defaults contains data shipped with the engine: geo.yaml (reference
// geography), page.html and page.css (the starter template).
//
//go:embed defaults/*
var Defaults embed.FS

// DefaultTemplateSlug is the slug of the starter template.
const DefaultTemplateSlug = "insurance-landing"

// SeedDefaults loads the embedded geography when the store has none and
// creates the starter template when it is missing. It is safe to call on
// every start.
func SeedDefaults(ctx context.Context, s *Store) error {
	var countries int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM countries`).Scan(&countries); err != nil {
		return err
	}
	if countries == 0 {
		data, err := Defaults.ReadFile("defaults/geo.yaml")
		if err != nil {
			return err
		}
		seed, err := ParseGeoSeed(data)
		if err != nil {
			return err
		}
		if _, err := s.SeedGeography(ctx, seed); err != nil {
			return fmt.Errorf("seed geography: %w", err)
		}
	}

	_, err := s.GetTemplateBySlug(ctx, DefaultTemplateSlug)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	html, err := Defaults.ReadFile("defaults/page.html")
	if err != nil {
		return err
	}
	css, err := Defaults.ReadFile("defaults/page.css")
	if err != nil {
		return err
	}
	return s.SaveTemplate(ctx, &Template{
		Slug: DefaultTemplateSlug,
		Name: "Insurance landing page",
		HTML: string(html),
		CSS:  string(css),
	})
}
