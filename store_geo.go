package pagegen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/tmpl"
)

// GeoSeed is the reference geography loaded by SeedGeography.
type GeoSeed struct {
	Countries []CountrySeed `yaml:"countries"`
}

type CountrySeed struct {
	Code   string      `yaml:"code"`
	Name   string      `yaml:"name"`
	Slug   string      `yaml:"slug"`
	States []StateSeed `yaml:"states"`
}

type StateSeed struct {
	Code       string     `yaml:"code"`
	Name       string     `yaml:"name"`
	Slug       string     `yaml:"slug"`
	Population int64      `yaml:"population"`
	AvgPremium float64    `yaml:"avg_premium"`
	Cities     []CitySeed `yaml:"cities"`
}

type CitySeed struct {
	Name       string  `yaml:"name"`
	Slug       string  `yaml:"slug"`
	Population int64   `yaml:"population"`
	AvgPremium float64 `yaml:"avg_premium"`
}

// ParseGeoSeed decodes a YAML geography document.
func ParseGeoSeed(data []byte) (*GeoSeed, error) {
	var seed GeoSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse geography: %w", err)
	}
	return &seed, nil
}

// SeedStats counts the rows written by SeedGeography.
type SeedStats struct {
	Countries int `json:"countries"`
	States    int `json:"states"`
	Cities    int `json:"cities"`
}

// SeedGeography upserts countries, states and cities keyed by country code,
// state code within a country, and city slug within a state. Missing slugs
// are derived from names. The whole seed is applied in one transaction.
func (s *Store) SeedGeography(ctx context.Context, seed *GeoSeed) (SeedStats, error) {
	var stats SeedStats
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	for _, c := range seed.Countries {
		if c.Code == "" {
			return stats, errors.New("country without code")
		}
		countryID, err := upsertID(ctx, tx,
			`SELECT id FROM countries WHERE code = ?`, []any{c.Code},
			`UPDATE countries SET code = ?, name = ?, slug = ? WHERE id = ?`,
			`INSERT INTO countries (code, name, slug, id) VALUES (?, ?, ?, ?)`,
			c.Code, c.Name, orSlug(c.Slug, c.Name))
		if err != nil {
			return stats, fmt.Errorf("country %s: %w", c.Code, err)
		}
		stats.Countries++

		for _, st := range c.States {
			if st.Code == "" {
				return stats, fmt.Errorf("state without code in %s", c.Code)
			}
			stateID, err := upsertID(ctx, tx,
				`SELECT id FROM states WHERE country_id = ? AND code = ?`, []any{countryID, st.Code},
				`UPDATE states SET country_id = ?, code = ?, name = ?, slug = ?, population = ?, avg_premium = ? WHERE id = ?`,
				`INSERT INTO states (country_id, code, name, slug, population, avg_premium, id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				countryID, st.Code, st.Name, orSlug(st.Slug, st.Name), st.Population, st.AvgPremium)
			if err != nil {
				return stats, fmt.Errorf("state %s: %w", st.Code, err)
			}
			stats.States++

			for _, city := range st.Cities {
				slug := orSlug(city.Slug, city.Name)
				if slug == "" {
					return stats, fmt.Errorf("city without name in %s", st.Code)
				}
				if _, err := upsertID(ctx, tx,
					`SELECT id FROM cities WHERE state_id = ? AND slug = ?`, []any{stateID, slug},
					`UPDATE cities SET state_id = ?, name = ?, slug = ?, population = ?, avg_premium = ? WHERE id = ?`,
					`INSERT INTO cities (state_id, name, slug, population, avg_premium, id) VALUES (?, ?, ?, ?, ?, ?)`,
					stateID, city.Name, slug, city.Population, city.AvgPremium); err != nil {
					return stats, fmt.Errorf("city %s: %w", slug, err)
				}
				stats.Cities++
			}
		}
	}
	return stats, tx.Commit()
}

// upsertID updates the row found by lookup or inserts a new one. Both the
// update and the insert take cols followed by the id.
func upsertID(ctx context.Context, tx *sql.Tx, lookup string, keys []any, update, insert string, cols ...any) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, lookup, keys...).Scan(&id)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, update, append(cols, id)...)
		return id, err
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, insert, append(cols, id)...)
		return id, err
	default:
		return "", err
	}
}

func orSlug(slug, name string) string {
	if slug != "" {
		return slug
	}
	return tmpl.Slugify(name)
}

const stateColumns = `s.id, s.country_id, s.code, s.name, s.slug, s.population, s.avg_premium,
	c.id, c.code, c.name, c.slug`

func scanState(row interface{ Scan(...any) error }) (*pipeline.State, error) {
	var st pipeline.State
	var c pipeline.Country
	if err := row.Scan(&st.ID, &st.CountryID, &st.Code, &st.Name, &st.Slug, &st.Population, &st.AvgPremium,
		&c.ID, &c.Code, &c.Name, &c.Slug); err != nil {
		return nil, err
	}
	st.Country = &c
	return &st, nil
}

// FindState matches a state by slug or code, case-insensitively.
func (s *Store) FindState(ctx context.Context, slugOrCode string) (*pipeline.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+`
		FROM states s JOIN countries c ON c.id = s.country_id
		WHERE s.slug = ? OR s.code = ?
		ORDER BY s.slug = ? DESC, s.population DESC
		LIMIT 1`, slugOrCode, slugOrCode, slugOrCode)
	st, err := scanState(row)
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

// FindCity matches a city by slug or name, restricted to stateID when set.
// Without a state the most populous match wins.
func (s *Store) FindCity(ctx context.Context, slugOrName, stateID string) (*pipeline.City, error) {
	row := s.db.QueryRowContext(ctx, `SELECT ci.id, ci.state_id, ci.name, ci.slug, ci.population, ci.avg_premium,
		`+stateColumns+`
		FROM cities ci
		JOIN states s ON s.id = ci.state_id
		JOIN countries c ON c.id = s.country_id
		WHERE (ci.slug = ? OR ci.name = ?) AND (? = '' OR ci.state_id = ?)
		ORDER BY ci.population DESC
		LIMIT 1`, slugOrName, slugOrName, stateID, stateID)
	var city pipeline.City
	var st pipeline.State
	var c pipeline.Country
	if err := row.Scan(&city.ID, &city.StateID, &city.Name, &city.Slug, &city.Population, &city.AvgPremium,
		&st.ID, &st.CountryID, &st.Code, &st.Name, &st.Slug, &st.Population, &st.AvgPremium,
		&c.ID, &c.Code, &c.Name, &c.Slug); err != nil {
		return nil, notFound(err)
	}
	st.Country = &c
	city.State = &st
	return &city, nil
}

// FindCountry matches a country by code, case-insensitively.
func (s *Store) FindCountry(ctx context.Context, code string) (*pipeline.Country, error) {
	var c pipeline.Country
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name, slug FROM countries WHERE code = ?`, code).
		Scan(&c.ID, &c.Code, &c.Name, &c.Slug)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListStates returns every state with its country, ordered by name.
func (s *Store) ListStates(ctx context.Context) ([]pipeline.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+`
		FROM states s JOIN countries c ON c.id = s.country_id
		ORDER BY s.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}
