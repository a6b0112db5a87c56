package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eringen/pagegen/tmpl"
)

// GeoRef is the geography resolved for one row.
type GeoRef struct {
	Country *Country
	State   *State
	City    *City
	Level   GeoLevel
}

func (g GeoRef) CountryID() *string {
	if g.Country == nil {
		return nil
	}
	return &g.Country.ID
}

func (g GeoRef) StateID() *string {
	if g.State == nil {
		return nil
	}
	return &g.State.ID
}

func (g GeoRef) CityID() *string {
	if g.City == nil {
		return nil
	}
	return &g.City.ID
}

// ResolveGeo resolves state, then city within that state, then a country
// fallback, and writes the canonical names and figures back into vars.
// Lookup misses are not errors; any other lookup error is returned.
func ResolveGeo(ctx context.Context, geo GeoLookup, vars *tmpl.Map) (GeoRef, error) {
	var ref GeoRef
	if geo == nil {
		return ref, nil
	}

	state, err := findFirst(ctx, []string{scalar(vars, "state_slug"), scalar(vars, "state_code")},
		func(key string) (*State, error) { return geo.FindState(ctx, key) })
	if err != nil {
		return ref, fmt.Errorf("resolve state: %w", err)
	}
	if state != nil {
		ref.State = state
		ref.Country = state.Country
	}

	stateID := ""
	if ref.State != nil {
		stateID = ref.State.ID
	}
	city, err := findFirst(ctx, []string{scalar(vars, "city_slug"), scalar(vars, "city_name")},
		func(key string) (*City, error) { return geo.FindCity(ctx, key, stateID) })
	if err != nil {
		return ref, fmt.Errorf("resolve city: %w", err)
	}
	if city != nil {
		parent := city.State
		if parent == nil {
			parent = ref.State
		}
		// A city is only usable with its full parent chain.
		if parent != nil && parent.Country != nil {
			ref.City = city
			ref.State = parent
			ref.Country = parent.Country
		}
	}

	if ref.State == nil && ref.City == nil {
		country, err := findFirst(ctx, []string{scalar(vars, "country_code")},
			func(key string) (*Country, error) { return geo.FindCountry(ctx, key) })
		if err != nil {
			return ref, fmt.Errorf("resolve country: %w", err)
		}
		ref.Country = country
	}

	switch {
	case ref.City != nil:
		ref.Level = GeoCity
	case ref.State != nil:
		ref.Level = GeoState
	case ref.Country != nil:
		ref.Level = GeoCountry
	}
	ref.backfill(vars)
	return ref, nil
}

// findFirst tries each non-empty key in order and returns the first hit.
func findFirst[T any](ctx context.Context, keys []string, find func(string) (*T, error)) (*T, error) {
	tried := make(map[string]bool, len(keys))
	for _, key := range keys {
		norm := strings.ToLower(key)
		if key == "" || tried[norm] {
			continue
		}
		tried[norm] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := find(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func (g GeoRef) backfill(vars *tmpl.Map) {
	if c := g.Country; c != nil {
		vars.SetString("country_name", c.Name)
		vars.SetString("country_code", c.Code)
		vars.SetString("country_code_lower", strings.ToLower(c.Code))
		if c.Slug != "" {
			vars.SetString("country_slug", c.Slug)
		}
	}
	if s := g.State; s != nil {
		vars.SetString("state_name", s.Name)
		vars.SetString("state_code", s.Code)
		vars.SetString("state_code_lower", strings.ToLower(s.Code))
		vars.SetString("state_slug", s.Slug)
		setFigures(vars, s.Population, s.AvgPremium)
	}
	if c := g.City; c != nil {
		vars.SetString("city_name", c.Name)
		vars.SetString("city_slug", c.Slug)
		setFigures(vars, c.Population, c.AvgPremium)
	}
}

func setFigures(vars *tmpl.Map, population int64, avgPremium float64) {
	if population > 0 {
		vars.SetString("population", tmpl.FormatNumber(float64(population)))
	}
	if avgPremium > 0 {
		vars.SetString("avg_premium", tmpl.FormatNumber(avgPremium))
	}
}
