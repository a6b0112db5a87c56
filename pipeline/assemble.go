package pipeline

import (
	"strconv"
	"strings"

	"github.com/eringen/pagegen/tmpl"
)

// Source is the input of variable assembly for one row.
type Source struct {
	Job *Job
	Row Row
}

// Step is one stage of variable assembly. Steps run in order and later
// steps win on key collisions.
type Step func(vars *tmpl.Map, src Source) *tmpl.Map

// DefaultSteps returns the standard assembly chain.
func DefaultSteps() []Step {
	return []Step{FixedContext, AutoMap, ApplyRenames, Derive, Backfill}
}

// Assemble folds steps over an empty map.
func Assemble(steps []Step, src Source) *tmpl.Map {
	vars := tmpl.NewMap()
	for _, step := range steps {
		vars = step(vars, src)
	}
	return vars
}

// FixedContext injects the job's template and insurance type identifiers.
func FixedContext(vars *tmpl.Map, src Source) *tmpl.Map {
	if src.Job == nil {
		return vars
	}
	for _, kv := range [][2]string{
		{"template_id", src.Job.TemplateID},
		{"template_slug", src.Job.TemplateSlug},
		{"insurance_type_slug", src.Job.InsuranceTypeSlug},
		{"insurance_type_name", src.Job.InsuranceTypeName},
	} {
		if kv[1] != "" {
			vars.SetString(kv[0], kv[1])
		}
	}
	return vars
}

// AutoMap copies every column to a variable of the same name.
func AutoMap(vars *tmpl.Map, src Source) *tmpl.Map {
	for _, c := range src.Row.Cells {
		vars.Set(c.Column, sniff(c.Value))
	}
	return vars
}

// ApplyRenames copies row[Source] into Target. A missing source column
// yields the empty string.
func ApplyRenames(vars *tmpl.Map, src Source) *tmpl.Map {
	if src.Job == nil {
		return vars
	}
	for _, rn := range src.Job.Renames {
		if rn.Target == "" {
			continue
		}
		val, ok := src.Row.Get(rn.Source)
		if !ok {
			vars.SetString(rn.Target, "")
			continue
		}
		vars.Set(rn.Target, sniff(val))
	}
	return vars
}

var limitFields = []string{"bodily_injury_limits", "liability_limits"}

// Derive computes lower-cased codes and splits "A/B" limit fields.
func Derive(vars *tmpl.Map, src Source) *tmpl.Map {
	for _, kv := range [][2]string{
		{"state_code", "state_code_lower"},
		{"country_code", "country_code_lower"},
		{"insurance_type_name", "insurance_type_lower"},
	} {
		if s := scalar(vars, kv[0]); s != "" {
			vars.SetString(kv[1], strings.ToLower(s))
		}
	}
	for _, field := range limitFields {
		a, b, ok := strings.Cut(scalar(vars, field), "/")
		if !ok {
			continue
		}
		vars.Set(field+"_per_person", numberOrString(a))
		vars.Set(field+"_per_accident", numberOrString(b))
	}
	return vars
}

// backfillAliases lists, per routing variable, the column names accepted as
// a fallback source, in priority order.
var backfillAliases = []struct {
	target  string
	aliases []string
}{
	{"state_slug", []string{"state_slug", "state", "state_name", "state_code", "st"}},
	{"state_code", []string{"state_code", "state_abbr", "st"}},
	{"city_slug", []string{"city_slug", "city", "city_name"}},
	{"city_name", []string{"city_name", "city"}},
	{"country_code", []string{"country_code", "country"}},
}

// Backfill fills routing variables that are still empty by matching row
// column names case- and punctuation-insensitively. Values backfilled into
// a _slug variable are slugified, so "New York" looks up as "new-york".
func Backfill(vars *tmpl.Map, src Source) *tmpl.Map {
	for _, b := range backfillAliases {
		if scalar(vars, b.target) != "" {
			continue
		}
		for _, alias := range b.aliases {
			if val := matchColumn(src.Row, alias); val != "" {
				if strings.HasSuffix(b.target, "_slug") {
					val = tmpl.Slugify(val)
				}
				vars.SetString(b.target, val)
				break
			}
		}
	}
	return vars
}

func matchColumn(row Row, name string) string {
	want := normalizeColumn(name)
	for _, c := range row.Cells {
		if normalizeColumn(c.Column) == want && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

func normalizeColumn(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sniff parses values that look like JSON arrays or objects, falling back
// to the raw string.
func sniff(s string) tmpl.Value {
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		if v, err := tmpl.ParseJSON(s); err == nil {
			return v
		}
	}
	return tmpl.String(s)
}

// scalar returns the string form of a scalar variable, or "".
func scalar(vars *tmpl.Map, key string) string {
	v, ok := vars.Get(key)
	if !ok || !v.IsScalar() {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func numberOrString(s string) tmpl.Value {
	s = strings.TrimSpace(s)
	clean := strings.NewReplacer("$", "", ",", "").Replace(s)
	if f, err := strconv.ParseFloat(clean, 64); err == nil {
		return tmpl.Number(f)
	}
	return tmpl.String(s)
}
