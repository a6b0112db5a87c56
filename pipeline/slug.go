package pipeline

import (
	"regexp"
	"strings"

	"github.com/eringen/pagegen/tmpl"
)

var slashRun = regexp.MustCompile(`/+`)

// GenerateSlug renders pattern against slug-cased copies of vars. Every
// scalar variable is available both bare and with a "_slug" suffix; a
// variable literally named "x_slug" wins over the alias derived from "x".
// The result never contains "//" and never starts or ends with "/".
func GenerateSlug(pattern string, vars *tmpl.Map) (string, error) {
	ctx := tmpl.NewMap()
	vars.Range(func(k string, v tmpl.Value) bool {
		if v.IsScalar() {
			ctx.SetString(k+"_slug", tmpl.Slugify(v.String()))
		}
		return true
	})
	vars.Range(func(k string, v tmpl.Value) bool {
		if v.IsScalar() {
			ctx.SetString(k, tmpl.Slugify(v.String()))
		}
		return true
	})

	slug := tmpl.Render(pattern, ctx, tmpl.Options{Policy: tmpl.RemoveUnresolved})
	slug = strings.TrimSpace(slug)
	slug = slashRun.ReplaceAllString(slug, "/")
	slug = strings.Trim(slug, "/")
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}
