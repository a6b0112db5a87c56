package pagegen

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/tmpl"
	"github.com/eringen/pagegen/views"
)

// Render writes a templ component as an HTTP 200 HTML response.
func Render(c echo.Context, cmp templ.Component) error {
	return RenderStatus(c, http.StatusOK, cmp)
}

// RenderStatus writes a templ component with a specific HTTP status code.
func RenderStatus(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}

// pageContext is the render context of a stored page: its variables plus
// page-level fields the template may reference but the row did not set.
func pageContext(p *pipeline.Page) *tmpl.Map {
	vars := tmpl.NewMap()
	if p.Variables != nil {
		vars = p.Variables.Clone()
	}
	fields := []struct{ key, value string }{
		{"slug", p.Slug},
		{"title", p.Title},
		{"subtitle", p.Subtitle},
		{"meta_title", p.MetaTitle},
		{"meta_description", p.MetaDescription},
		{"geo_level", string(p.GeoLevel)},
	}
	for _, f := range fields {
		if !vars.Has(f.key) && f.value != "" {
			vars.SetString(f.key, f.value)
		}
	}
	return vars
}

func (a *App) renderDocument(p *pipeline.Page, t *Template) views.Document {
	out := tmpl.RenderWithStyle(t.HTML, t.CSS, pageContext(p), a.Logger.Named("tmpl"))
	return views.Document{
		Slug:     p.Slug,
		Title:    p.Title,
		Subtitle: p.Subtitle,
		Meta: views.PageMeta{
			Title:       p.MetaTitle,
			Description: p.MetaDescription,
		},
		HTML:        out.HTML,
		CSS:         out.CSS,
		GeoLevel:    string(p.GeoLevel),
		PublishedAt: p.PublishedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
