package pagegen

import (
	"encoding/xml"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/views"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// sitemapPriority ranks broader geography higher: state pages outrank the
// city pages beneath them.
func sitemapPriority(level pipeline.GeoLevel) string {
	switch level {
	case pipeline.GeoCountry:
		return "0.9"
	case pipeline.GeoState:
		return "0.8"
	case pipeline.GeoCity:
		return "0.6"
	default:
		return "0.5"
	}
}

func (a *App) renderSitemap(c echo.Context, pages []pipeline.Page) error {
	base := a.Config.URL
	urls := []sitemapURL{
		{Loc: views.BuildURL(base), ChangeFreq: "daily", Priority: "1.0"},
	}
	for _, p := range pages {
		urls = append(urls, sitemapURL{
			Loc:        views.BuildURL(base, p.Slug),
			LastMod:    p.UpdatedAt.UTC().Format("2006-01-02"),
			ChangeFreq: "weekly",
			Priority:   sitemapPriority(p.GeoLevel),
		})
	}
	sitemap := sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte(xml.Header))
	return xml.NewEncoder(c.Response()).Encode(sitemap)
}
