package pagegen

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/views"
)

const feedLimit = 50

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// renderRSS lists the most recently updated pages. pages must already be
// ordered newest first.
func (a *App) renderRSS(c echo.Context, pages []pipeline.Page) error {
	base := a.Config.URL
	if len(pages) > feedLimit {
		pages = pages[:feedLimit]
	}
	items := make([]rssItem, 0, len(pages))
	for _, p := range pages {
		date := p.UpdatedAt
		if p.PublishedAt != nil {
			date = *p.PublishedAt
		}
		desc := p.MetaDescription
		if desc == "" {
			desc = p.Subtitle
		}
		pageURL := views.BuildURL(base, p.Slug)
		items = append(items, rssItem{
			Title:       p.Title,
			Link:        pageURL,
			Description: desc,
			PubDate:     date.UTC().Format(time.RFC1123Z),
			GUID:        pageURL,
		})
	}
	feed := rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       a.Config.Name,
			Link:        base,
			Description: a.Config.Description,
			Items:       items,
		},
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/rss+xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte(xml.Header))
	return xml.NewEncoder(c.Response()).Encode(feed)
}
