package views

import "time"

// SiteConfig holds the site-wide settings every component needs.
type SiteConfig struct {
	Name        string
	URL         string
	Description string
}

// PageMeta carries per-page OpenGraph and SEO metadata into the <head>.
type PageMeta struct {
	Title       string
	Description string
	URL         string // canonical + og:url
	OGType      string // "website" or "article"
}

// Document is a generated page ready for the layout: the template output
// plus the metadata the pipeline stored with the page.
type Document struct {
	Slug        string
	Title       string
	Subtitle    string
	Meta        PageMeta
	HTML        string
	CSS         string
	GeoLevel    string
	PublishedAt *time.Time
	UpdatedAt   time.Time
}

// PageLink is one entry of the published page index.
type PageLink struct {
	Slug      string
	Title     string
	Subtitle  string
	UpdatedAt time.Time
}
