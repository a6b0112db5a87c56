package views

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

func esc(s string) string { return templ.EscapeString(s) }

func component(fn func(buf *bytes.Buffer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		fn(&buf)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

func writeHead(buf *bytes.Buffer, site SiteConfig, meta PageMeta, jsonLD, css string) {
	title := meta.Title
	if title == "" {
		title = site.Name
	}
	desc := meta.Description
	if desc == "" {
		desc = site.Description
	}
	ogType := meta.OGType
	if ogType == "" {
		ogType = "website"
	}
	buf.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
	buf.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	fmt.Fprintf(buf, `<title>%s</title>`, esc(title))
	fmt.Fprintf(buf, `<meta name="description" content="%s">`, esc(desc))
	fmt.Fprintf(buf, `<meta property="og:title" content="%s">`, esc(title))
	fmt.Fprintf(buf, `<meta property="og:description" content="%s">`, esc(desc))
	fmt.Fprintf(buf, `<meta property="og:type" content="%s">`, esc(ogType))
	fmt.Fprintf(buf, `<meta property="og:site_name" content="%s">`, esc(site.Name))
	if meta.URL != "" {
		fmt.Fprintf(buf, `<link rel="canonical" href="%s">`, esc(meta.URL))
		fmt.Fprintf(buf, `<meta property="og:url" content="%s">`, esc(meta.URL))
	}
	buf.WriteString(`<link rel="alternate" type="application/rss+xml" href="/feed.xml">`)
	if jsonLD != "" {
		fmt.Fprintf(buf, `<script type="application/ld+json">%s</script>`, jsonLD)
	}
	if css != "" {
		fmt.Fprintf(buf, `<style>%s</style>`, strings.ReplaceAll(css, "</", `<\/`))
	}
	buf.WriteString(`</head>`)
}

// Page wraps a rendered template in the site layout. doc.HTML is template
// output and is written as is; everything else is escaped.
func Page(site SiteConfig, doc Document) templ.Component {
	return component(func(buf *bytes.Buffer) {
		meta := doc.Meta
		if meta.Title == "" {
			meta.Title = doc.Title
		}
		if meta.URL == "" {
			meta.URL = BuildURL(site.URL, doc.Slug)
		}
		if meta.OGType == "" {
			meta.OGType = "article"
		}
		doc.Meta = meta
		writeHead(buf, site, meta, WebPageJsonLD(site, doc), doc.CSS)
		fmt.Fprintf(buf, `<body data-geo-level="%s">`, esc(strings.ToLower(doc.GeoLevel)))
		buf.WriteString(doc.HTML)
		buf.WriteString(`</body></html>`)
	})
}

// Index lists published pages.
func Index(site SiteConfig, links []PageLink) templ.Component {
	return component(func(buf *bytes.Buffer) {
		writeHead(buf, site, PageMeta{URL: BuildURL(site.URL)}, WebsiteJsonLD(site), "")
		fmt.Fprintf(buf, `<body><main><h1>%s</h1>`, esc(site.Name))
		if site.Description != "" {
			fmt.Fprintf(buf, `<p>%s</p>`, esc(site.Description))
		}
		if len(links) == 0 {
			buf.WriteString(`<p>No pages published yet.</p>`)
		} else {
			buf.WriteString(`<ul>`)
			for _, l := range links {
				title := l.Title
				if title == "" {
					title = l.Slug
				}
				fmt.Fprintf(buf, `<li><a href="/%s/">%s</a>`, esc(l.Slug), esc(title))
				if l.Subtitle != "" {
					fmt.Fprintf(buf, ` <small>%s</small>`, esc(l.Subtitle))
				}
				buf.WriteString(`</li>`)
			}
			buf.WriteString(`</ul>`)
		}
		buf.WriteString(`</main></body></html>`)
	})
}

// AdminLogin renders the admin password form.
func AdminLogin(showError bool, csrfToken string) templ.Component {
	return component(func(buf *bytes.Buffer) {
		writeHead(buf, SiteConfig{Name: "Admin"}, PageMeta{Title: "Admin login"}, "", "")
		buf.WriteString(`<body><main><h1>Admin login</h1>`)
		if showError {
			buf.WriteString(`<p role="alert">Invalid password.</p>`)
		}
		buf.WriteString(`<form method="post" action="/admin/login/">`)
		fmt.Fprintf(buf, `<input type="hidden" name="_csrf" value="%s">`, esc(csrfToken))
		buf.WriteString(`<label>Password <input type="password" name="password" autocomplete="current-password" required></label>`)
		buf.WriteString(`<button type="submit">Sign in</button></form></main></body></html>`)
	})
}

// DashboardJob is one row of the admin job table.
type DashboardJob struct {
	ID        string
	Name      string
	Status    string
	Processed int
	Total     int
	Failed    int
}

// AdminDashboard shows page counts and recent jobs.
func AdminDashboard(totalPages, publishedPages int, jobs []DashboardJob, csrfToken string) templ.Component {
	return component(func(buf *bytes.Buffer) {
		writeHead(buf, SiteConfig{Name: "Admin"}, PageMeta{Title: "Dashboard"}, "", "")
		buf.WriteString(`<body><main><h1>Dashboard</h1>`)
		fmt.Fprintf(buf, `<p>%d pages, %d published.</p>`, totalPages, publishedPages)
		buf.WriteString(`<table><thead><tr><th>Job</th><th>Status</th><th>Progress</th><th>Failed</th></tr></thead><tbody>`)
		for _, j := range jobs {
			name := j.Name
			if name == "" {
				name = j.ID
			}
			fmt.Fprintf(buf, `<tr><td><a href="/admin/api/jobs/%s">%s</a></td><td>%s</td><td>%d/%d</td><td>%d</td></tr>`,
				esc(j.ID), esc(name), esc(j.Status), j.Processed, j.Total, j.Failed)
		}
		buf.WriteString(`</tbody></table>`)
		buf.WriteString(`<form method="post" action="/admin/logout/">`)
		fmt.Fprintf(buf, `<input type="hidden" name="_csrf" value="%s">`, esc(csrfToken))
		buf.WriteString(`<button type="submit">Sign out</button></form></main></body></html>`)
	})
}

func NotFound() templ.Component {
	return component(func(buf *bytes.Buffer) {
		writeHead(buf, SiteConfig{}, PageMeta{Title: "Page not found"}, "", "")
		buf.WriteString(`<body><main><h1>Page not found</h1><p><a href="/">Back to the index</a></p></main></body></html>`)
	})
}

func ServerError() templ.Component {
	return component(func(buf *bytes.Buffer) {
		writeHead(buf, SiteConfig{}, PageMeta{Title: "Something went wrong"}, "", "")
		buf.WriteString(`<body><main><h1>Something went wrong</h1><p>Please try again later.</p></main></body></html>`)
	})
}
