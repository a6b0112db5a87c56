package views

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSite = SiteConfig{Name: "Insurance Guides", URL: "https://example.com", Description: "Compare coverage"}

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "https://example.com", BuildURL("https://example.com"))
	assert.Equal(t, "https://example.com/auto-insurance/texas/", BuildURL("https://example.com", "auto-insurance/texas"))
	assert.Equal(t, "https://example.com/a/b/", BuildURL("https://example.com/", "a", "b"))
}

func TestSegmentName(t *testing.T) {
	assert.Equal(t, "New York", segmentName("new-york"))
	assert.Equal(t, "Auto Insurance", segmentName("auto-insurance"))
	assert.Equal(t, "", segmentName(""))
}

func TestWebPageJsonLDBreadcrumbs(t *testing.T) {
	published := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	doc := Document{
		Slug:        "auto-insurance/new-york/buffalo",
		Meta:        PageMeta{Title: "Buffalo Auto Insurance"},
		PublishedAt: &published,
		UpdatedAt:   published,
	}
	var data struct {
		Type          string `json:"@type"`
		URL           string `json:"url"`
		DatePublished string `json:"datePublished"`
		Breadcrumb    struct {
			Items []struct {
				Position int    `json:"position"`
				Name     string `json:"name"`
				Item     string `json:"item"`
			} `json:"itemListElement"`
		} `json:"breadcrumb"`
	}
	require.NoError(t, json.Unmarshal([]byte(WebPageJsonLD(testSite, doc)), &data))
	assert.Equal(t, "WebPage", data.Type)
	assert.Equal(t, "https://example.com/auto-insurance/new-york/buffalo/", data.URL)
	assert.Equal(t, "2026-02-01T00:00:00Z", data.DatePublished)
	require.Len(t, data.Breadcrumb.Items, 3)
	assert.Equal(t, "New York", data.Breadcrumb.Items[1].Name)
	assert.Equal(t, "https://example.com/auto-insurance/new-york/", data.Breadcrumb.Items[1].Item)
	assert.Equal(t, 3, data.Breadcrumb.Items[2].Position)
}

func TestPageEscapesMetadataButNotBody(t *testing.T) {
	doc := Document{
		Slug:     "pet-insurance",
		Title:    `Pets <script>alert(1)</script>`,
		HTML:     `<section class="hero"><h1>Pet Insurance</h1></section>`,
		CSS:      `body{color:red}</style><script>x</script>`,
		GeoLevel: "STATE",
	}
	out := renderString(t, Page(testSite, doc))

	assert.Contains(t, out, `<section class="hero"><h1>Pet Insurance</h1></section>`)
	assert.Contains(t, out, `<title>Pets &lt;script&gt;alert(1)&lt;/script&gt;</title>`)
	assert.NotContains(t, out, `</style><script>x`)
	assert.Contains(t, out, `data-geo-level="state"`)
	assert.Contains(t, out, `<link rel="canonical" href="https://example.com/pet-insurance/">`)
	assert.Contains(t, out, `application/ld+json`)
}

func TestIndexListsPages(t *testing.T) {
	out := renderString(t, Index(testSite, []PageLink{
		{Slug: "auto-insurance/ohio", Title: "Ohio Auto Insurance", Subtitle: "Rates & tips"},
		{Slug: "no-title"},
	}))
	assert.Contains(t, out, `<a href="/auto-insurance/ohio/">Ohio Auto Insurance</a>`)
	assert.Contains(t, out, `<small>Rates &amp; tips</small>`)
	assert.Contains(t, out, `<a href="/no-title/">no-title</a>`)

	empty := renderString(t, Index(testSite, nil))
	assert.Contains(t, empty, "No pages published yet.")
}

func TestAdminComponents(t *testing.T) {
	login := renderString(t, AdminLogin(true, "tok"))
	assert.Contains(t, login, `value="tok"`)

	dash := renderString(t, AdminDashboard(3, 2, []DashboardJob{{ID: "j1", Name: "<b>Texas</b>", Status: "COMPLETED", Processed: 4, Total: 4}}, "tok"))
	assert.Contains(t, dash, "&lt;b&gt;Texas&lt;/b&gt;")
	assert.Contains(t, dash, "COMPLETED")
	assert.True(t, strings.Contains(renderString(t, NotFound()), "Page not found"))
}
