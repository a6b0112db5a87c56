package views

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"time"
)

// BuildURL joins path segments onto a base URL, ensuring a trailing slash.
func BuildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join(u.Path, path.Join(pathSegments...))
	if len(pathSegments) > 0 && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// WebsiteJsonLD produces a Schema.org WebSite JSON-LD block using cfg values.
func WebsiteJsonLD(cfg SiteConfig) string {
	data := map[string]interface{}{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     cfg.Name,
		"url":      BuildURL(cfg.URL),
	}
	if cfg.Description != "" {
		data["description"] = cfg.Description
	}
	return marshalJsonLD(data)
}

// WebPageJsonLD produces a Schema.org WebPage JSON-LD block for a generated
// page, with a breadcrumb trail built from its slug segments.
func WebPageJsonLD(cfg SiteConfig, doc Document) string {
	pageURL := BuildURL(cfg.URL, doc.Slug)
	data := map[string]interface{}{
		"@context":     "https://schema.org",
		"@type":        "WebPage",
		"name":         doc.Meta.Title,
		"description":  doc.Meta.Description,
		"url":          pageURL,
		"dateModified": doc.UpdatedAt.UTC().Format(time.RFC3339),
		"isPartOf": map[string]string{
			"@type": "WebSite",
			"name":  cfg.Name,
			"url":   BuildURL(cfg.URL),
		},
	}
	if doc.PublishedAt != nil {
		data["datePublished"] = doc.PublishedAt.UTC().Format(time.RFC3339)
	}
	segments := strings.Split(doc.Slug, "/")
	items := make([]map[string]interface{}, 0, len(segments))
	for i := range segments {
		items = append(items, map[string]interface{}{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     segmentName(segments[i]),
			"item":     BuildURL(cfg.URL, segments[:i+1]...),
		})
	}
	data["breadcrumb"] = map[string]interface{}{
		"@type":           "BreadcrumbList",
		"itemListElement": items,
	}
	return marshalJsonLD(data)
}

func marshalJsonLD(data map[string]interface{}) string {
	// json.Marshal escapes <, > and &, so the result is safe inside <script>.
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// segmentName turns a slug segment into a display label: "new-york" -> "New York".
func segmentName(seg string) string {
	words := strings.Fields(strings.ReplaceAll(seg, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
