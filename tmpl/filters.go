package tmpl

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var (
	numberPrinter = message.NewPrinter(language.AmericanEnglish)
	slugRun       = regexp.MustCompile(`[^a-z0-9]+`)
	htmlEscaper   = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
)

// applyFilter transforms the canonical string of a resolved value. Unknown
// filter names leave the input unchanged.
func applyFilter(s, name string) string {
	switch name {
	case "lower", "lowercase":
		return strings.ToLower(s)
	case "upper", "uppercase":
		return strings.ToUpper(s)
	case "title", "titlecase":
		return titleCase(s)
	case "slug":
		return Slugify(s)
	case "number":
		return FormatNumber(parseNumber(s))
	case "currency":
		return "$" + FormatNumber(parseNumber(s))
	case "percent":
		return s + "%"
	case "trim":
		return strings.TrimSpace(s)
	case "escape", "html":
		return htmlEscaper.Replace(s)
	}
	return s
}

// Slugify lowercases s, turns every run of non-alphanumeric characters into
// a single hyphen and trims leading and trailing hyphens.
func Slugify(s string) string {
	return strings.Trim(slugRun.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// FormatNumber renders f with en-US digit grouping and at most three
// fraction digits. NaN renders as "NaN".
func FormatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return numberPrinter.Sprintf("%v", number.Decimal(f, number.MaxFractionDigits(3)))
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// titleCase uppercases the first character of every ASCII word.
func titleCase(s string) string {
	b := []byte(s)
	for i := range b {
		if !isWordByte(b[i]) {
			continue
		}
		if i > 0 && isWordByte(b[i-1]) {
			continue
		}
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}
