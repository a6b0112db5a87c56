package tmpl

import (
	"regexp"
	"sort"
	"strings"
)

var (
	eachPathPattern  = regexp.MustCompile(`\{\{#each\s+([\w.]+)\s*\}\}`)
	withPathPattern  = regexp.MustCompile(`\{\{#with\s+([\w.]+)\s*\}\}`)
	condPattern      = regexp.MustCompile(`\{\{#(?:if|unless)\s+!?\s*([\w.]+)`)
	inverseNameRegex = regexp.MustCompile(`\{\{\^\s*([\w.]+)\s*\}\}`)
)

// Validation partitions the variables a template references.
type Validation struct {
	Valid    bool     `json:"valid"`
	Missing  []string `json:"missing"`
	Provided []string `json:"provided"`
}

// ExtractVariables lists every variable path the template may read, sorted
// and without duplicates. Loop metadata such as @index is not included.
func ExtractVariables(template string) []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "@") {
			return
		}
		seen[name] = struct{}{}
	}
	for _, m := range varPattern.FindAllStringSubmatch(template, -1) {
		add(m[1])
	}
	for _, re := range []*regexp.Regexp{eachPathPattern, withPathPattern, condPattern, inverseNameRegex} {
		for _, m := range re.FindAllStringSubmatch(template, -1) {
			add(m[1])
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateContext reports which referenced variables ctx provides. A
// variable counts as provided when it resolves to a non-null value that is
// not the empty string.
func ValidateContext(template string, ctx *Map) Validation {
	v := Validation{Missing: []string{}, Provided: []string{}}
	for _, name := range ExtractVariables(template) {
		val, ok := Lookup(ctx, name)
		if s, isStr := val.Str(); !ok || (isStr && s == "") {
			v.Missing = append(v.Missing, name)
			continue
		}
		v.Provided = append(v.Provided, name)
	}
	v.Valid = len(v.Missing) == 0
	return v
}
