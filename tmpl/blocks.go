package tmpl

import (
	"regexp"
	"sort"
	"strings"
)

// tagSet describes one block directive. The open pattern captures a key and
// optionally an argument; the close pattern captures the key it closes.
// Blocks pair by key with depth counting so nested blocks of the same kind
// match their own closer.
type tagSet struct {
	open  *regexp.Regexp
	close *regexp.Regexp
}

type tag struct {
	start, end int
	open       bool
	key, arg   string
}

var (
	withTags = tagSet{
		open:  regexp.MustCompile(`\{\{#(with)\s+([^}]*)\}\}`),
		close: regexp.MustCompile(`\{\{/(with)\s*\}\}`),
	}
	eachTags = tagSet{
		open:  regexp.MustCompile(`\{\{#(each)\s+([^}]*)\}\}`),
		close: regexp.MustCompile(`\{\{/(each)\s*\}\}`),
	}
	ifTags = tagSet{
		open:  regexp.MustCompile(`\{\{#(if)\s+([^}]*)\}\}`),
		close: regexp.MustCompile(`\{\{/(if)\s*\}\}`),
	}
	unlessTags = tagSet{
		open:  regexp.MustCompile(`\{\{#(unless)\s+([^}]*)\}\}`),
		close: regexp.MustCompile(`\{\{/(unless)\s*\}\}`),
	}
	inverseTags = tagSet{
		open:  regexp.MustCompile(`\{\{\^\s*(@?[\w.]+)\s*\}\}`),
		close: regexp.MustCompile(`\{\{/\s*(@?[\w.]+)\s*\}\}`),
	}
	elseTag = regexp.MustCompile(`\{\{else\}\}`)
)

func (s tagSet) scan(src string) []tag {
	var tags []tag
	for _, m := range s.open.FindAllStringSubmatchIndex(src, -1) {
		t := tag{start: m[0], end: m[1], open: true, key: src[m[2]:m[3]]}
		if len(m) > 5 && m[4] >= 0 {
			t.arg = strings.TrimSpace(src[m[4]:m[5]])
		} else {
			t.arg = t.key
		}
		tags = append(tags, t)
	}
	for _, m := range s.close.FindAllStringSubmatchIndex(src, -1) {
		tags = append(tags, tag{start: m[0], end: m[1], key: src[m[2]:m[3]]})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].start < tags[j].start })
	return tags
}

// expand replaces every outermost balanced block with fn(arg, body).
// Openers without a matching closer are left in place.
func (s tagSet) expand(src string, fn func(arg, body string) string) string {
	tags := s.scan(src)
	if len(tags) == 0 {
		return src
	}
	var b strings.Builder
	pos := 0
	for i := 0; i < len(tags); i++ {
		t := tags[i]
		if !t.open || t.start < pos {
			continue
		}
		j := matchClose(tags, i)
		if j < 0 {
			continue
		}
		b.WriteString(src[pos:t.start])
		b.WriteString(fn(t.arg, src[t.end:tags[j].start]))
		pos = tags[j].end
		i = j
	}
	b.WriteString(src[pos:])
	return b.String()
}

func matchClose(tags []tag, i int) int {
	key := tags[i].key
	depth := 0
	for j := i; j < len(tags); j++ {
		if tags[j].key != key {
			continue
		}
		if tags[j].open {
			depth++
			continue
		}
		depth--
		if depth == 0 {
			return j
		}
	}
	return -1
}

// splitElse splits an if body at its own {{else}}, ignoring any else that
// belongs to a nested if.
func splitElse(body string) (string, string) {
	elses := elseTag.FindAllStringIndex(body, -1)
	if len(elses) == 0 {
		return body, ""
	}
	tags := ifTags.scan(body)
	for _, e := range elses {
		depth := 0
		for _, t := range tags {
			if t.start >= e[0] {
				break
			}
			if t.open {
				depth++
			} else if depth > 0 {
				depth--
			}
		}
		if depth == 0 {
			return body[:e[0]], body[e[1]:]
		}
	}
	return body, ""
}
