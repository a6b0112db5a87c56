// Package tmpl renders the page template language: {{path|filter}}
// interpolation plus with, each, if/else, unless and inverse blocks over an
// insertion-ordered context map.
package tmpl

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/eringen/pagegen/logfields"
)

// UnresolvedPolicy decides what happens to directives whose variable is
// missing from the context.
type UnresolvedPolicy uint8

const (
	// RemoveUnresolved drops unresolved directives and strips leftover
	// {{...}} tokens after rendering.
	RemoveUnresolved UnresolvedPolicy = iota
	// KeepUnresolved leaves unresolved directives verbatim.
	KeepUnresolved
)

// Options controls a single Render call.
type Options struct {
	Policy UnresolvedPolicy
	Debug  bool
	Logger *zap.Logger
}

// Rendered is a rendered page body plus its stylesheet.
type Rendered struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
}

const maxPasses = 10

var (
	varPattern      = regexp.MustCompile(`\{\{(@?[a-zA-Z_][\w.]*?)(?:\|(\w+))?\}\}`)
	leftoverPattern = regexp.MustCompile(`\{\{[^{}]*\}\}`)
)

type renderer struct {
	opts Options
	log  *zap.Logger
}

// Render expands template against ctx. It never fails: malformed or
// unmatched directives degrade to literal text or are removed, depending on
// opts.Policy.
func Render(template string, ctx *Map, opts Options) string {
	if template == "" {
		return ""
	}
	if ctx == nil {
		ctx = NewMap()
	}
	r := &renderer{opts: opts, log: opts.Logger}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r.render(template, ctx)
}

// RenderWithStyle renders a page body and its CSS against the same context.
// The body logs unresolved variables at debug level when a logger is set.
func RenderWithStyle(html, css string, ctx *Map, logger *zap.Logger) Rendered {
	out := Rendered{
		HTML: Render(html, ctx, Options{Policy: RemoveUnresolved, Debug: true, Logger: logger}),
	}
	if css != "" {
		out.CSS = Render(css, ctx, Options{Policy: RemoveUnresolved})
	}
	return out
}

func (r *renderer) render(src string, ctx *Map) string {
	out := src
	for pass := 0; ; pass++ {
		if pass == maxPasses {
			if r.opts.Debug {
				r.log.Warn("template expansion hit pass limit", zap.Int("passes", maxPasses))
			}
			break
		}
		next := r.pass(out, ctx)
		if next == out {
			break
		}
		out = next
	}
	out = r.interpolate(out, ctx)
	if r.opts.Policy == RemoveUnresolved {
		out = leftoverPattern.ReplaceAllString(out, "")
	}
	return out
}

func (r *renderer) pass(src string, ctx *Map) string {
	out := withTags.expand(src, func(arg, body string) string {
		v, ok := Lookup(ctx, arg)
		if !ok || v.Kind() != KindMap {
			return ""
		}
		return r.render(body, ctx.Overlay(v.Map()))
	})
	out = eachTags.expand(out, func(arg, body string) string {
		v, ok := Lookup(ctx, arg)
		if !ok || v.Kind() != KindArray {
			return ""
		}
		items := v.Items()
		var b strings.Builder
		for i, item := range items {
			local := ctx.Clone()
			local.Set("@index", Int(i))
			local.Set("@first", Bool(i == 0))
			local.Set("@last", Bool(i == len(items)-1))
			item.Map().Range(func(k string, v Value) bool {
				local.Set(k, v)
				return true
			})
			local.Set("this", item)
			b.WriteString(r.render(body, local))
		}
		return b.String()
	})
	out = ifTags.expand(out, func(arg, body string) string {
		yes, no := splitElse(body)
		if evalCondition(arg, ctx) {
			return yes
		}
		return no
	})
	out = unlessTags.expand(out, func(arg, body string) string {
		if evalCondition(arg, ctx) {
			return ""
		}
		return body
	})
	out = inverseTags.expand(out, func(arg, body string) string {
		if v, ok := Lookup(ctx, arg); ok && v.Truthy() {
			return ""
		}
		return body
	})
	return out
}

func (r *renderer) interpolate(src string, ctx *Map) string {
	return varPattern.ReplaceAllStringFunc(src, func(token string) string {
		m := varPattern.FindStringSubmatch(token)
		path, filter := m[1], m[2]
		v, ok := Lookup(ctx, path)
		if !ok {
			if r.opts.Debug {
				r.log.Debug("unresolved template variable", logfields.Variable(path))
			}
			if r.opts.Policy == KeepUnresolved {
				return token
			}
			return ""
		}
		s := v.String()
		if filter != "" {
			s = applyFilter(s, filter)
		}
		return s
	})
}
