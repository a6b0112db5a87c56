package main

import (
	"fmt"
	"os"

	"github.com/eringen/pagegen/tmpl"
)

// RenderCmd renders template files to stdout.
type RenderCmd struct {
	Template string `required:"" type:"existingfile" help:"HTML template file"`
	CSS      string `type:"existingfile" help:"CSS template file; when set the output is JSON with html and css"`
	Context  string `type:"existingfile" help:"JSON object used as the render context"`
	Keep     bool   `help:"Leave unresolved directives in the output"`
}

func (r *RenderCmd) Run(cli *CLI) error {
	html, err := os.ReadFile(r.Template)
	if err != nil {
		return err
	}
	vars, err := readContext(r.Context)
	if err != nil {
		return err
	}
	if r.CSS != "" {
		css, err := os.ReadFile(r.CSS)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, tmpl.RenderWithStyle(string(html), string(css), vars, cli.logger.Named("tmpl")))
	}
	opts := tmpl.Options{Policy: tmpl.RemoveUnresolved, Debug: cli.Verbose, Logger: cli.logger.Named("tmpl")}
	if r.Keep {
		opts.Policy = tmpl.KeepUnresolved
	}
	_, err = fmt.Fprint(os.Stdout, tmpl.Render(string(html), vars, opts))
	return err
}

// VarsCmd lists the variables a template references.
type VarsCmd struct {
	Template string `required:"" type:"existingfile" help:"Template file"`
	Context  string `type:"existingfile" help:"JSON context to validate against"`
}

func (v *VarsCmd) Run() error {
	src, err := os.ReadFile(v.Template)
	if err != nil {
		return err
	}
	if v.Context == "" {
		return printJSON(os.Stdout, map[string][]string{"variables": tmpl.ExtractVariables(string(src))})
	}
	vars, err := readContext(v.Context)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, tmpl.ValidateContext(string(src), vars))
}

// readContext loads a JSON object file, or an empty context for "".
func readContext(path string) (*tmpl.Map, error) {
	if path == "" {
		return tmpl.NewMap(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := tmpl.ParseJSON(string(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if v.Map() == nil {
		return nil, fmt.Errorf("%s: context must be a JSON object", path)
	}
	return v.Map(), nil
}
