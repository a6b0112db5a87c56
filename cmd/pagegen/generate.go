package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/eringen/pagegen"
	"github.com/eringen/pagegen/pipeline"
)

// GenerateCmd creates a job from a CSV file and executes it in the
// foreground.
type GenerateCmd struct {
	CSV                    string   `name:"csv" required:"" type:"existingfile" help:"CSV file with one row per page"`
	Template               string   `short:"t" required:"" help:"Template ID or slug"`
	SlugPattern            string   `required:"" help:"Slug pattern, e.g. {{insurance_type}}-insurance-{{state}}"`
	Map                    []string `short:"m" help:"Copy a column into a variable (target=source)"`
	SkipExisting           bool     `xor:"existing" help:"Leave pages whose slug exists untouched"`
	UpdateExisting         bool     `xor:"existing" help:"Overwrite pages whose slug exists"`
	Publish                bool     `help:"Publish newly created pages"`
	DryRun                 bool     `help:"Compute outcomes without writing pages"`
	Name                   string   `help:"Job name (defaults to the CSV file name)"`
	InsuranceTypeSlug      string   `help:"Insurance type slug for every row"`
	InsuranceTypeName      string   `help:"Insurance type display name for every row"`
	TitlePattern           string   `help:"Page title pattern"`
	MetaTitlePattern       string   `help:"Meta title pattern"`
	MetaDescriptionPattern string   `help:"Meta description pattern"`
}

type generateResult struct {
	JobID  string          `json:"job_id"`
	Status pipeline.Status `json:"status"`
	pipeline.Progress
}

func (g *GenerateCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, store, err := cli.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := store.FindTemplate(ctx, g.Template)
	if err != nil {
		return fmt.Errorf("template %q: %w", g.Template, err)
	}
	job, err := g.job(t)
	if err != nil {
		return err
	}
	if err := store.CreateJob(ctx, job); err != nil {
		return err
	}

	deps := pipeline.Deps{
		Geo:    store,
		Pages:  store,
		Jobs:   store,
		Logger: cli.logger.Named("runner"),
	}
	targets, nc, err := pagegen.NewInvalidator(cfg, uuid.NewString(), cli.logger)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}
	if len(targets) > 0 {
		deps.Invalidator = targets
	}

	runner := pipeline.NewRunner(deps, pipeline.WithCheckpointEvery(cfg.CheckpointEvery))
	defer runner.Close()

	prog, err := runner.Run(ctx, job.ID)
	runner.Wait()
	if err != nil {
		return err
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, generateResult{JobID: job.ID, Status: final.Status, Progress: prog})
}

// job builds the PENDING job described by the flags.
func (g *GenerateCmd) job(t *pagegen.Template) (*pipeline.Job, error) {
	f, err := os.Open(g.CSV)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := pipeline.ReadCSV(f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no data rows", g.CSV)
	}
	renames, err := pagegen.ParseRenames(g.Map)
	if err != nil {
		return nil, err
	}
	name := g.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(g.CSV), filepath.Ext(g.CSV))
	}
	return &pipeline.Job{
		Name:                   name,
		TemplateID:             t.ID,
		TemplateSlug:           t.Slug,
		InsuranceTypeSlug:      g.InsuranceTypeSlug,
		InsuranceTypeName:      g.InsuranceTypeName,
		SlugPattern:            g.SlugPattern,
		TitlePattern:           g.TitlePattern,
		MetaTitlePattern:       g.MetaTitlePattern,
		MetaDescriptionPattern: g.MetaDescriptionPattern,
		Rows:                   rows,
		Renames:                renames,
		Policy: pipeline.Policy{
			SkipExisting:    g.SkipExisting,
			UpdateExisting:  g.UpdateExisting,
			PublishOnCreate: g.Publish,
			DryRun:          g.DryRun,
		},
	}, nil
}
