package main

import (
	"context"
	"os"

	"github.com/eringen/pagegen"
)

// SeedCmd loads geography from a YAML file, or the embedded defaults.
type SeedCmd struct {
	File string `short:"f" type:"existingfile" help:"Geography YAML file (defaults to the built-in seed)"`
}

func (s *SeedCmd) Run(cli *CLI) error {
	ctx := context.Background()
	_, store, err := cli.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := pagegen.Defaults.ReadFile("defaults/geo.yaml")
	if s.File != "" {
		data, err = os.ReadFile(s.File)
	}
	if err != nil {
		return err
	}
	seed, err := pagegen.ParseGeoSeed(data)
	if err != nil {
		return err
	}
	stats, err := store.SeedGeography(ctx, seed)
	if err != nil {
		return err
	}
	cli.logger.Info("geography seeded")
	return printJSON(os.Stdout, stats)
}
