// Command pagegen serves generated insurance pages and runs generation jobs
// from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/eringen/pagegen"
)

// version is set at build time via ldflags.
var version = "dev"

// CLI holds the global flags and the subcommands.
type CLI struct {
	Config   string           `short:"c" help:"Configuration file path" default:"pagegen.yaml" env:"PAGEGEN_CONFIG"`
	Database string           `short:"d" help:"SQLite database path (overrides config)"`
	Verbose  bool             `short:"v" help:"Enable debug logging"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Serve pages and the admin API"`
	Generate GenerateCmd `cmd:"" help:"Create a generation job from a CSV file and run it"`
	Render   RenderCmd   `cmd:"" help:"Render a template file against a JSON context"`
	Vars     VarsCmd     `cmd:"" help:"List template variables and check them against a context"`
	Seed     SeedCmd     `cmd:"" help:"Load reference geography into the database"`

	logger *zap.Logger `kong:"-"`
}

// AfterApply sets up logging once flags are parsed.
func (c *CLI) AfterApply() error {
	level := "info"
	if c.Verbose {
		level = "debug"
	}
	logger, err := pagegen.NewLogger(level)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

// loadConfig reads the config file and applies the --database override.
func (c *CLI) loadConfig() (pagegen.SiteConfig, error) {
	cfg, err := pagegen.LoadConfig(c.Config)
	if err != nil {
		return cfg, err
	}
	if c.Database != "" {
		cfg.DatabasePath = c.Database
	}
	return cfg, nil
}

// openStore opens the configured database and seeds the defaults.
func (c *CLI) openStore(ctx context.Context) (pagegen.SiteConfig, *pagegen.Store, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	store, err := pagegen.NewStore(cfg.DatabasePath)
	if err != nil {
		return cfg, nil, err
	}
	if err := pagegen.SeedDefaults(ctx, store); err != nil {
		_ = store.Close()
		return cfg, nil, fmt.Errorf("seed defaults: %w", err)
	}
	return cfg, store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pagegen"),
		kong.Description("Programmatic insurance page generator"),
		kong.UsageOnError(),
		kong.Vars{"version": "pagegen " + version},
	)
	err := ctx.Run(&cli)
	if cli.logger != nil {
		_ = cli.logger.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
