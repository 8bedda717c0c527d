package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/iota-uz/worklog-importer/pkg/configuration"
	"github.com/iota-uz/worklog-importer/pkg/pipeline"
	"github.com/iota-uz/worklog-importer/pkg/resolver"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "worklog-importer",
		Short:         "One-way worklog migration into a tracker server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newModeCmd("import", "Full import: create missing entities and time entries, then verify", configuration.ModeFullImport))
	cmd.AddCommand(newModeCmd("verify", "Compare source and target totals without mutating anything", configuration.ModeAnalyze))
	cmd.AddCommand(newModeCmd("fix-dates", "Rewrite audit timestamps of imported entities to their logged dates", configuration.ModeDatesOnly))
	cmd.AddCommand(newModeCmd("fix-logged-by", "Repair time-entry attribution in storage", configuration.ModeLoggedBy))
	return cmd
}

func newModeCmd(use, short string, mode configuration.Mode) *cobra.Command {
	var flags struct {
		source       string
		url          string
		apiKey       string
		generation   string
		dbDSN        string
		dryRun       bool
		autoConfirm  bool
		defaultType  string
		role         string
		skipProjects bool
		taskCache    string
		entryCache   string
		rewriteHist  bool
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configuration.Use()
			if err != nil {
				return err
			}
			cfg.Mode = mode
			set := cmd.Flags().Changed
			if set("source") {
				cfg.SourcePath = flags.source
			}
			if set("url") {
				cfg.Tracker.BaseURL = flags.url
			}
			if set("api-key") {
				cfg.Tracker.APIKey = flags.apiKey
			}
			if set("generation") {
				cfg.Tracker.Generation = flags.generation
			}
			if set("db-dsn") {
				cfg.Database.DSN = flags.dbDSN
			}
			if set("dry-run") {
				cfg.DryRun = flags.dryRun
			}
			if set("auto-confirm") {
				cfg.AutoConfirm = flags.autoConfirm
			}
			if set("default-type") {
				cfg.DefaultTaskType = flags.defaultType
			}
			if set("role") {
				cfg.MemberRoleName = flags.role
			}
			if set("skip-project-creation") {
				cfg.SkipProjects = flags.skipProjects
			}
			if set("task-cache") {
				cfg.TaskCachePath = flags.taskCache
			}
			if set("entry-cache") {
				cfg.EntryCachePath = flags.entryCache
			}
			if set("rewrite-history") {
				cfg.RewriteHistory = flags.rewriteHist
			}
			return run(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.source, "source", "", "path to the worklog workbook")
	f.StringVar(&flags.url, "url", "", "tracker server base URL")
	f.StringVar(&flags.apiKey, "api-key", "", "tracker API credential")
	f.StringVar(&flags.generation, "generation", "", "pin the API generation (v1 or v2) instead of probing")
	f.StringVar(&flags.dbDSN, "db-dsn", "", "tracker Postgres DSN for direct-storage fallback")
	f.BoolVar(&flags.dryRun, "dry-run", false, "report planned mutations without performing any")
	f.BoolVar(&flags.autoConfirm, "auto-confirm", false, "skip creation prompts")
	f.StringVar(&flags.defaultType, "default-type", "", "work-item type for labels without a type prefix")
	f.StringVar(&flags.role, "role", "", "role granted when provisioning memberships")
	f.BoolVar(&flags.skipProjects, "skip-project-creation", false, "fail instead of creating missing projects")
	f.StringVar(&flags.taskCache, "task-cache", "", "task-resolution cache path")
	f.StringVar(&flags.entryCache, "entry-cache", "", "time-entry cache path")
	f.BoolVar(&flags.rewriteHist, "rewrite-history", false, "backdate audit timestamps of created entities")
	return cmd
}

func run(ctx context.Context, cfg *configuration.Configuration) error {
	log := cfg.Logger()
	if cfg.SourcePath == "" {
		return errors.New("no source workbook given (--source or SOURCE_PATH)")
	}
	if cfg.Tracker.BaseURL == "" {
		return errors.New("no tracker URL given (--url or TRACKER_URL)")
	}

	gen := tracker.Generation(cfg.Tracker.Generation)
	if gen == tracker.GenUnknown {
		var err error
		gen, err = tracker.Detect(ctx, cfg.Tracker.BaseURL, log)
		if err != nil {
			return err
		}
	}
	log.WithField("generation", gen).Info("tracker API generation")

	client, err := tracker.New(cfg.Tracker.BaseURL, cfg.Tracker.APIKey, gen, log)
	if err != nil {
		return err
	}

	var admin storage.Admin
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPgAdmin(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		admin = pg
	}

	var confirm resolver.Confirmer = &resolver.TerminalConfirm{In: os.Stdin, Out: os.Stdout}
	if cfg.AutoConfirm || cfg.DryRun {
		confirm = resolver.AutoConfirm{}
	}

	p, err := pipeline.New(cfg, client, admin, confirm)
	if err != nil {
		return err
	}
	if err := p.Run(ctx); err != nil {
		return err
	}
	if p.Report != nil {
		fmt.Println(p.Report)
	}
	return nil
}
