package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/postpulse/internal/app"
	"github.com/ibeckermayer/postpulse/internal/config"
	"github.com/ibeckermayer/postpulse/internal/output"
	"github.com/ibeckermayer/postpulse/internal/types"
)

// flags shared by every subcommand
type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "postpulse",
		Short:         "Collect engagement counters from X and Facebook profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "config file, .toml or .yaml (default is the user config dir)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override log level (trace|debug|info|warn|error)")

	root.AddCommand(newRunCmd(f))
	root.AddCommand(newReplayCmd(f))
	root.AddCommand(newScheduleCmd(f))
	root.AddCommand(newInitCmd(f))
	root.AddCommand(newLoginCmd(f))
	root.AddCommand(newLogoutCmd(f))
	root.AddCommand(newStatusCmd(f))
	root.AddCommand(newRunsCmd())
	root.AddCommand(newBotTestCmd(f))
	root.AddCommand(newOpenCmd())

	return root
}

// load reads the config file and builds the App around it. A missing default
// config falls back to built-in defaults.
func (f *rootFlags) load() (*app.App, *config.Config, error) {
	path := f.configPath
	explicit := path != ""
	if !explicit {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}

	cfg, err := config.LoadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = config.Default()
	default:
		return nil, nil, err
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	return app.New(cfg, path, logger), cfg, nil
}

func newRunCmd(f *rootFlags) *cobra.Command {
	var (
		outPath string
		format  string
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every configured account once and write the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := f.load()
			if err != nil {
				return err
			}
			if err := applyOutputFlags(cfg, outPath, format, strict); err != nil {
				return err
			}

			res, err := a.Run(cmd.Context())
			printResult(cmd, res)
			return err
		},
	}
	addOutputFlags(cmd, &outPath, &format, &strict)
	return cmd
}

func newReplayCmd(f *rootFlags) *cobra.Command {
	var (
		outPath string
		format  string
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "replay <snapshot-dir>",
		Short: "Re-extract records from saved page snapshots without a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := f.load()
			if err != nil {
				return err
			}
			if err := applyOutputFlags(cfg, outPath, format, strict); err != nil {
				return err
			}

			res, err := a.Replay(cmd.Context(), args[0])
			printResult(cmd, res)
			return err
		},
	}
	addOutputFlags(cmd, &outPath, &format, &strict)
	return cmd
}

func addOutputFlags(cmd *cobra.Command, outPath, format *string, strict *bool) {
	cmd.Flags().StringVarP(outPath, "output", "o", "", "output file (overrides config)")
	cmd.Flags().StringVarP(format, "format", "f", "", "output format: csv|json|sqlite (overrides config)")
	cmd.Flags().BoolVar(strict, "strict", false, "record unreadable counters in a missing column")
}

func applyOutputFlags(cfg *config.Config, outPath, format string, strict bool) error {
	if outPath != "" {
		cfg.Output.Path = outPath
	}
	if format != "" {
		if _, err := output.ParseFormat(format); err != nil {
			return err
		}
		cfg.Output.Format = format
	}
	if strict {
		cfg.Extraction.Strict = true
	}
	return nil
}

func printResult(cmd *cobra.Command, res app.RunResult) {
	if !res.Written {
		fmt.Fprintln(cmd.OutOrStdout(), "No records collected.")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records to %s\n", res.Output.Count, res.Output.Path)
}

func newScheduleCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the collection on the configured cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := f.load()
			if err != nil {
				return err
			}
			return a.Schedule(cmd.Context())
		},
	}
}

func newInitCmd(f *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.configPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created default config at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newLoginCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login <x|facebook>",
		Short: "Log in through a visible browser and store the session cookies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := f.load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Complete the login in the browser window...")
			if err := a.Login(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session saved. Set auth.use_cookies = true to use it.")
			return nil
		},
	}
}

func newLogoutCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <x|facebook>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := f.load()
			if err != nil {
				return err
			}
			return a.Logout(args[0])
		},
	}
}

func newStatusCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which sites have a stored login session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := f.load()
			if err != nil {
				return err
			}
			status := a.SessionStatus()
			for _, site := range slices.Sorted(maps.Keys(status)) {
				state := "not logged in"
				if status[site] {
					state = "logged in"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", site, state)
			}
			if !cfg.Auth.UseCookies {
				fmt.Fprintln(cmd.OutOrStdout(), "(auth.use_cookies is off; sessions are not used by runs)")
			}
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <sqlite-file> [run-id]",
		Short: "List runs stored in SQLite output, or print one run as CSV",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				recs, err := app.RunRecords(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					return fmt.Errorf("no records for run %s", args[1])
				}
				strict := slices.ContainsFunc(recs, func(r types.EngagementRecord) bool { return len(r.Missing) > 0 })
				return output.WriteCSV(cmd.OutOrStdout(), recs, strict)
			}

			runs, err := app.Runs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d records\n", r.ID, r.StartedAt.Local().Format(time.DateTime), r.RecordCount)
			}
			return nil
		},
	}
}

func newBotTestCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bot-test",
		Short: "Open bot.sannysoft.com to audit the browser fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := f.load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to close the browser...")
			return a.BotTest(cmd.Context())
		},
	}
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "open <config|cache>",
		Short:     "Open the config file or cache directory",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"config", "cache"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "config" {
				path, err := config.ConfigPath()
				if err != nil {
					return err
				}
				return app.OpenPath(path, false)
			}
			path, err := config.CacheDir()
			if err != nil {
				return err
			}
			return app.OpenPath(path, true)
		},
	}
}
