package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/exitcodes"
	"github.com/johndauphine/pg-rest-mirror/internal/history"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/johndauphine/pg-rest-mirror/internal/orchestrator"
	"github.com/johndauphine/pg-rest-mirror/internal/tui"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "pg-rest-mirror",
		Usage:   "Scheduled one-way sync from a relational database to a PostgREST sink",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			// Set log level from flag
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			// Set log format
			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				// No command provided, launch TUI
				return startTUI(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start a sync run",
				Action: runSync,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "Profile name stored in SQLite",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Show row counts and batches without delivering anything",
					},
					&cli.BoolFlag{
						Name:  "progress-json",
						Usage: "Emit JSON progress lines to stderr (for Airflow/automation)",
					},
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table name patterns to sync (overrides include_tables)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of tables synced in parallel",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Rows per upsert request",
					},
				},
			},
			{
				Name:   "check",
				Usage:  "Check source and sink connectivity",
				Action: checkConnectivity,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "Profile name stored in SQLite",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Compare row counts between source queries and sink tables",
				Action: validateSync,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "Profile name stored in SQLite",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the last run, or a specific run with --run",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "Profile name stored in SQLite",
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show a specific run ID",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:  "history",
				Usage: "List recent sync runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "Profile name stored in SQLite",
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of runs to list",
					},
				},
				Action: showHistory,
			},
			{
				Name:  "profile",
				Usage: "Manage encrypted profiles stored in SQLite",
				Subcommands: []*cli.Command{
					{
						Name:   "save",
						Usage:  "Save a profile from a config file",
						Action: saveProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "name",
								Aliases: []string{"n"},
								Usage:   "Profile name (inferred from profile.name or filename if omitted)",
							},
							&cli.StringFlag{
								Name:    "config",
								Aliases: []string{"c"},
								Value:   "config.yaml",
								Usage:   "Path to configuration file",
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List saved profiles",
						Action: listProfiles,
					},
					{
						Name:   "delete",
						Usage:  "Delete a saved profile",
						Action: deleteProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Aliases:  []string{"n"},
								Required: true,
								Usage:    "Profile name",
							},
						},
					},
					{
						Name:   "export",
						Usage:  "Export a profile to a config file",
						Action: exportProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Aliases:  []string{"n"},
								Required: true,
								Usage:    "Profile name",
							},
							&cli.StringFlag{
								Name:    "out",
								Aliases: []string{"o"},
								Value:   "config.yaml",
								Usage:   "Output path for exported config",
							},
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func startTUI(c *cli.Context) error {
	return tui.Start()
}

func runSync(c *cli.Context) error {
	cfg, profileName, configPath, err := loadConfigWithOrigin(c)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("loading config: %w", err), exitcodes.ConfigError)
	}

	// Override from flags
	if c.IsSet("workers") {
		cfg.Sync.Workers = c.Int("workers")
	}
	if c.IsSet("batch-size") {
		cfg.Sync.BatchSize = c.Int("batch-size")
	}
	if tables := c.String("tables"); tables != "" {
		cfg.Sync.IncludeTables = strings.Split(tables, ",")
	}

	if profileName != "" {
		logging.Debug("Configuration loaded from profile %q", profileName)
	} else {
		logging.Debug("Configuration loaded from %s", configPath)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	if c.Bool("dry-run") {
		res, err := orch.DryRun(ctx)
		if err != nil {
			return err
		}
		if c.Bool("output-json") || c.String("output-file") != "" {
			return outputJSON(c, res)
		}
		orch.ShowDryRun(res)
		return nil
	}

	// Progress display only on a terminal, and never when the JSON
	// report goes to stdout
	if term.IsTerminal(int(os.Stdout.Fd())) && !c.Bool("output-json") {
		orch.EnableProgress()
	}
	if c.Bool("progress-json") {
		orch.EnableJSONProgress()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Aborting run...")
		cancel()
	}()

	report, runErr := orch.Run(ctx)
	if runErr != nil {
		return runErr
	}

	// Output JSON result if requested
	if c.Bool("output-json") || c.String("output-file") != "" {
		if err := outputJSON(c, report); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	// Scheduled environments branch on the exit code, so a clean
	// process exit is reserved for a fully successful run
	switch report.Outcome {
	case orchestrator.OutcomePartial:
		return exitcodes.NewExitError(
			fmt.Errorf("sync finished with %d failed tables: %s",
				report.TablesFailed, strings.Join(report.FailedTables, ", ")),
			exitcodes.SyncError)
	case orchestrator.OutcomeAborted:
		return exitcodes.NewExitError(fmt.Errorf("sync run %s aborted", report.RunID), exitcodes.Cancelled)
	}
	return nil
}

func checkConnectivity(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("loading config: %w", err), exitcodes.ConfigError)
	}

	ctx := context.Background()
	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	res, err := orch.HealthCheck(ctx)
	if err != nil {
		return err
	}

	if c.Bool("output-json") || c.String("output-file") != "" {
		if err := outputJSON(c, res); err != nil {
			return err
		}
	} else {
		orch.ShowHealthCheck(res)
	}

	if !res.Healthy {
		return exitcodes.NewExitError(fmt.Errorf("connectivity check failed"), exitcodes.ConnectionError)
	}
	return nil
}

func validateSync(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("loading config: %w", err), exitcodes.ConfigError)
	}

	orch, err := orchestrator.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	res, err := orch.Validate(context.Background())
	if err != nil {
		return err
	}

	if c.Bool("output-json") || c.String("output-file") != "" {
		if err := outputJSON(c, res); err != nil {
			return err
		}
	}

	if !res.Passed {
		return exitcodes.NewExitError(fmt.Errorf("row count validation failed"), exitcodes.ValidationError)
	}
	return nil
}

func showStatus(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("loading config: %w", err), exitcodes.ConfigError)
	}

	orch, err := orchestrator.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	runID := c.String("run")

	// JSON output
	if c.Bool("json") {
		var report *orchestrator.RunReport
		if runID != "" {
			report, err = orch.RunReportByID(runID)
		} else {
			report, err = orch.LastRunReport()
		}
		if err != nil {
			// No recorded runs yet
			data, _ := json.MarshalIndent(map[string]string{"status": "no_runs"}, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if runID != "" {
		return orch.ShowRunDetails(runID)
	}
	return orch.ShowStatus()
}

func showHistory(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("loading config: %w", err), exitcodes.ConfigError)
	}

	orch, err := orchestrator.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	// If --run flag is provided, show details for that specific run
	if runID := c.String("run"); runID != "" {
		return orch.ShowRunDetails(runID)
	}

	return orch.ShowHistory(c.Int("limit"))
}

func loadConfigWithOrigin(c *cli.Context) (*config.Config, string, string, error) {
	profileName := c.String("profile")
	if profileName != "" {
		cfg, err := loadProfileConfig(profileName)
		return cfg, profileName, "", err
	}

	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, "", "", fmt.Errorf("configuration file not found: %s", configPath)
	}
	cfg, err := config.Load(configPath)
	return cfg, "", configPath, err
}

func loadProfileConfig(name string) (*config.Config, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, err
	}
	state, err := history.New(dataDir)
	if err != nil {
		return nil, err
	}
	defer state.Close()

	blob, err := state.GetProfile(name)
	if err != nil {
		return nil, err
	}
	return config.LoadBytes(blob)
}

func saveProfile(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	name := c.String("name")
	if name == "" {
		if cfg.Profile.Name != "" {
			name = cfg.Profile.Name
		} else {
			base := filepath.Base(configPath)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return err
	}
	state, err := history.New(dataDir)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.SaveProfile(name, cfg.Profile.Description, payload); err != nil {
		if strings.Contains(err.Error(), "PG_REST_MIRROR_MASTER_KEY is not set") {
			return fmt.Errorf("PG_REST_MIRROR_MASTER_KEY is not set; set it before saving profiles")
		}
		return err
	}
	fmt.Printf("Saved profile %q\n", name)
	return nil
}

func listProfiles(c *cli.Context) error {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return err
	}
	state, err := history.New(dataDir)
	if err != nil {
		return err
	}
	defer state.Close()

	profiles, err := state.ListProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles found")
		return nil
	}
	fmt.Printf("%-20s %-40s %-20s %-20s\n", "Name", "Description", "Created", "Updated")
	for _, p := range profiles {
		desc := strings.ReplaceAll(strings.TrimSpace(p.Description), "\n", " ")
		fmt.Printf("%-20s %-40s %-20s %-20s\n",
			p.Name,
			desc,
			p.CreatedAt.Format("2006-01-02 15:04:05"),
			p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func deleteProfile(c *cli.Context) error {
	name := c.String("name")
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return err
	}
	state, err := history.New(dataDir)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.DeleteProfile(name); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %q\n", name)
	return nil
}

func exportProfile(c *cli.Context) error {
	name := c.String("name")
	outPath := c.String("out")

	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return err
	}
	state, err := history.New(dataDir)
	if err != nil {
		return err
	}
	defer state.Close()

	blob, err := state.GetProfile(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, blob, 0600); err != nil {
		return err
	}
	fmt.Printf("Exported profile %q to %s\n", name, outPath)
	return nil
}

// outputJSON writes a result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result interface{}) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	// Write to stdout if --output-json flag is set
	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	// Write to file if --output-file flag is set
	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
	}

	return nil
}
