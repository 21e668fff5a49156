package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/scanner"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/system"
)

// Check represents a single diagnostic check
type Check struct {
	Name        string
	Run         func(ctx context.Context) CheckResult
	Critical    bool // If true, failure means modshelf won't work
	Description string
}

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Passed     bool
	Warning    bool // Passed but with warnings
	Message    string
	Suggestion string
}

func handleDoctor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	verbose := fs.Bool("verbose", false, "Show detailed output for each check")
	offline := fs.Bool("offline", false, "Skip the Civitai reachability check")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load the config but keep going without it; the checks report what is missing.
	path := resolveConfigPath(*cfgPath)
	var cfg *config.Config
	var cfgErr error
	if path != "" {
		cfg, cfgErr = config.Load(path)
	}

	fmt.Fprint(stdout, "Running modshelf diagnostics...\n\n")
	checks := doctorChecks(path, cfg, cfgErr, *offline)

	passedCount, failedCount, warningCount := 0, 0, 0
	for _, check := range checks {
		if *verbose {
			fmt.Fprintf(stdout, "[ ] %s: %s\n", check.Name, check.Description)
		}
		start := time.Now()
		result := check.Run(ctx)
		duration := time.Since(start)

		symbol := "✓"
		switch {
		case !result.Passed:
			symbol = "✗"
			if check.Critical {
				failedCount++
			} else {
				// non-critical failures count as warnings
				warningCount++
			}
		case result.Warning:
			symbol = "⚠"
			warningCount++
			passedCount++
		default:
			passedCount++
		}

		fmt.Fprintf(stdout, "%s %s", symbol, check.Name)
		if *verbose {
			fmt.Fprintf(stdout, " (%.2fs)", duration.Seconds())
		}
		fmt.Fprintln(stdout)
		if result.Message != "" {
			fmt.Fprintf(stdout, "  %s\n", result.Message)
		}
		if result.Suggestion != "" {
			for _, line := range strings.Split(result.Suggestion, "\n") {
				fmt.Fprintf(stdout, "  → %s\n", line)
			}
		}
		if *verbose || !result.Passed || result.Warning {
			fmt.Fprintln(stdout)
		}
	}

	fmt.Fprintf(stdout, "\nDiagnostic Summary:\n")
	fmt.Fprintf(stdout, "  Total checks: %d\n", len(checks))
	fmt.Fprintf(stdout, "  Passed:       %d\n", passedCount)
	fmt.Fprintf(stdout, "  Warnings:     %d\n", warningCount)
	fmt.Fprintf(stdout, "  Failed:       %d\n", failedCount)

	if failedCount > 0 {
		fmt.Fprintln(stdout, "\n⚠ Some critical checks failed. modshelf may not work correctly.")
		return fmt.Errorf("%d checks failed", failedCount)
	}
	if warningCount > 0 {
		fmt.Fprintln(stdout, "\n⚠ Some checks have warnings. modshelf will work but some features may be limited.")
	} else {
		fmt.Fprintln(stdout, "\n✓ All checks passed! modshelf is ready to use.")
	}
	return nil
}

func doctorChecks(path string, cfg *config.Config, cfgErr error, offline bool) []Check {
	noConfig := CheckResult{Passed: false, Message: "Config not loaded"}
	return []Check{
		{
			Name:        "Config file exists",
			Critical:    true,
			Description: "Configuration file must exist for modshelf to work",
			Run: func(ctx context.Context) CheckResult {
				if path == "" {
					return CheckResult{
						Message:    "No config path specified",
						Suggestion: "Set MODSHELF_CONFIG or use --config",
					}
				}
				if _, err := os.Stat(path); err != nil {
					return CheckResult{
						Message:    fmt.Sprintf("Config file not found: %s", path),
						Suggestion: "Copy assets/sample-config/config.example.yml there and edit the roots",
					}
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("Found: %s", path)}
			},
		},
		{
			Name:        "Config is valid",
			Critical:    true,
			Description: "Configuration must parse and pass validation",
			Run: func(ctx context.Context) CheckResult {
				if cfgErr != nil {
					return CheckResult{
						Message:    "Config parsing failed",
						Suggestion: fmt.Sprintf("Fix config errors:\n%v\n\nRun 'modshelf config validate' for details", cfgErr),
					}
				}
				if cfg == nil {
					return noConfig
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("%d model categories, civitai.%s", len(cfg.Models.Roots), cfg.Network.Domain)}
			},
		},
		{
			Name:        "Data directory exists and is writable",
			Critical:    true,
			Description: "The state database and probe cache live under general.data_root",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				return writableDir(cfg.General.DataRoot, "data_root")
			},
		},
		{
			Name:        "Disk space available",
			Description: "Room for the database, probe cache and saved images",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				available, err := system.CheckAvailableSpace(cfg.General.DataRoot)
				if err != nil {
					return CheckResult{Passed: true, Warning: true, Message: fmt.Sprintf("Could not check disk space: %v", err)}
				}
				if available < 512<<20 {
					return CheckResult{
						Passed:     true,
						Warning:    true,
						Message:    fmt.Sprintf("Low disk space: %s free", humanize.Bytes(available)),
						Suggestion: "Saved gallery images and the probe cache need some room",
					}
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("%s available", humanize.Bytes(available))}
			},
		},
		{
			Name:        "Database healthy",
			Critical:    true,
			Description: "State database must open and pass an integrity check",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				db, err := state.Open(cfg)
				if err != nil {
					return CheckResult{
						Message:    fmt.Sprintf("Cannot open database: %v", err),
						Suggestion: "Check that data_root is writable and the database is not corrupted",
					}
				}
				defer db.Close()
				if err := db.CheckIntegrity(); err != nil {
					return CheckResult{
						Message:    err.Error(),
						Suggestion: fmt.Sprintf("Restore a backup or move %s aside and rescan", db.Path),
					}
				}
				o, err := db.CheckOrphans()
				if err != nil {
					return CheckResult{Passed: true, Warning: true, Message: fmt.Sprintf("Orphan check failed: %v", err)}
				}
				if o.Total() > 0 {
					return CheckResult{
						Passed:     true,
						Warning:    true,
						Message:    fmt.Sprintf("%d orphaned models, %d orphaned versions", o.Models, o.Versions),
						Suggestion: "Run 'modshelf db repair'",
					}
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("Database OK: %s", db.Path)}
			},
		},
		{
			Name:        "Model directories",
			Description: "Every configured root should exist",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				var msgs []string
				for _, e := range cfg.ValidateDetailed() {
					if strings.HasPrefix(e.Field, "models.") {
						msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
					}
				}
				if len(msgs) > 0 {
					sort.Strings(msgs)
					return CheckResult{
						Passed:     true,
						Warning:    true,
						Message:    fmt.Sprintf("%d problem(s) with models.roots", len(msgs)),
						Suggestion: strings.Join(msgs, "\n"),
					}
				}
				n := 0
				for _, dirs := range cfg.Models.Roots {
					n += len(dirs)
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("%d directories", n+len(cfg.Models.Unsorted))}
			},
		},
		{
			Name:        "Output directory writable",
			Description: "Saved gallery images go to general.output_root",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				return writableDir(cfg.General.OutputRoot, "output_root")
			},
		},
		{
			Name:        "No scan in progress",
			Description: "A leftover scan lock blocks the next scan",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				lock := scanner.LockPath(cfg)
				if _, err := os.Stat(lock); err == nil {
					return CheckResult{
						Passed:     true,
						Warning:    true,
						Message:    fmt.Sprintf("Lock file present: %s", lock),
						Suggestion: "If no scan is running, the next scan clears it automatically",
					}
				}
				return CheckResult{Passed: true, Message: "No lock held"}
			},
		},
		{
			Name:        "Civitai token",
			Description: "A token unlocks restricted images and raises rate limits",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				if !cfg.Sources.CivitAI.Enabled {
					return CheckResult{Passed: true, Message: "Civitai source disabled"}
				}
				env := cfg.Sources.CivitAI.TokenEnv
				if strings.TrimSpace(os.Getenv(env)) == "" {
					return CheckResult{
						Passed:     true,
						Warning:    true,
						Message:    fmt.Sprintf("%s not set", env),
						Suggestion: fmt.Sprintf("export %s=...\nGet a token at: https://civitai.com/user/account", env),
					}
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("%s set", env)}
			},
		},
		{
			Name:        "Civitai reachable",
			Description: "The gallery and browser need the Civitai API",
			Run: func(ctx context.Context) CheckResult {
				if cfg == nil {
					return noConfig
				}
				if offline || !cfg.Sources.CivitAI.Enabled {
					return CheckResult{Passed: true, Message: "Skipped"}
				}
				base := cfg.BaseURL()
				if cfg.Network.BaseURL == "" {
					if db, err := state.Open(cfg); err == nil {
						base = config.DomainURL(db.Network(cfg.Network.Domain))
						_ = db.Close()
					}
				}
				if err := system.CheckAPI(ctx, civitai.NewHTTPClient(cfg), base, "/api/v1/models?limit=1"); err != nil {
					suggestion := err.Error()
					if p := system.DetectProxySettings(); len(p) > 0 {
						keys := make([]string, 0, len(p))
						for k := range p {
							keys = append(keys, k)
						}
						sort.Strings(keys)
						suggestion += "\nProxy variables set: " + strings.Join(keys, ", ")
					}
					suggestion += "\nTry the other network: modshelf settings set network work"
					return CheckResult{Message: fmt.Sprintf("%s unreachable", base), Suggestion: suggestion}
				}
				return CheckResult{Passed: true, Message: fmt.Sprintf("%s reachable", base)}
			},
		},
	}
}

// writableDir creates dir when missing and probes it with a temp file.
func writableDir(dir, field string) CheckResult {
	if dir == "" {
		return CheckResult{Message: fmt.Sprintf("general.%s not set", field), Suggestion: fmt.Sprintf("Add %s to your config file", field)}
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{
				Message:    fmt.Sprintf("Directory doesn't exist and can't be created: %s", dir),
				Suggestion: fmt.Sprintf("Create manually: mkdir -p %s", dir),
			}
		}
		return CheckResult{Passed: true, Warning: true, Message: fmt.Sprintf("Created directory: %s", dir)}
	case err != nil:
		return CheckResult{Message: fmt.Sprintf("Cannot access: %s", err), Suggestion: "Check file permissions"}
	case !info.IsDir():
		return CheckResult{Message: "Path exists but is not a directory", Suggestion: fmt.Sprintf("Remove the file or choose a different %s", field)}
	}
	probe := filepath.Join(dir, ".modshelf_write_test")
	if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
		return CheckResult{Message: "Directory is not writable", Suggestion: fmt.Sprintf("Fix permissions: chmod u+w %s", dir)}
	}
	_ = os.Remove(probe)
	return CheckResult{Passed: true, Message: fmt.Sprintf("Writable: %s", dir)}
}
