package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/config"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/metrics"
	"github.com/jxwalker/modshelf/internal/state"
)

var version = "dev"

// stdout is where command output goes; tests swap it for a buffer.
var stdout io.Writer = os.Stdout

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:]); err != nil {
		if fe, ok := friendlyerrors.Friendly(err); ok {
			fmt.Fprintln(os.Stderr, fe.Error())
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("no command provided")
	}
	cmd := args[0]
	switch cmd {
	case "config":
		return handleConfig(ctx, args[1:])
	case "scan":
		return handleScan(ctx, args[1:])
	case "models":
		return handleModels(ctx, args[1:])
	case "gallery":
		return handleGallery(ctx, args[1:])
	case "analyze":
		return handleAnalyze(ctx, args[1:])
	case "browse":
		return handleBrowse(ctx, args[1:])
	case "save-image":
		return handleSaveImage(ctx, args[1:])
	case "cache":
		return handleCache(ctx, args[1:])
	case "stats":
		return handleStats(ctx, args[1:])
	case "settings":
		return handleSettings(ctx, args[1:])
	case "db":
		return handleDB(ctx, args[1:])
	case "doctor":
		return handleDoctor(ctx, args[1:])
	case "tui":
		return handleTUI(ctx, args[1:])
	case "completion":
		return handleCompletion(ctx, args[1:])
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Fprintln(stdout, strings.TrimSpace(`modshelf - local model catalog and Civitai recipe gallery

Usage:
  modshelf <command> [flags]

Commands:
  config validate   Validate a YAML config file
  config print      Print the loaded config as JSON
  config init       Write a starter config
  scan              Hash new or changed model files; --enrich looks them up on Civitai
  models            Print the local catalog as a tree (or JSON)
  gallery           Fetch and lay out the community images of a local model
  analyze           Summarise the recipes of a local model's community images
  browse            Search Civitai models
  save-image URL    Download the original of a gallery image into output_root
  cache clear KIND  Clear analysis | api_responses | triggers | probe | all
  stats             Show catalog and cache statistics
  settings get|set  Read or change persisted settings (network)
  db                Database maintenance (check | repair | vacuum | backup PATH)
  doctor            Diagnose config, paths, database and Civitai access
  tui               Open the interactive terminal UI
  completion        Generate shell completion scripts (bash|zsh|fish)
  version           Print version
  help              Show this help

Flags:
  --config PATH     Path to YAML config file (or MODSHELF_CONFIG env var; default: ~/.config/modshelf/config.yml)
  --log-level L     Log level: debug|info|warn|error (per command)
  --json            JSON output and logs (per command)
`))
}

// commonFlags are registered on every command's flag set.
type commonFlags struct {
	cfgPath  *string
	logLevel *string
	jsonOut  *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		cfgPath:  fs.String("config", "", "Path to YAML config file"),
		logLevel: fs.String("log-level", "", "log level (default: logging.level from config, else info)"),
		jsonOut:  fs.Bool("json", false, "json output"),
	}
}

// resolveConfigPath applies the --config, MODSHELF_CONFIG, default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("MODSHELF_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

func (f commonFlags) load() (*config.Config, error) {
	p := resolveConfigPath(*f.cfgPath)
	if p == "" {
		return nil, errors.New("--config is required or set MODSHELF_CONFIG")
	}
	if _, err := os.Stat(p); err != nil {
		return nil, friendlyerrors.ConfigError("config", fmt.Sprintf("file not found: %s", p)).WithDetails(err)
	}
	return config.Load(p)
}

func (f commonFlags) logger(c *config.Config) (*logging.Logger, error) {
	level := *f.logLevel
	if level == "" {
		level = c.Logging.Level
	}
	jsonLogs := *f.jsonOut || strings.EqualFold(c.Logging.Format, "json")
	if c.Logging.File.Enabled && c.Logging.File.Path != "" {
		if err := config.EnsureDir(filepath.Dir(c.Logging.File.Path), 0o755); err != nil {
			return nil, err
		}
		return logging.NewFile(level, jsonLogs, c.Logging.File.Path)
	}
	return logging.New(level, jsonLogs), nil
}

// app is what most commands need: the config, a logger, the state DB and metrics.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	db      *state.DB
	metrics *metrics.Manager
}

func (f commonFlags) open() (*app, error) {
	c, err := f.load()
	if err != nil {
		return nil, err
	}
	log, err := f.logger(c)
	if err != nil {
		return nil, err
	}
	db, err := state.Open(c)
	if err != nil {
		_ = log.Close()
		return nil, friendlyerrors.DatabaseError(err)
	}
	return &app{cfg: c, log: log, db: db, metrics: metrics.New(c)}, nil
}

func (a *app) Close() {
	if err := a.metrics.Write(); err != nil {
		a.log.Warnf("metrics: %v", err)
	}
	_ = a.db.Close()
	_ = a.log.Close()
}

// client builds a Civitai client for the active network, or nil when the source is
// disabled.
func (a *app) client() *civitai.Client {
	if !a.cfg.Sources.CivitAI.Enabled {
		return nil
	}
	return civitai.New(a.cfg,
		civitai.WithDomain(a.db.Network(a.cfg.Network.Domain)),
		civitai.WithLogger(a.log),
		civitai.WithMetrics(a.metrics))
}

func (a *app) requireClient() (*civitai.Client, error) {
	c := a.client()
	if c == nil {
		return nil, friendlyerrors.ConfigError("sources.civitai.enabled", "the Civitai source is disabled")
	}
	return c, nil
}

// probeCache opens the persistent size cache, falling back to memory when the
// directory is locked by another process.
func (a *app) probeCache() *media.Cache {
	ttl := time.Duration(a.cfg.Cache.ProbeTTLHours) * time.Hour
	pc, err := media.OpenCache(a.cfg.ProbeCacheDir(), ttl)
	if err == nil {
		return pc
	}
	a.log.Warnf("probe cache: %v; using memory", err)
	pc, err = media.OpenMemoryCache(ttl)
	if err != nil {
		a.log.Warnf("probe cache: %v", err)
		return nil
	}
	return pc
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
