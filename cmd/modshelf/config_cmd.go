package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jxwalker/modshelf/internal/config"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/state"
)

func handleConfig(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("config subcommand required: validate | print | init")
	}
	sub := args[0]
	if sub == "init" {
		return handleConfigInit(args[1:])
	}
	fs := flag.NewFlagSet("config "+sub, flag.ContinueOnError)
	cf := addCommonFlags(fs)
	strict := fs.Bool("strict", false, "also check that directories exist and the token is set")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	switch sub {
	case "validate":
		c, err := cf.load()
		if err != nil {
			return err
		}
		if *strict {
			if err := c.ValidateWithFriendlyErrors(); err != nil {
				return err
			}
		}
		log, err := cf.logger(c)
		if err != nil {
			return err
		}
		defer log.Close()
		log.Infof("config: valid (%d model categories, network civitai.%s)", len(c.Models.Roots), c.Network.Domain)
		return nil
	case "print":
		c, err := cf.load()
		if err != nil {
			return err
		}
		return printJSON(c)
	default:
		return fmt.Errorf("unknown config subcommand: %s", sub)
	}
}

// handleConfigInit writes a starter config with every category rooted under one
// ComfyUI-style models directory.
func handleConfigInit(args []string) error {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	out := fs.String("out", "", "where to write (default: --config, MODSHELF_CONFIG or ~/.config/modshelf/config.yml; - for stdout)")
	cfgPath := fs.String("config", "", "alias for --out")
	dataRoot := fs.String("data-root", "~/.local/share/modshelf", "directory for the database and caches")
	modelsDir := fs.String("models-dir", "~/ComfyUI/models", "directory holding checkpoints/, loras/, ...")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "version: 1\ngeneral:\n  data_root: %q\nmodels:\n  roots:\n", *dataRoot)
	for _, cat := range config.SupportedModelTypes {
		fmt.Fprintf(&b, "    %s: [%q]\n", cat, filepath.Join(*modelsDir, cat))
	}
	b.WriteString("sources:\n  civitai:\n    enabled: true\n")
	c, err := config.Parse([]byte(b.String()))
	if err != nil {
		return err
	}
	y, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	dest := firstNonEmpty(*out, *cfgPath)
	if dest == "-" {
		_, err := stdout.Write(y)
		return err
	}
	dest = resolveConfigPath(dest)
	if _, err := os.Stat(dest); err == nil && !*force {
		return friendlyerrors.ConfigError("config", fmt.Sprintf("%s already exists", dest)).WithDetails(errors.New("pass --force to overwrite"))
	}
	if err := config.EnsureDir(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, y, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote config to %s\n", dest)
	return nil
}

// settingKeys are the settings the CLI exposes, with their accepted values.
var settingKeys = map[string][]string{
	"network": {"com", "work"},
}

func handleSettings(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("settings subcommand required: get KEY | set KEY VALUE")
	}
	sub := args[0]
	fs := flag.NewFlagSet("settings "+sub, flag.ContinueOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()

	switch sub {
	case "get":
		keys := fs.Args()
		if len(keys) == 0 {
			keys = []string{"network"}
		}
		out := map[string]string{}
		for _, k := range keys {
			v, err := getSetting(a, k)
			if err != nil {
				return err
			}
			out[k] = v
		}
		if *cf.jsonOut {
			return printJSON(out)
		}
		for _, k := range keys {
			fmt.Fprintf(stdout, "%s\t%s\n", k, out[k])
		}
		return nil
	case "set":
		if fs.NArg() != 2 {
			return errors.New("usage: modshelf settings set KEY VALUE")
		}
		k, v := fs.Arg(0), strings.ToLower(strings.TrimSpace(fs.Arg(1)))
		allowed, ok := settingKeys[k]
		if !ok {
			return fmt.Errorf("unknown setting %q", k)
		}
		if !slices.Contains(allowed, v) {
			return fmt.Errorf("invalid %s %q (want %s)", k, v, strings.Join(allowed, " or "))
		}
		if err := a.db.SetSetting(state.SettingNetwork, v); err != nil {
			return err
		}
		a.log.Infof("settings: %s = %s (%s)", k, v, config.DomainURL(v))
		return nil
	default:
		return fmt.Errorf("unknown settings subcommand: %s", sub)
	}
}

func getSetting(a *app, key string) (string, error) {
	switch key {
	case "network":
		return a.db.Network(a.cfg.Network.Domain), nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}
