package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/system"
)

// cacheProbe names the badger size cache; the other kinds live in the state DB.
const cacheProbe = "probe"

func handleCache(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "clear" {
		return errors.New("usage: modshelf cache clear analysis|api_responses|triggers|probe|all")
	}
	fs := flag.NewFlagSet("cache clear", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: modshelf cache clear analysis|api_responses|triggers|probe|all")
	}
	kind := fs.Arg(0)
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if kind != cacheProbe {
		if err := a.db.ClearCache(kind); err != nil {
			return err
		}
	}
	if kind == cacheProbe || kind == state.CacheAll {
		pc := a.probeCache()
		err := pc.Clear()
		_ = pc.Close()
		if err != nil {
			return err
		}
	}
	a.log.Infof("cache: cleared %s", kind)
	return nil
}

func handleStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.db.Stats()
	if err != nil {
		return err
	}
	size, err := a.db.Size()
	if err != nil {
		return err
	}
	pc := a.probeCache()
	probed, err := pc.Len()
	_ = pc.Close()
	if err != nil {
		a.log.Warnf("stats: probe cache: %v", err)
	}
	total := 0
	for cat, n := range st.ByType {
		total += n
		a.metrics.SetCatalogSize(cat, n)
	}
	free, ferr := system.CheckAvailableSpace(a.cfg.General.DataRoot)

	if *cf.jsonOut {
		out := map[string]any{
			"models":        total,
			"by_type":       st.ByType,
			"unchecked":     st.Unchecked,
			"not_found":     st.NotFound,
			"images":        st.Images,
			"saved_images":  st.Saved,
			"selections":    st.Selections,
			"probe_entries": probed,
			"db_bytes":      size,
			"network":       a.db.Network(a.cfg.Network.Domain),
		}
		if ferr == nil {
			out["free_bytes"] = free
		}
		return printJSON(out)
	}
	fmt.Fprintf(stdout, "Models:        %d\n", total)
	cats := make([]string, 0, len(st.ByType))
	for cat := range st.ByType {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		fmt.Fprintf(stdout, "  %-14s %d\n", firstNonEmpty(cat, "(unsorted)"), st.ByType[cat])
	}
	fmt.Fprintf(stdout, "Unchecked:     %d\n", st.Unchecked)
	fmt.Fprintf(stdout, "Not found:     %d\n", st.NotFound)
	fmt.Fprintf(stdout, "Images:        %d (%d saved)\n", st.Images, st.Saved)
	fmt.Fprintf(stdout, "Selections:    %d\n", st.Selections)
	fmt.Fprintf(stdout, "Probe cache:   %d sizes\n", probed)
	fmt.Fprintf(stdout, "Database:      %s (%s)\n", humanize.Bytes(uint64(size)), a.db.Path)
	if ferr == nil {
		fmt.Fprintf(stdout, "Free space:    %s\n", humanize.Bytes(free))
	}
	fmt.Fprintf(stdout, "Network:       civitai.%s\n", a.db.Network(a.cfg.Network.Domain))
	return nil
}

func handleDB(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("db subcommand required: check | repair | vacuum | backup PATH")
	}
	sub := args[0]
	fs := flag.NewFlagSet("db "+sub, flag.ContinueOnError)
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
	case "check":
		ierr := a.db.CheckIntegrity()
		o, err := a.db.CheckOrphans()
		if err != nil {
			return err
		}
		if *cf.jsonOut {
			out := map[string]any{"ok": ierr == nil, "orphan_models": o.Models, "orphan_versions": o.Versions}
			if ierr != nil {
				out["error"] = ierr.Error()
			}
			if err := printJSON(out); err != nil {
				return err
			}
			return ierr
		}
		if ierr != nil {
			return ierr
		}
		fmt.Fprintln(stdout, "✓ integrity ok")
		if o.Total() == 0 {
			fmt.Fprintln(stdout, "✓ no orphaned rows")
			return nil
		}
		fmt.Fprintf(stdout, "⚠ %d orphaned models, %d orphaned versions\n  → run 'modshelf db repair'\n", o.Models, o.Versions)
		return nil
	case "repair":
		n, err := a.db.RepairOrphans()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "removed %d orphaned rows\n", n)
		return nil
	case "vacuum":
		before, _ := a.db.Size()
		if err := a.db.Vacuum(); err != nil {
			return err
		}
		after, _ := a.db.Size()
		a.log.Infof("db: vacuumed %s -> %s", humanize.Bytes(uint64(before)), humanize.Bytes(uint64(after)))
		return nil
	case "backup":
		if fs.NArg() != 1 {
			return errors.New("usage: modshelf db backup PATH")
		}
		if err := a.db.Backup(fs.Arg(0)); err != nil {
			return err
		}
		a.log.Infof("db: backed up to %s", fs.Arg(0))
		return nil
	default:
		return fmt.Errorf("unknown db subcommand: %s", sub)
	}
}
