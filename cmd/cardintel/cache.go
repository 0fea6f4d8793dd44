package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/config"
)

func runCache(args []string) error {
	var (
		flush      bool
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--flush":
			flush = true
		case args[i] == "--store" && i+1 < len(args):
			i++
			storeFlag = args[i]
		case strings.HasPrefix(args[i], "--store="):
			storeFlag = strings.TrimPrefix(args[i], "--store=")
		case args[i] == "--config" && i+1 < len(args):
			i++
			configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		CLIStore:   storeFlag,
	})
	if err != nil {
		return err
	}

	path := cacheFilePath(cfg.StorePath.Value)
	if path == "" {
		return fmt.Errorf("no cache file for store %s", cfg.StorePath.Value)
	}

	if flush {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing cache: %w", err)
		}
		color.Green("✓ Cache cleared")
		return nil
	}

	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Printf("Cache: empty (%s)\n", path)
		return nil
	}
	if err != nil {
		return err
	}

	mem := cache.NewMemory(cache.NormalizeTTL)
	if err := mem.LoadFile(path); err != nil {
		return fmt.Errorf("reading cache %s: %w", path, err)
	}

	fmt.Printf("Cache:    %s\n", path)
	fmt.Printf("Entries:  %d\n", mem.Len())
	fmt.Printf("Size:     %s\n", formatBytes(fi.Size()))
	fmt.Printf("TTLs:     normalize %s, extraction %s\n", cache.NormalizeTTL, cache.ExtractionTTL)
	return nil
}
