package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the solver result cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache backend and entry count",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openCache(cfg, dir)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to count cache entries: %w", err)
			}

			backend := cfg.Cache.Backend
			if backend == "" {
				backend = "sqlite"
			}
			var location string
			switch backend {
			case "sqlite":
				location = resolvePath(dir, cfg.Cache.Path)
			case "redis":
				location = cfg.Cache.RedisAddr
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"backend":  backend,
					"entries":  count,
					"location": location,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", backend)
			if location != "" {
				fmt.Fprintf(out, "Location: %s\n", location)
			}
			fmt.Fprintf(out, "Entries: %d\n", count)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the local solver result cache",
		Long: `Delete the local solver result cache.

Cleared results are recomputed by the next build. Only the sqlite
backend can be cleared here; a shared redis cache is left to its own
expiry policy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			force, _ := cmd.Flags().GetBool("force")

			// JSON mode implies force (no interactive prompts)
			if jsonOut {
				force = true
			}

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			backend := cfg.Cache.Backend
			if backend == "" {
				backend = "sqlite"
			}
			if backend != "sqlite" {
				return fmt.Errorf("cache clear only supports the sqlite backend, not %s", backend)
			}

			path := resolvePath(dir, cfg.Cache.Path)
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				if jsonOut {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
						"status": "cleared", "entries": 0, "path": path,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cache is already empty.")
				return nil
			}

			if !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Delete cache at %s?\n", path)
				fmt.Fprint(cmd.OutOrStdout(), "\nConfirm? [y/N]: ")
				reader := bufio.NewReader(cmd.InOrStdin())
				response, _ := reader.ReadString('\n')
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			var count int64
			if store, openErr := cache.NewSQLiteStore(path); openErr == nil {
				count, _ = store.Count(cmd.Context())
				store.Close()
			}

			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove %s: %w", p, err)
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "cleared", "entries": count, "path": path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached results from %s\n", count, path)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Skip confirmation prompt")

	return cmd
}
