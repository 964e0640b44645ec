package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/emulator"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <name> [dest]",
		Short: "Export an emulator artifact to a file",
		Long: `Export an emulator artifact out of the store.

The name is resolved against the local store and, when one is
configured, the hub. The destination is a directory (the artifact
lands under its content-addressed name) or an explicit ` + artifact.Ext + `
path. It defaults to the current directory.

Examples:
  emuforge export pk_emulator
  emuforge export pk_emulator /srv/shared/emulators
  emuforge export pk_emulator pk` + artifact.Ext,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			name := args[0]
			dest := "."
			if len(args) == 2 {
				dest = args[1]
			}

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openHubStore(cfg, dir)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			a, err := store.GetByName(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to read local store: %w", err)
			}
			if a == nil {
				if client := newHubClient(cfg); client != nil {
					a, err = client.Get(ctx, name)
					if err != nil {
						return fmt.Errorf("failed to fetch from hub: %w", err)
					}
				}
			}
			if a == nil {
				return &emulator.NotFoundError{Name: name}
			}

			var path string
			if strings.HasSuffix(dest, artifact.Ext) {
				if err := os.WriteFile(dest, a.Bytes(), 0644); err != nil {
					return fmt.Errorf("failed to write artifact: %w", err)
				}
				path = dest
			} else {
				path, err = a.WriteFile(dest)
				if err != nil {
					return err
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "exported",
					"name":   name,
					"digest": a.Digest,
					"path":   path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%s) to %s\n", name, a.Digest.Short(), path)
			return nil
		},
	}
}
