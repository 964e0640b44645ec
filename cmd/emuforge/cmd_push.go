package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/emulator"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <name>",
		Short: "Push an emulator to the hub",
		Long: `Push an emulator artifact to the configured hub.

By default the artifact the name points to in the local store is
pushed; --file pushes an exported ` + artifact.Ext + ` file instead. The hub
re-derives the digest from the uploaded bytes and rejects mismatches,
so a corrupted transfer can never be published.

Examples:
  emuforge push pk_emulator
  emuforge push pk_emulator --file pk` + artifact.Ext,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			file, _ := cmd.Flags().GetString("file")
			name := args[0]

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client := newHubClient(cfg)
			if client == nil {
				return fmt.Errorf("no hub configured (set hub.url or EMUFORGE_HUB_URL)")
			}

			ctx := cmd.Context()
			var a *artifact.Artifact
			if file != "" {
				a, err = artifact.Open(file)
				if err != nil {
					return err
				}
			} else {
				store, storeErr := openHubStore(cfg, dir)
				if storeErr != nil {
					return storeErr
				}
				defer store.Close()
				a, err = store.GetByName(ctx, name)
				if err != nil {
					return fmt.Errorf("failed to read local store: %w", err)
				}
				if a == nil {
					return &emulator.NotFoundError{Name: name}
				}
			}

			entry, err := client.Push(ctx, name, a)
			if err != nil {
				return fmt.Errorf("failed to push to hub: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "pushed",
					"entry":  entry,
					"hub":    cfg.Hub.URL,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s (%s) to %s\n", entry.Name, entry.Digest.Short(), cfg.Hub.URL)
			return nil
		},
	}

	cmd.Flags().String("file", "", "Push this artifact file instead of the local store entry")

	return cmd
}
