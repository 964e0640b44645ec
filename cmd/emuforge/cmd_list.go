package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/hub"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built emulators",
		Long: `List emulators in the local store, or on the remote hub with --remote.

Each entry shows the name, the content digest of the artifact the name
currently points to, and the certified accuracy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			remote, _ := cmd.Flags().GetBool("remote")

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var entries []hub.Entry
			var source string
			if remote {
				client := newHubClient(cfg)
				if client == nil {
					return fmt.Errorf("no hub configured (set hub.url or EMUFORGE_HUB_URL)")
				}
				entries, err = client.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list hub: %w", err)
				}
				source = cfg.Hub.URL
			} else {
				store, storeErr := openHubStore(cfg, dir)
				if storeErr != nil {
					return storeErr
				}
				defer store.Close()
				entries, err = store.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list local store: %w", err)
				}
				source = store.Dir()
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"emulators": entries,
					"count":     len(entries),
					"source":    source,
				})
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No emulators built yet.")
				fmt.Fprintln(out, "\nUse 'emuforge build <spec.yaml>' to build one.")
				return nil
			}

			fmt.Fprintf(out, "Emulators in %s (%d):\n\n", source, len(entries))
			for i, e := range entries {
				fmt.Fprintf(out, "%d. %s\n", i+1, e.Name)
				fmt.Fprintf(out, "   Digest: %s\n", e.Digest.Short())
				fmt.Fprintf(out, "   Max rel error: %.3g\n", e.MaxRelError)
				fmt.Fprintf(out, "   Built: %s\n", e.CreatedAt.Format(time.RFC3339))
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().Bool("remote", false, "List the remote hub instead of the local store")

	return cmd
}
