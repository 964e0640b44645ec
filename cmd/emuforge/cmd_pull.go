package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <name>",
		Short: "Pull an emulator from the hub into the local store",
		Long: `Pull an emulator from the configured hub into the local store.

After a pull the emulator resolves locally, so eval and inspect work
without the hub being reachable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			name := args[0]

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loader, err := newLoader(cfg, dir, newLogger(cfg))
			if err != nil {
				return err
			}
			defer loader.Store.Close()

			em, err := loader.Pull(cmd.Context(), name)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status":        "pulled",
					"name":          name,
					"digest":        em.Digest,
					"max_rel_error": em.MaxRelError(),
					"store":         loader.Store.Dir(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s (%s) into %s\n", name, em.Digest.Short(), loader.Store.Dir())
			return nil
		},
	}
}
