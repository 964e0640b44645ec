package main

import (
	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve emulator tools over the Model Context Protocol",
		Long: `Serve emulator tools over the Model Context Protocol on stdio.

Agents connected to the server can list built emulators, inspect their
domains and certified accuracy, and evaluate them (values and
gradients) without shelling out to the CLI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(&mcp.Config{
				Name:     "emuforge",
				Version:  version,
				StoreDir: resolvePath(dir, cfg.Hub.Dir),
				HubURL:   cfg.Hub.URL,
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
