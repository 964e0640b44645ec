package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/hub"
)

func newHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the emulator hub",
	}
	cmd.AddCommand(newHubServeCmd())
	return cmd
}

func newHubServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local store over HTTP",
		Long: `Serve the local emulator store over HTTP.

Other workspaces point hub.url (or EMUFORGE_HUB_URL) at this address to
list, pull and push emulators. Artifact files are immutable and
content-addressed; pushing a name again repoints it at new bytes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			listen, _ := cmd.Flags().GetString("listen")

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			store, err := openHubStore(cfg, dir)
			if err != nil {
				return err
			}
			defer store.Close()

			if listen == "" {
				listen = cfg.Hub.Listen
			}
			srv := &http.Server{
				Addr:    listen,
				Handler: hub.NewServer(store, logger),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.Info("hub listening", "addr", listen, "store", store.Dir())
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return fmt.Errorf("hub server: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("listen", "", "Bind address (default from config)")

	return cmd
}
