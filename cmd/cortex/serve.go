package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexshell/cortex/pkg/proxy"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an OpenAI-compatible completions endpoint backed by the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if listen != "" {
				a.cfg.Listen = listen
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("starting cortex proxy", "config", root.configPath, "cache_dir", a.store.Dir(), "cache_size", a.store.Capacity())
			if err := proxy.New(a.cfg, client, a.logger).ListenAndServe(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}
