package main

import (
	"github.com/spf13/cobra"

	"github.com/xhad/medbot/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat page and the /get endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := newLogger(true)

	chain, index, err := newChain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer index.Close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	// one request runs embed, search and generate back to back
	requestBudget := cfg.Timeouts.Embed + cfg.Timeouts.Search + cfg.Timeouts.Generate

	srv, err := server.New(chain, server.Config{
		Addr:            addr,
		WriteTimeout:    requestBudget + cfg.Timeouts.Shutdown,
		ShutdownTimeout: cfg.Timeouts.Shutdown,
	}, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
