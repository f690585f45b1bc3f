package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gridsync/internal/app"
	"gridsync/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr      string
	Storage   string
	DataDir   string
	ClientDir string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the room server",
		Long: `Start the gridsync room server.

Rooms are created on first use. Every post is appended to the room's
durable log before it is broadcast, so indices never have gaps.

Example:
  gridsync serve --addr :8080 --storage sqlite --data ./data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Storage, "storage", "", "log backend, file or sqlite (overrides config)")
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "data directory (overrides config)")
	cmd.Flags().StringVar(&opts.ClientDir, "client", "", "directory of static client files to serve")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Storage != "" {
		cfg.Storage = opts.Storage
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.ClientDir != "" {
		cfg.ClientDir = opts.ClientDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	go func() {
		select {
		case sig := <-sigc:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return app.Run(ctx, cfg, slog.Default())
}
