package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the decode HTTP API",
	Long: `Serve the decode HTTP API until interrupted.

Endpoints:
  GET  /healthz      - 200 when Redis (if configured) is reachable
  GET  /keys/{uid}   - derived sector keys for a UID
  POST /decode       - full scan of a raw 1024-byte dump body (?uid= overrides)
  GET  /tags/{uid}   - latest published result for a tag (needs Redis)

Examples:
  spoolscan serve
  spoolscan serve --addr=127.0.0.1:9000
  curl --data-binary @spool.bin localhost:8080/decode`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scanCfg, err := cfg.ScannerConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), slog.LevelInfo)

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.Publish.RedisURL != "" {
		pub, err := publish.NewPublisherFromURL(cfg.Publish.RedisURL, cfg.Publish.Instance,
			publish.WithTTL(cfg.Publish.TTL), publish.WithLogger(logger))
		if err != nil {
			return printer.Error(
				"invalid publish configuration",
				err.Error(),
				[]string{"Check publish.redis_url in spoolscan.yml"},
			)
		}
		defer pub.Close()

		pingCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		err = pub.Ping(pingCtx)
		cancel()
		if err != nil {
			return printer.ErrorWithContext(
				"redis not accessible",
				err.Error(),
				map[string]string{"Redis": cfg.Publish.RedisURL},
				[]string{"Start Redis", "Remove publish.redis_url to serve without publishing"},
			)
		}
		opts = append(opts, server.WithStore(pub))
	} else {
		printer.Warning("publishing disabled: results are not cached and /tags always returns 404\n")
	}

	srv, err := server.New(scanCfg, opts...)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(addr); err != nil {
		return printer.Error("failed to start server", err.Error(), []string{"Pick a free address with --addr"})
	}
	printer.Success("serving on %s\n", srv.Addr())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
