// Command pow-node is the control-plane process: it serves the
// /api/v1 HTTP surface (spec.md §6) backed by a Manager, and owns no
// GPU context itself -- all compute happens in the pow-worker children
// a ParallelController spawns.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/health"
	"github.com/gonka-ai/gonka/internal/httpapi"
	gonkalog "github.com/gonka-ai/gonka/internal/log"
	"github.com/gonka-ai/gonka/internal/manager"
)

var rootCmd = &cobra.Command{
	Use:   "pow-node",
	Short: "Run the proof-of-work control plane",
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /api/v1 HTTP surface for this node",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().Int("node-id", 0, "this node's index among peer nodes")
	cmd.Flags().Int("n-nodes", 1, "total peer nodes sharing the nonce space")
	cmd.Flags().Int("n-devices", 1, "number of GPU devices on this node")
	cmd.Flags().String("log-level", "info", "log level")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	listen, _ := flags.GetString("listen")
	nodeID, _ := flags.GetInt("node-id")
	nNodes, _ := flags.GetInt("n-nodes")
	nDevices, _ := flags.GetInt("n-devices")
	logLevel, _ := flags.GetString("log-level")

	logger := gonkalog.New("pow-node", logLevel)

	if _, err := config.LoadParams(config.ParamsPathFromEnv()); err != nil {
		logger.Warn("no default params loaded at startup, every session must supply its own", "path", config.ParamsPathFromEnv(), "err", err)
	}

	registry := prometheus.NewRegistry()
	m, err := manager.New(nodeID, nNodes, nDevices, registry, logger)
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	checker := health.NewChecker()
	checker.Register("manager", m)

	api := httpapi.New(m, checker, logger)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		m.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func main() {
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
