package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/KixPanganiban/jiraiya-go/internal/logging"
	"github.com/KixPanganiban/jiraiya-go/internal/server"
	"github.com/KixPanganiban/jiraiya-go/internal/tracing"
)

// NewServeCmd constructs the `jiraiya serve` command, which exposes the ask
// pipeline over HTTP for other tools (Slack bots, dashboards) to call.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Jiraiya HTTP API server",
		Long: `Start an HTTP server that answers questions over a small REST API.

Endpoints:
  POST /api/ask      {"question": "...", "topK": 5} — answer with sources
  GET  /api/health   liveness probe
  GET  /api/ready    readiness probe (checks the vector store)
  GET  /metrics      Prometheus metrics

Set JIRAIYA_API_KEY to require a Bearer token on /api/ask.

Examples:
  jiraiya serve
  jiraiya serve --port 9090
  JIRAIYA_API_KEY=s3cret jiraiya serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in; a no-op when keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			p, cleanup, err := newAskPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cleanup()

			srv, err := server.New(p, &server.Config{
				Host:    resolveHost(host),
				Port:    resolvePort(port),
				TopK:    getEnvInt("JIRAIYA_TOP_K", 5),
				Logger:  log,
				Pingers: buildPingers(),
				APIKey:  os.Getenv("JIRAIYA_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: JIRAIYA_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: JIRAIYA_PORT or 8080)")

	return cmd
}

// resolveHost prefers the flag, then JIRAIYA_HOST, then the server default.
func resolveHost(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("JIRAIYA_HOST")
}

// resolvePort prefers the flag, then JIRAIYA_PORT, then the server default.
func resolvePort(flagValue int) int {
	if flagValue != 0 {
		return flagValue
	}
	return getEnvInt("JIRAIYA_PORT", 0)
}

// buildPingers assembles the readiness probes for GET /api/ready. The vector
// store is probed by opening it and counting documents; a missing index (no
// 'jiraiya init' yet) reports unready rather than crashing.
func buildPingers() []server.Pinger {
	storeName := "index"
	if useQdrant() {
		storeName = "qdrant"
	}
	return []server.Pinger{
		server.PingerFunc{
			PingerName: storeName,
			Fn: func(ctx context.Context) error {
				searcher, cleanup, err := newSearcher(ctx)
				if err != nil {
					return err
				}
				defer cleanup()

				counter, ok := searcher.(interface {
					Count(ctx context.Context) (int, error)
				})
				if !ok {
					return nil
				}
				n, err := counter.Count(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("vector store is empty: run 'jiraiya init'")
				}
				return nil
			},
		},
	}
}
