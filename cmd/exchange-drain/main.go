// Command exchange-drain reads every page from a set of remote output
// buffers through the exchange client, optionally writing them to a local
// page stream file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/config"
	"github.com/Sternrassler/page-exchange/pkg/drain"
	"github.com/Sternrassler/page-exchange/pkg/exchange"
	"github.com/Sternrassler/page-exchange/pkg/logging"
	"github.com/Sternrassler/page-exchange/pkg/metrics"
	"github.com/Sternrassler/page-exchange/pkg/page"
	"github.com/Sternrassler/page-exchange/pkg/statusstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagBindings maps command-line flags to config keys.
var flagBindings = map[string]string{
	"max-buffered":        "exchange.max_buffered_bytes",
	"max-response":        "exchange.max_response_bytes",
	"max-concurrent":      "exchange.max_concurrent_requests",
	"request-timeout":     "exchange.request_timeout",
	"max-attempts":        "exchange.retry.max_attempts",
	"requests-per-second": "transport.requests_per_second",
	"log-level":           "log.level",
	"log-pretty":          "log.pretty",
	"metrics-addr":        "metrics.addr",
	"redis-addr":          "redis.addr",
	"status-namespace":    "status.namespace",
}

type options struct {
	configPath string
	output     string
}

func newRootCmd() *cobra.Command {
	var opts options
	loader := config.NewLoader(config.DefaultEnvPrefix)

	cmd := &cobra.Command{
		Use:   "exchange-drain [flags] LOCATION...",
		Short: "Drain pages from remote output buffers",
		Long: "Pulls every page from the given remote output buffers with bounded memory\n" +
			"and concurrency, retrying transient failures, until all buffers are complete.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logging.Setup(cfg.ToLogging())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, args, opts.output, cmd.OutOrStdout())
		},
	}

	defaults := exchange.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVarP(&opts.output, "output", "o", "", "write received pages to this file")
	flags.String("max-buffered", "32MiB", "memory cap for buffered pages")
	flags.String("max-response", "1MiB", "size hint for a single fetch")
	flags.Int("max-concurrent", defaults.MaxConcurrentRequests, "maximum fetches in flight")
	flags.Duration("request-timeout", defaults.RequestTimeout, "timeout of a single fetch")
	flags.Int("max-attempts", defaults.Retry.MaxAttempts, "attempts per location before failing")
	flags.Float64("requests-per-second", 0, "limit on outbound requests (0 = unlimited)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable logs")
	flags.String("metrics-addr", "", "serve /metrics, /health and /status on this address")
	flags.String("redis-addr", "", "publish status snapshots to this Redis")
	flags.String("status-namespace", "default", "namespace of published status snapshots")

	for name, key := range flagBindings {
		if err := loader.BindFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

// run drains locations and prints the drain summary to out.
func run(ctx context.Context, cfg *config.Config, locations []string, output string, out io.Writer) error {
	transport, err := buffer.New(cfg.ToBuffer())
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	exCfg, err := cfg.ToExchange()
	if err != nil {
		return err
	}
	client, err := exchange.New(transport, exCfg)
	if err != nil {
		return fmt.Errorf("create exchange client: %w", err)
	}
	defer client.Close()

	for _, loc := range locations {
		if err := client.AddLocation(loc); err != nil {
			return fmt.Errorf("add location %s: %w", loc, err)
		}
	}
	client.NoMoreLocations()

	handler, closeOutput, err := pageWriter(output)
	if err != nil {
		return err
	}

	var store *statusstore.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = statusstore.NewStore(rdb, cfg.Status.Namespace, cfg.Status.TTL)
	}

	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Metrics.Addr, err)
		}
		srv := &http.Server{Handler: newMux(client, store), ReadHeaderTimeout: 5 * time.Second}
		log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-auxCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if store != nil {
		publisher := statusstore.NewPublisher(client, store, cfg.Status.PublishInterval)
		g.Go(func() error {
			return publisher.Run(auxCtx)
		})
	}

	var stats drain.Stats
	g.Go(func() error {
		defer stopAux()
		s, err := drain.Drain(gctx, client, drain.Config{
			PollInterval:  cfg.Drain.PollInterval,
			ProgressEvery: cfg.Drain.ProgressEvery,
		}, handler)
		stats = s
		if cerr := closeOutput(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	})

	err = g.Wait()
	fmt.Fprintf(out, "drained %s from %d locations\n", stats, len(locations))
	return err
}

// pageWriter returns the drain handler for output. An empty output
// discards pages.
func pageWriter(output string) (drain.Handler, func() error, error) {
	if output == "" {
		return nil, func() error { return nil }, nil
	}

	f, err := os.Create(output)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := page.NewEncoder(w, page.EncoderOptions{Compress: true})

	closeFn := func() error {
		if err := w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("flush output: %w", err)
		}
		return f.Close()
	}
	return enc.Encode, closeFn, nil
}

// newMux serves metrics, liveness, the live exchange status and, when a
// store is configured, published snapshots.
func newMux(client *exchange.Client, store *statusstore.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(client.Status()); err != nil {
			log.Error().Err(err).Msg("Failed to write status")
		}
	})
	if store != nil {
		mux.Handle("/exchanges", statusstore.Handler(store))
		mux.Handle("/exchanges/", statusstore.Handler(store))
	}
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
