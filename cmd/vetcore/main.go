// Command vetcore runs the versioned medical record service over HTTP.
// Storage and attachment backends are selected through VETCORE_* environment
// variables; see internal/core/storage.go and internal/blob/factory.go.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vetcore/internal/adapters/records"
	"vetcore/internal/blob"
	"vetcore/internal/core"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(*addr, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(addr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		return err
	}

	attachments, err := blob.Open(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service := core.NewService(store,
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(registry)),
		core.WithAttachmentStore(attachments),
	)

	handler := records.NewHandler(service)
	handler.Audit = records.NewMemoryAuditLog()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/records", handler)
	mux.Handle("/api/v1/records/", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
