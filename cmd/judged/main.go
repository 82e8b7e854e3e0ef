package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/judgeorch/internal/cgroup"
	"github.com/swarmguard/judgeorch/internal/config"
	"github.com/swarmguard/judgeorch/internal/engine"
	"github.com/swarmguard/judgeorch/internal/logging"
	"github.com/swarmguard/judgeorch/internal/otelinit"
	"github.com/swarmguard/judgeorch/internal/submission"
)

const service = "judged"

func main() {
	logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cgroup.CheckUnifiedHierarchy(); err != nil {
		slog.Error("startup check failed", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics := otelinit.InitMetrics(ctx, service)

	reaperPresent := cfg.WorkMode == config.WorkModeContainerized || cfg.WorkMode == config.WorkModeRootlessContainerized
	eng, err := engine.New(ctx, cfg, reaperPresent)
	if err != nil {
		slog.Error("constructing engine", "error", err)
		os.Exit(1)
	}

	engCtx, engCancel := context.WithCancel(context.Background())
	go eng.Run(engCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/v1/submissions", handleSubmit(eng))

	srv := &http.Server{Addr: listenAddr(), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("judged started", "addr", srv.Addr, "runner_threads", cfg.RunnerThreads)
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	engCancel()
	if err := eng.Close(); err != nil {
		slog.Error("closing engine", "error", err)
	}
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

func listenAddr() string {
	if addr := os.Getenv("SWARM_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSubmit accepts a submission document, runs it to completion
// synchronously, and returns the assembled report. There is no
// fire-and-forget mode: the original's job queueing lives one layer up
// (the HTTP caller), not inside this process.
func handleSubmit(eng *engine.Engine) http.HandlerFunc {
	tracer := otel.Tracer(service)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
		r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		doc, err := submission.ParseDocument(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, span := tracer.Start(r.Context(), "submit")
		defer span.End()

		result, err := eng.Submit(ctx, doc, span)
		if err != nil {
			span.RecordError(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

