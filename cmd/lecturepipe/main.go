package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lectervox/lecturepipe/internal/asr"
	"github.com/lectervox/lecturepipe/internal/clock"
	"github.com/lectervox/lecturepipe/internal/config"
	"github.com/lectervox/lecturepipe/internal/llm"
	"github.com/lectervox/lecturepipe/internal/orchestrator"
	"github.com/lectervox/lecturepipe/internal/persistence"
	"github.com/lectervox/lecturepipe/internal/pipeline"
	"github.com/lectervox/lecturepipe/internal/presentation"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  lecturepipe run [config]     Start the lecture-interpretation pipeline")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cfgPath := "config.yaml"
		if len(os.Args) > 2 {
			cfgPath = os.Args[2]
		}
		if err := run(cfgPath); err != nil {
			slog.Error("run failed", "err", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	hotCfg, err := config.NewHotConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := hotCfg.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	if cfg.Llm.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	llmAdapter, err := llm.NewGeminiAdapter(ctx, cfg.Llm.APIKey, cfg.Llm.Model,
		llm.WithFallbackModel(cfg.Llm.FallbackModel),
		llm.WithQualityModel(cfg.Llm.QualityModel),
		llm.WithReportModel(cfg.Llm.ReportModel),
	)
	if err != nil {
		return fmt.Errorf("init llm adapter: %w", err)
	}

	var store *persistence.Store
	if cfg.Persistence.SQLitePath != "" {
		store, err = persistence.NewStore(cfg.Persistence.SQLitePath)
		if err != nil {
			return fmt.Errorf("init persistence store: %w", err)
		}
		defer store.Close()
	}

	newAsr := func(sessCtx context.Context, ids *clock.IDGen) (asr.Adapter, error) {
		current := hotCfg.Get().Asr
		opts := []asr.Option{
			asr.WithEndpointingMs(current.EndpointingMs),
			asr.WithUtteranceEndMs(time.Duration(current.UtteranceEndMs) * time.Millisecond),
		}
		if len(current.AltLangs) > 0 {
			opts = append(opts, asr.WithAlternateLanguages(current.AltLangs...))
		}
		return asr.NewGoogleASRAdapter(sessCtx, ids, opts...)
	}

	orch := orchestrator.New(cfg, llmAdapter, newAsr, store)

	hotCfg.OnReload(func(newCfg *config.Config) {
		slog.Info("operational config reloaded", "path", cfgPath)
	})
	hotCfg.Watch()

	mux := http.NewServeMux()
	mux.Handle("/ws", presentation.NewHandler(orch))
	mux.Handle("/metrics", promhttp.Handler())

	port := cfg.Presentation.Port
	if port == 0 {
		port = 8899
	}
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("lecturepipe listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown did not complete cleanly", "err", err)
	}
	if orch.State() != pipeline.StateIdle {
		if err := orch.StopListening(); err != nil {
			slog.Warn("stop active session during shutdown", "err", err)
		}
	}

	return nil
}
