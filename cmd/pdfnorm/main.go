// Command pdfnorm normalizes PDFs into searchable documents, either
// one-shot over a single input or as an HTTP service.
//
// One-shot:
//
//	pdfnorm -input /data/in/doc.pdf
//	pdfnorm -input https://example.org/paper
//
// Service:
//
//	pdfnorm -serve
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/pdfnorm/pipeline"
	"github.com/hazyhaar/pdfnorm/service"
)

func main() {
	var (
		configPath = flag.String("config", env("PDFNORM_CONFIG", ""), "YAML configuration file")
		input      = flag.String("input", "", "PDF path or URL to process (one-shot mode)")
		serve      = flag.Bool("serve", false, "run the HTTP service")
	)
	flag.Parse()

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipe, err := pipeline.New(pipeline.Config{
		TempDir:       cfg.TempDir,
		OutputDir:     cfg.OutputDir,
		JournalPath:   cfg.JournalPath,
		ChromeURL:     cfg.ChromeURL,
		MaxConcurrent: cfg.Concurrency,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("pipeline", "error", err)
		os.Exit(1)
	}
	defer pipe.Close()

	if *serve {
		runServe(ctx, pipe, logger)
		return
	}

	if *input == "" {
		slog.Error("nothing to do: pass -input or -serve")
		os.Exit(2)
	}
	runOneShot(ctx, pipe, cfg, *input)
}

func runOneShot(ctx context.Context, pipe *pipeline.Pipeline, cfg *FileConfig, input string) {
	opts, err := cfg.options()
	if err != nil {
		slog.Error("options", "error", err)
		os.Exit(1)
	}

	in := pipeline.Input{Path: input}
	if u, err := url.Parse(input); err == nil && strings.HasPrefix(u.Scheme, "http") {
		in = pipeline.Input{URL: input}
	}

	res, err := pipe.Process(ctx, in, opts)
	if err != nil {
		slog.Error("process failed", "input", input, "error", err)
		if res != nil {
			json.NewEncoder(os.Stdout).Encode(res)
		}
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res)
}

func runServe(ctx context.Context, pipe *pipeline.Pipeline, logger *slog.Logger) {
	port := env("PORT", "8086")
	svc := service.New(pipe, logger)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Document processing is slow by nature.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
