package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-reader/internal/config"
	"github.com/zombor/invoice-reader/internal/invoice"
	"github.com/zombor/invoice-reader/internal/logging"
	"github.com/zombor/invoice-reader/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, fs, err := config.Load(os.Args[1:])
	if err != nil {
		if fs != nil {
			fmt.Fprintf(os.Stderr, "%s\n", config.Help(fs))
		}
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	slog.Info("Initializing text source...", "source", cfg.Source.Kind)
	source, err := scanning.NewTextSource(ctx, cfg.Source)
	if err != nil {
		slog.Error("Failed to initialize text source", "source", cfg.Source.Kind, "error", err)
		os.Exit(1)
	}
	defer source.Close()

	slog.Info("Initializing extractor...", "extractor", cfg.Extractor.Kind)
	extractor, err := scanning.NewExtractor(ctx, cfg.Extractor)
	if err != nil {
		slog.Error("Failed to initialize extractor", "extractor", cfg.Extractor.Kind, "error", err)
		source.Close()
		os.Exit(1)
	}
	defer extractor.Close()

	service := invoice.NewService(source, extractor)
	server := invoice.NewServer(service, invoice.ServerConfig{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		RateLimit:      cfg.RateLimit,
		AcceptExtended: cfg.AcceptExtended,
		Version:        version,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", cfg.Port)
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(addr)
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"max_upload_mb", cfg.MaxUploadMB,
		"rate_limit", cfg.RateLimit,
		"accept_extended", cfg.AcceptExtended,
	)

	// Wait for interrupt signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errChan:
		if err != nil {
			slog.Error("Server error", "error", err)
			extractor.Close()
			source.Close()
			os.Exit(1)
		}
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
