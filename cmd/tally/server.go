package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/archive"
	"github.com/tinytelemetry/tally/internal/engine"
	"github.com/tinytelemetry/tally/internal/eventsource"
	"github.com/tinytelemetry/tally/internal/httpserver"
	"github.com/tinytelemetry/tally/internal/ingest"
	"github.com/tinytelemetry/tally/internal/logging"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/registry"
	"github.com/tinytelemetry/tally/internal/schedule"
	"github.com/tinytelemetry/tally/internal/socketrpc"
	"github.com/tinytelemetry/tally/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "server")

// runServer starts the engine with its ingest sources and API surfaces.
func runServer(cfg appConfig) error {
	cleanupLogger, err := logging.Configure("tally", logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer cleanupLogger()

	reg := registry.Default()
	if cfg.RegistryPath != "" {
		reg, err = registry.Load(cfg.RegistryPath)
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}
	}

	tm := telemetry.NewMetrics(nil)
	eng := engine.New(engine.Config{
		Registry:          reg,
		ProcessInterval:   cfg.ProcessInterval,
		BatchSize:         cfg.BatchSize,
		AggregateInterval: cfg.AggregateInterval,
		RetentionMaxAge:   cfg.engineRetention(),
		RetentionInterval: cfg.RetentionInterval,
		Telemetry:         tm,
	})
	eng.Start()
	defer eng.Stop()

	// Start periodic export archives when enabled.
	archiveManager, err := archive.NewManager(eng, archive.Config{
		Enabled:        cfg.ArchiveEnabled,
		Interval:       cfg.ArchiveInterval,
		LocalDir:       cfg.ArchiveDir,
		KeepLast:       cfg.ArchiveKeepLast,
		DBPath:         cfg.ArchiveDBPath,
		Window:         cfg.ArchiveWindow,
		BucketURL:      cfg.ArchiveBucketURL,
		S3Endpoint:     cfg.ArchiveS3Endpoint,
		S3Region:       cfg.ArchiveS3Region,
		S3AccessKey:    cfg.ArchiveS3AccessKey,
		S3SecretKey:    cfg.ArchiveS3SecretKey,
		S3UsePathStyle: cfg.ArchiveS3UsePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize archive: %w", err)
	}
	if archiveManager != nil {
		defer archiveManager.Stop()
	}

	var scheduler *schedule.Scheduler
	if cfg.ScheduleEnabled {
		schedConf := schedule.Config{
			HistorySize: cfg.ReportHistorySize,
			HistoryTTL:  cfg.ReportHistoryTTL,
		}
		if archiveManager != nil {
			schedConf.Sink = archiveManager
		}
		scheduler, err = schedule.New(eng, reg.Reports(), schedConf)
		if err != nil {
			return fmt.Errorf("failed to initialize report schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		httpConf := httpserver.Config{Telemetry: tm}
		if scheduler != nil {
			httpConf.Reports = scheduler
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, eng, httpConf)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for tally-top
	sockServer := socketrpc.NewServer(cfg.SocketPath, eng, reg)
	if err := sockServer.Start(); err != nil {
		log.WithError(err).Warn("failed to start socket server")
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
	})
	merged := eventsource.Merge(ctx, buildSources(ctx, plugins), cfg.MuxBufferSize)

	processor, err := ingest.NewEnvelopeProcessor(cfg.Processor, eng, "")
	if err != nil {
		merged.Stop()
		return err
	}

	printStartupBanner(cfg, merged.Names(), processor.Name())

	g, gctx := errgroup.WithContext(ctx)

	// Ingestion loop
	if !merged.Empty() {
		g.Go(func() error {
			return consumeLines(merged.Envelopes(), processor)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("errgroup exited with error")
	}

	cancel()
	merged.Stop()
	log.WithField("lines", merged.Counts()).Info("ingest stopped")
	signal.Stop(sigCh)
	return nil
}

// consumeLines feeds every line to processor until lines closes.
func consumeLines(lines <-chan model.IngestEnvelope, processor ingest.EnvelopeProcessor) error {
	var failed int
	for env := range lines {
		if res := processor.ProcessEnvelope(env); res != nil && res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.WithField("failed", failed).Info("ingest finished with rejected lines")
	}
	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg appConfig, sources []string, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╦  ╦  ╦ ╦
     ║ ╠═╣║  ║  ╚╦╝
     ╩ ╩ ╩╩═╝╩═╝ ╩ `)

	status := func(label string, on bool, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
	}
	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{
		"",
		logo,
		"    " + dim.Render("v"+version),
		"",
		separator,
		"",
		bold.Render("    Gateway"),
		"",
		status("HTTP API", cfg.APIEnabled, cfg.APIAddr),
		status("TCP Ingest", cfg.TCPEnabled, cfg.TCPAddr),
		status("Unix Socket", true, shortenPath(cfg.SocketPath)),
		"",
		bold.Render("    Engine"),
		"",
		fmt.Sprintf("    %s  %-14s %s", check, "Processor", dim.Render(processorName)),
		fmt.Sprintf("    %s  %-14s %s", check, "Aggregation", dim.Render("every "+cfg.AggregateInterval.String())),
		status("Retention", cfg.RetentionMaxAge > 0, cfg.RetentionMaxAge.String()),
		status("Schedule", cfg.ScheduleEnabled, "daily/weekly/monthly reports"),
		status("Archive", cfg.ArchiveEnabled, shortenPath(cfg.ArchiveDir)),
	}
	if len(sources) > 0 {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Sources", dim.Render(strings.Join(sources, ", "))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Sources", dim.Render("none")))
	}

	lines = append(lines, "", bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}
	if cfg.RegistryPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Registry", dim.Render(shortenPath(cfg.RegistryPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Registry", dim.Render("built-in")))
	}

	lines = append(lines,
		"",
		separator,
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"),
		"",
	)

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
