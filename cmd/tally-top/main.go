package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/logging"
	"github.com/tinytelemetry/tally/internal/socketrpc"
	"github.com/tinytelemetry/tally/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath, socketPath, dashboard, userID string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/tally/config.yml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path to connect to the tally service")
	flag.StringVar(&dashboard, "dashboard", "", "dashboard to open first")
	flag.StringVar(&userID, "user", "", "user id for user-specific dashboards")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Tally Top - Dashboard Viewer\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if dashboard != "" {
		cfg.Dashboard = dashboard
	}
	if userID != "" {
		cfg.UserID = userID
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig) error {
	// The alt screen owns the terminal, so logs go to the state file.
	cleanup, err := logging.Configure("tally-top", logging.Config{Level: logrus.WarnLevel.String()})
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to tally service at %s: %w\nIs the tally service running? Start it with: tally", cfg.SocketPath, err)
	}
	defer client.Close()

	page := tui.NewDashboardPage(client, tui.Config{
		UserID:          cfg.UserID,
		Dashboard:       cfg.Dashboard,
		RefreshInterval: cfg.RefreshInterval,
	})
	p := tea.NewProgram(tui.NewApp(page), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("dashboard viewer requires a real terminal")
		}
		return fmt.Errorf("error running viewer: %w", err)
	}
	return nil
}
