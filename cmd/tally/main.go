package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/tally/internal/ingest"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/tally/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Tally - Analytics Engine\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TALLY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("processor", ingest.ProcessorModeParse)
	v.SetDefault("process-interval", defaultProcessInterval)
	v.SetDefault("batch-size", defaultBatchSize)
	v.SetDefault("aggregate-interval", defaultAggregateInterval)
	v.SetDefault("retention-max-age", defaultRetentionMaxAge)
	v.SetDefault("retention-interval", defaultRetentionInterval)
	v.SetDefault("registry-path", "")
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("log-file", "")
	v.SetDefault("schedule-enabled", true)
	v.SetDefault("report-history-size", defaultReportHistorySize)
	v.SetDefault("report-history-ttl", defaultReportHistoryTTL)
	v.SetDefault("archive-enabled", false)
	v.SetDefault("archive-interval", defaultArchiveInterval)
	v.SetDefault("archive-dir", filepath.Join(home, ".local", "share", "tally", "archive"))
	v.SetDefault("archive-db-path", filepath.Join(home, ".local", "share", "tally", "archive.duckdb"))
	v.SetDefault("archive-keep-last", defaultArchiveKeepLast)
	v.SetDefault("archive-window", model.DefaultExportWindow)
	v.SetDefault("archive-s3-use-path-style", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "tally", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}

	cfg.RegistryPath = expandHome(home, cfg.RegistryPath)
	cfg.SocketPath = expandHome(home, cfg.SocketPath)
	cfg.LogFile = expandHome(home, cfg.LogFile)
	cfg.ArchiveDir = expandHome(home, cfg.ArchiveDir)
	cfg.ArchiveDBPath = expandHome(home, cfg.ArchiveDBPath)

	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func validateConfig(cfg appConfig) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.ProcessInterval <= 0 {
		return fmt.Errorf("invalid process-interval: %s", cfg.ProcessInterval)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("invalid batch-size: %d", cfg.BatchSize)
	}
	if cfg.AggregateInterval <= 0 {
		return fmt.Errorf("invalid aggregate-interval: %s", cfg.AggregateInterval)
	}
	if cfg.RetentionMaxAge < 0 {
		return fmt.Errorf("invalid retention-max-age: %s", cfg.RetentionMaxAge)
	}
	if _, err := model.ResolveWindow(cfg.ArchiveWindow); err != nil {
		return fmt.Errorf("invalid archive-window: %w", err)
	}
	if cfg.ArchiveEnabled {
		if cfg.ArchiveInterval <= 0 {
			return fmt.Errorf("invalid archive-interval: %s", cfg.ArchiveInterval)
		}
		if cfg.ArchiveKeepLast <= 0 {
			return fmt.Errorf("invalid archive-keep-last: %d", cfg.ArchiveKeepLast)
		}
		if strings.TrimSpace(cfg.ArchiveDir) == "" {
			return errors.New("archive-dir is required when archive-enabled is true")
		}
		if cfg.ArchiveBucketURL != "" && !strings.HasPrefix(cfg.ArchiveBucketURL, "s3://") {
			return fmt.Errorf("invalid archive-bucket-url %q: expected s3://bucket[/prefix]", cfg.ArchiveBucketURL)
		}
		if (cfg.ArchiveS3AccessKey == "") != (cfg.ArchiveS3SecretKey == "") {
			return errors.New("archive-s3-access-key and archive-s3-secret-key must be set together")
		}
	}
	return nil
}

// expandHome expands a leading ~/ in path.
func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
