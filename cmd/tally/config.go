package main

import (
	"time"

	"github.com/tinytelemetry/tally/internal/eventsource"
	"github.com/tinytelemetry/tally/internal/model"
)

const (
	defaultBindHost          = "127.0.0.1"
	defaultTCPPort           = 4000
	defaultAPIPort           = 3000
	defaultMuxBufferSize     = eventsource.DefaultMergeBuffer
	defaultProcessInterval   = model.DefaultProcessInterval
	defaultBatchSize         = model.DefaultBatchSize
	defaultAggregateInterval = model.DefaultAggregateInterval
	defaultRetentionMaxAge   = model.DefaultRetentionMaxAge
	defaultRetentionInterval = model.DefaultRetentionInterval
	defaultReportHistorySize = 64
	defaultReportHistoryTTL  = 7 * 24 * time.Hour
	defaultArchiveInterval   = 6 * time.Hour
	defaultArchiveKeepLast   = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host      string `mapstructure:"host"`
	Processor string `mapstructure:"processor"`

	ProcessInterval   time.Duration `mapstructure:"process-interval"`
	BatchSize         int           `mapstructure:"batch-size"`
	AggregateInterval time.Duration `mapstructure:"aggregate-interval"`
	// RetentionMaxAge of 0 disables the periodic sweep.
	RetentionMaxAge   time.Duration `mapstructure:"retention-max-age"`
	RetentionInterval time.Duration `mapstructure:"retention-interval"`
	RegistryPath      string        `mapstructure:"registry-path"`

	APIEnabled    bool   `mapstructure:"api-enabled"`
	APIPort       int    `mapstructure:"api-port"`
	APIAddr       string `mapstructure:"api-addr"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`
	SocketPath    string `mapstructure:"socket-path"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`

	ScheduleEnabled   bool          `mapstructure:"schedule-enabled"`
	ReportHistorySize int           `mapstructure:"report-history-size"`
	ReportHistoryTTL  time.Duration `mapstructure:"report-history-ttl"`

	ArchiveEnabled        bool          `mapstructure:"archive-enabled"`
	ArchiveInterval       time.Duration `mapstructure:"archive-interval"`
	ArchiveDir            string        `mapstructure:"archive-dir"`
	ArchiveDBPath         string        `mapstructure:"archive-db-path"`
	ArchiveKeepLast       int           `mapstructure:"archive-keep-last"`
	ArchiveWindow         string        `mapstructure:"archive-window"`
	ArchiveBucketURL      string        `mapstructure:"archive-bucket-url"`
	ArchiveS3Endpoint     string        `mapstructure:"archive-s3-endpoint"`
	ArchiveS3Region       string        `mapstructure:"archive-s3-region"`
	ArchiveS3AccessKey    string        `mapstructure:"archive-s3-access-key"`
	ArchiveS3SecretKey    string        `mapstructure:"archive-s3-secret-key"`
	ArchiveS3UsePathStyle bool          `mapstructure:"archive-s3-use-path-style"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

// engineRetention maps the configured max age onto the engine, where a
// negative value disables the sweeper and zero means the default.
func (c appConfig) engineRetention() time.Duration {
	if c.RetentionMaxAge <= 0 {
		return -1
	}
	return c.RetentionMaxAge
}
