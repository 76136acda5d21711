package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/tally/internal/eventsource"
	"github.com/tinytelemetry/tally/internal/tcpserver"
)

// InputSourcePlugin is a small plugin primitive for wiring line inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (eventsource.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	return []InputSourcePlugin{
		tcpInputPlugin{addr: cfg.TCPAddr, enabled: cfg.TCPEnabled},
		stdinInputPlugin{},
	}
}

// buildSources builds every enabled plugin. A plugin that fails to build is
// logged and skipped.
func buildSources(ctx context.Context, plugins []InputSourcePlugin) []eventsource.Source {
	sources := make([]eventsource.Source, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.WithError(err).WithField("plugin", plugin.Name()).Error("input plugin failed")
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (eventsource.Source, error) {
	server := tcpserver.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return eventsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled reports whether stdin is piped rather than a terminal.
func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (eventsource.Source, error) {
	return eventsource.NewStdinSource(ctx), nil
}
