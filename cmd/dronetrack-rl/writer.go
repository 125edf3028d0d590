package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/term"

	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/record"
)

const defaultGreptimePort = 4001

// writerOptions selects the telemetry sinks of a run.
type writerOptions struct {
	printOnly    bool
	color        bool
	tui          bool
	onlyEpisodes bool
	logFile      string
	mqttBroker   string
	mqttPrefix   string
	mqttClientID string
	mqttSteps    bool
}

// writers bundles the step and episode sinks with their cleanup.
type writers struct {
	steps    record.StepWriter
	episodes record.EpisodeWriter
	tui      *record.TUIWriter
	cleanup  func()
}

// newWriters sets up step and episode writers based on flags and env vars.
// Extra sinks (the display server) receive every row as well.
func newWriters(ctx context.Context, cfg *config.EnvConfig, opts writerOptions, extraSteps []record.StepWriter, extraEpisodes []record.EpisodeWriter) (*writers, error) {
	var closers []func()
	w := &writers{cleanup: func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}}

	sw, ew, tui, err := baseWriters(cfg, opts)
	if err != nil {
		return nil, err
	}
	if tui != nil {
		w.tui = tui
		closers = append(closers, func() { tui.Close() })
	}
	sws := []record.StepWriter{sw}
	ews := []record.EpisodeWriter{ew}

	if opts.logFile != "" {
		fw, err := record.NewFileWriter(opts.logFile, opts.logFile+".episodes")
		if err != nil {
			w.cleanup()
			return nil, err
		}
		closers = append(closers, func() { fw.Close() })
		sws = append(sws, fw)
		ews = append(ews, fw)
	}

	if opts.mqttBroker != "" {
		mw, client, err := record.NewMQTTWriter(ctx, opts.mqttBroker, opts.mqttClientID, opts.mqttPrefix, opts.mqttSteps)
		if err != nil {
			w.cleanup()
			return nil, err
		}
		closers = append(closers, func() { client.Disconnect(250) })
		sws = append(sws, mw)
		ews = append(ews, mw)
	}

	sws = append(sws, extraSteps...)
	ews = append(ews, extraEpisodes...)
	if len(sws) == 1 && len(ews) == 1 {
		w.steps, w.episodes = sw, ew
		return w, nil
	}
	mw := record.NewMultiWriter(sws, ews)
	w.steps, w.episodes = mw, mw
	return w, nil
}

// stepEpisodeWriter is implemented by every base sink.
type stepEpisodeWriter interface {
	record.StepWriter
	record.EpisodeWriter
}

// baseWriters chooses the primary sink: GreptimeDB when GREPTIMEDB_ENDPOINT
// is set, otherwise STDOUT as a TUI, colored lines or JSON.
func baseWriters(cfg *config.EnvConfig, opts writerOptions) (record.StepWriter, record.EpisodeWriter, *record.TUIWriter, error) {
	if opts.printOnly || os.Getenv("GREPTIMEDB_ENDPOINT") == "" {
		var w stepEpisodeWriter
		var tui *record.TUIWriter
		switch {
		case opts.tui && isTerminal(os.Stdout):
			tui = record.NewTUIWriter(cfg)
			w = tui
		case opts.color || opts.tui:
			w = record.NewColorStdoutWriter(cfg, opts.onlyEpisodes)
		default:
			w = record.NewJSONStdoutWriter()
		}
		return w, w, tui, nil
	}

	host, port, err := parseEndpoint(os.Getenv("GREPTIMEDB_ENDPOINT"))
	if err != nil {
		return nil, nil, nil, err
	}
	database := os.Getenv("GREPTIMEDB_DATABASE")
	if database == "" {
		database = "public"
	}
	w, err := record.NewGreptimeDBWriter(host, port, database)
	if err != nil {
		return nil, nil, nil, err
	}
	return w, w, nil, nil
}

// parseEndpoint splits host[:port], defaulting to the gRPC port.
func parseEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid GREPTIMEDB_ENDPOINT port %q: %w", portStr, err)
	}
	return host, port, nil
}

// isTerminal is replaced in tests.
var isTerminal = func(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
