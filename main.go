// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"circlights/cmd"
	"circlights/internal/api"
	"circlights/internal/audio"
	"circlights/internal/build"
	"circlights/internal/config"
	"circlights/internal/engine"
	applog "circlights/internal/log"
	"circlights/internal/metrics"
	"circlights/internal/shutdown"
	"circlights/internal/transport"
	"circlights/internal/tui"
)

const probeTimeout = 5 * time.Second

// main runs in three phases:
//
//  1. Startup: build info, command line, one-off commands, PortAudio.
//  2. Running: the engine pipeline, the HTTP API and optionally the monitor.
//  3. Shutdown: on a signal or a shutdown request the coordinator stops the
//     API, the pipeline, the audio source and the LED transport in turn.
func main() {
	// ==================== STARTUP ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("Build: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.Get().Name, err)
		os.Exit(2)
	}

	if opts.Config != nil {
		if level, ok := applog.ParseLevel(opts.Config.LogLevel); ok {
			applog.SetLevel(level)
		}
	}

	// One-off commands that don't need the pipeline.
	if opts.Command != "" {
		if err := executeCommand(opts); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	// Only help or version output was requested.
	if !opts.Run {
		return
	}

	if err := run(opts); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run(opts *cmd.Options) error {
	cfg := opts.Config

	if err := audio.Initialize(); err != nil {
		if cfg.Audio.Source != config.SourceFile {
			return err
		}
		// File playback does not need PortAudio.
		applog.Warnf("Audio: %v", err)
	} else {
		defer audio.Terminate()
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = "config.yaml"
	}
	store := config.NewFileStore(configPath, cfg.Store.PresetDir)

	coord := shutdown.New(cfg.Shutdown.Timeout)
	eng, err := engine.New(cfg, coord,
		engine.WithStore(store),
		engine.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	// Registered after the engine so it stops first.
	if cfg.Web.Listen != "" {
		srv := api.New(eng,
			api.WithMetrics(m.Handler()),
			api.WithTelemetryBuffer(cfg.Web.TelemetryBuffer),
		)
		if err := srv.Start(cfg.Web.Listen); err != nil {
			return err
		}
		coord.Register("api", srv.Close)
		applog.Infof("API: listening on http://%s", srv.Addr())
	}

	// ==================== RUNNING ====================

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(coord.Context())
	}()

	monitorDone := make(chan struct{})
	if opts.Monitor {
		restore, err := redirectLogs()
		if err != nil {
			applog.Warnf("Monitor: %v", err)
		}
		go func() {
			defer close(monitorDone)
			defer restore()
			if err := tui.Run(coord.Context(), eng, cfg.Web.TelemetryBuffer); err != nil {
				applog.Errorf("Monitor: %v", err)
			}
			// Leaving the monitor ends the program.
			coord.Request()
		}()
	} else {
		close(monitorDone)
	}

	var result error
	exited := false
	select {
	case sig := <-signals:
		applog.Infof("Main: received %v, shutting down", sig)
	case <-coord.Requests():
		applog.Infof("Main: shutdown requested")
	case result = <-runErr:
		exited = true
	}

	// ==================== SHUTDOWN ====================

	if err := coord.Shutdown(context.Background()); err != nil {
		applog.Warnf("Main: shutdown: %v", err)
	}
	if !exited {
		result = <-runErr
	}
	<-monitorDone
	return result
}

// redirectLogs sends log output to a file while the monitor owns the
// terminal. The returned func restores stderr.
func redirectLogs() (func(), error) {
	path := filepath.Join(os.TempDir(), build.Get().Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return func() {}, fmt.Errorf("failed to open log file: %w", err)
	}
	applog.SetOutput(f)
	return func() {
		applog.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

// executeCommand handles one-off commands.
func executeCommand(opts *cmd.Options) error {
	switch opts.Command {
	case cmd.CommandList:
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
		return audio.PrintDevices(os.Stdout)
	case cmd.CommandProbe:
		return probe(opts.Config)
	}
	return fmt.Errorf("unknown command %q", opts.Command)
}

// probe connects to the configured device the way the pipeline would and
// prints what it learned.
func probe(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	tm := transport.NewManager(cfg.Transport())
	defer tm.Close()

	status, err := tm.Connect(ctx, transport.PrimaryDevice, cfg.Device())
	if err != nil {
		return err
	}
	info, err := tm.Info(ctx, transport.PrimaryDevice)
	if err != nil {
		return err
	}

	fmt.Printf("Name:     %s\n", info.Name)
	fmt.Printf("Version:  %s\n", info.Version)
	fmt.Printf("Address:  %s\n", status.Address)
	fmt.Printf("LEDs:     %d\n", info.LEDCount())
	fmt.Printf("Protocol: %s\n", status.Protocol)
	if info.UDPPort != 0 {
		fmt.Printf("UDP port: %d\n", info.UDPPort)
	}
	if info.MAC != "" {
		fmt.Printf("MAC:      %s\n", info.MAC)
	}
	if info.Arch != "" {
		fmt.Printf("Arch:     %s\n", info.Arch)
	}
	return nil
}
