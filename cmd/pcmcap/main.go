package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/app"
	"github.com/petems/pcmcap/internal/capture"
	"github.com/petems/pcmcap/internal/config"
	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/logging"
	"github.com/petems/pcmcap/internal/permissions"
	"github.com/petems/pcmcap/internal/sink"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file (default: platform config dir)")
		list       = flag.Bool("list", false, "list input devices and exit")
		device     = flag.String("device", "", "device UID or \"default\"")
		out        = flag.String("out", "", "raw PCM output file, \"-\" for stdout")
		wsAddr     = flag.String("ws", "", "websocket listen address")
		writeCfg   = flag.Bool("write-config", false, "save the effective config to the config file and exit")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("pcmcap %s (%s)\n", Version, Commit)
		return
	}

	// Load config from XDG/Library/AppData
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *device != "" {
		cfg.Capture.Device = *device
	}
	if *out != "" {
		cfg.Output.Path = *out
	}
	if *wsAddr != "" {
		cfg.Output.WebsocketAddr = *wsAddr
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	if *writeCfg {
		if err := cfg.Save(); err != nil {
			log.Fatal().Err(err).Msg("Failed to save config")
		}
		log.Info().Str("path", cfg.Path()).Msg("Config saved")
		return
	}

	backend, err := openBackend(cfg.Backend, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("Failed to initialize audio backend")
	}
	defer backend.Close()

	if *list {
		if err := listDevices(backend); err != nil {
			log.Fatal().Err(err).Msg("Failed to list devices")
		}
		return
	}

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsureMicrophone(); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	if err := run(cfg, backend, log); err != nil {
		log.Error().Err(err).Msg("Capture stopped")
		backend.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, backend hal.Backend, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.Capture.Options(log)
	if err != nil {
		return err
	}
	session, err := capture.Open(backend, cfg.Capture.Device, opts)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	var sinks sink.Multi
	if cfg.Output.Path != "" {
		w, err := sink.OpenFile(cfg.Output.Path)
		if err != nil {
			session.Close()
			return err
		}
		sinks = append(sinks, w)
	}
	if cfg.Output.WebsocketAddr != "" {
		b := sink.NewBroadcaster(session.Info(), log)
		sinks = append(sinks, b)
		go func() {
			if err := b.ListenAndServe(ctx, cfg.Output.WebsocketAddr); err != nil {
				log.Error().Err(err).Msg("Websocket server error")
				stop()
			}
		}()
	}

	info := session.Info()
	log.Info().
		Str("version", Version).
		Str("backend", backend.Name()).
		Str("codec", string(info.Codec)).
		Str("layout", info.ChannelLayout).
		Str("time_base", info.TimeBase.String()).
		Msg("pcmcap starting...")

	application := app.New(app.Config{
		Source:        session,
		Sink:          sinks,
		PollInterval:  cfg.PollInterval(),
		StatsInterval: cfg.StatsEvery(),
		Logger:        log,
	})

	runErr := application.Run(ctx)
	log.Info().Msg("Shutting down...")
	if err := application.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	return runErr
}

func listDevices(backend hal.Backend) error {
	devices, err := backend.Enumerate()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}
