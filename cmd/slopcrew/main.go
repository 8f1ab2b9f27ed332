// SlopCrew relay server.
//
// SlopCrew relays player positions, animations and visual state between
// game plugin instances connected over websockets, and runs encounter and
// race matchmaking. It also serves population metrics, an admin API and
// optional MQTT telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/slopcrew-project/slopcrew/internal/api"
	"github.com/slopcrew-project/slopcrew/internal/cli"
	"github.com/slopcrew-project/slopcrew/internal/config"
	"github.com/slopcrew-project/slopcrew/internal/db"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/filter"
	"github.com/slopcrew-project/slopcrew/internal/health"
	"github.com/slopcrew-project/slopcrew/internal/scheduler"
	"github.com/slopcrew-project/slopcrew/internal/server"
	"github.com/slopcrew-project/slopcrew/internal/telemetry"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

const (
	AppName    = "SlopCrew"
	AppVersion = "1.0.0"
)

func main() {
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting SlopCrew")

	configDir := os.Getenv("SLOPCREW_CONFIG_DIR")
	if configDir == "" {
		configDir = config.DefaultConfigDir
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	if err := util.InitLogger(cfg.GetLogging()); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	localIP, _ := util.GetLocalIP()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("local_ip", localIP).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	var nameFilter filter.Filter = filter.Nop{}
	if fc := cfg.GetFilter(); fc.Enabled {
		nameFilter = filter.NewWordFilter(fc.BannedWords)
	}

	relay := server.New(cfg.RelayConfig(),
		server.WithFilter(nameFilter),
		server.WithEventBus(eventBus),
	)

	apiServer := api.NewServer(cfg, relay)
	cliHandler := cli.NewCLI(relay, eventBus, os.Stdin, os.Stdout)

	// Race archive and kick log
	var database *db.Database
	var history *db.RaceHistory
	if dbCfg := cfg.GetDatabase(); dbCfg.Enabled {
		database, err = db.Open(ctx, dbCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open database, race archive disabled")
		} else {
			history = db.NewRaceHistory(database)
			history.Subscribe(eventBus)
			kicks := db.NewKickLog(database)
			kicks.Subscribe(eventBus)
			apiServer.SetArchives(history, kicks)
			cliHandler.SetArchives(history, kicks)
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	healthMgr := health.NewManager(cfg, eventBus, relay)

	var pruner scheduler.Pruner
	if history != nil {
		pruner = history
	}
	sched := scheduler.NewScheduler(cfg, pruner)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Tick loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("tick_rate", cfg.GetServer().TickRate).Msg("starting relay tick loop")
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("tick loop: %w", err)
		}
	}()

	// HTTP and websocket listener
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "HTTP server", apiServer.Start, 5); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// The console goroutine is not waited on since it may be blocked
	// reading stdin.
	if cfg.GetServer().EnableConsole {
		go cliHandler.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested from console")
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()
	relay.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus so archive writes finish before the database closes.
	eventBus.Stop()

	if database != nil {
		if err := database.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}

	log.Info().Msg("SlopCrew stopped")
}

// startWithRetry attempts to start a listener with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
