package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlineagent "github.com/always-cache/offline-agent"
	"github.com/always-cache/offline-agent/backup"
	"github.com/always-cache/offline-agent/bus"
	"github.com/always-cache/offline-agent/cache"
	cachekey "github.com/always-cache/offline-agent/pkg/cache-key"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	hostFlag           string
	portFlag           int
	prefixFlag         string
	generationFlag     int
	dbFilenameFlag     string
	backupDirFlag      string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the site (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&prefixFlag, "prefix", "", "Cache generation prefix (overrides config)")
	flag.IntVar(&generationFlag, "generation", -1, "Cache generation version (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name, 'memory' for in-memory cache (overrides config)")
	flag.StringVar(&backupDirFlag, "backup", "", "Backup store directory, 'memory' for in-memory store (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	fileConfig, err := offlineagent.LoadConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&fileConfig)

	agentConfig, err := fileConfig.AgentConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	provider, closeProvider, err := openCache(fileConfig.Storage.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache")
	}
	defer closeProvider()

	backupStore, err := openBackup(fileConfig.Storage.Backup)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open backup store")
	}
	defer backupStore.Close()

	// a generation that does not exist yet means this version was never installed
	generation := cachekey.GenerationName(agentConfig.Prefix, agentConfig.Version)
	installed, err := provider.HasGeneration(generation)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not check cache generation")
	}

	hub := bus.NewHub(bus.HubConfig{Logger: &log.Logger})
	agentConfig.Cache = provider
	agentConfig.Backup = backupStore
	agentConfig.Bus = hub
	agentConfig.Host = hub

	agent, err := offlineagent.New(agentConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create agent")
	}
	hub.SetHandler(agent)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", fileConfig.Port),
		Handler:           agent.Handler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("Serving port %v for %s (with hostname '%s')", fileConfig.Port, agentConfig.OriginURL.String(), agentConfig.OriginHost)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	if err := agent.Boot(ctx, installed); err != nil {
		log.Fatal().Err(err).Msg("Could not start agent")
	}

	<-ctx.Done()
	log.Info().Int("sessions", hub.Sessions()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	hub.Close()
	agent.Close()
}

// applyFlags overrides the file and environment config with the flags that were set.
func applyFlags(config *offlineagent.FileConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			config.Origin = originFlag
		case "host":
			config.Host = hostFlag
		case "port":
			config.Port = portFlag
		case "prefix":
			config.Prefix = prefixFlag
		case "generation":
			config.Version = generationFlag
		case "db":
			config.Storage.DB = dbFilenameFlag
		case "backup":
			config.Storage.Backup = backupDirFlag
		}
	})
}

func openCache(filename string) (cache.Provider, func(), error) {
	if filename == "memory" {
		return cache.NewMemProvider(), func() {}, nil
	}
	provider, err := cache.NewSQLiteProvider(filename)
	if err != nil {
		return nil, nil, err
	}
	return provider, func() {
		if err := provider.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close cache")
		}
	}, nil
}

func openBackup(dir string) (backup.Store, error) {
	if dir == "memory" {
		return backup.NewMemStore(), nil
	}
	return backup.OpenLevelDB(dir)
}
