package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prappser/prappser_uploads/internal"
	"github.com/prappser/prappser_uploads/internal/chunk"
	"github.com/prappser/prappser_uploads/internal/health"
	"github.com/prappser/prappser_uploads/internal/lease"
	"github.com/prappser/prappser_uploads/internal/session"
	"github.com/prappser/prappser_uploads/internal/status"
	"github.com/prappser/prappser_uploads/internal/storage"
	"github.com/prappser/prappser_uploads/internal/upload"
	"github.com/prappser/prappser_uploads/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const version = "1.0.0"

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}

	logger, closeLog := internal.NewLogger(config.Upload.LogFile)
	defer closeLog()
	log.Logger = logger

	store, err := chunk.NewLocalStore(config.Upload.TempRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chunk store")
		return
	}

	var tracker session.Tracker
	switch config.Tracker.Type {
	case internal.TrackerTypePostgres:
		db, err := internal.NewDB(config.Tracker.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
			return
		}
		defer db.Close()
		tracker = session.NewSQLTracker(db)
	default:
		tracker = session.NewMemoryTracker()
	}
	log.Info().Str("type", string(config.Tracker.Type)).Msg("Session tracker initialized")

	backend, err := storage.NewBackend(&config.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage backend")
		return
	}
	log.Info().Str("type", string(config.Storage.Type)).Msg("Storage backend initialized")

	locker, err := lease.NewLocker(&config.Lease, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing assembly lease")
		return
	}

	maxFileSize, _ := config.MaxFileSizeBytes()
	maxBodySize, _ := config.MaxRequestBodyBytes()

	reaper := upload.NewReaper(store, tracker, backend, locker, config.Lease.TTL, logger)
	reaper.SetAssembledRetention(config.Reaper.AssembledRetention)
	assembler := upload.NewAssembler(store, tracker, backend, locker, reaper, config.Lease.TTL, logger)
	uploadService := upload.NewService(store, tracker, backend, assembler, maxFileSize, logger)
	uploadEndpoints := upload.NewEndpoints(uploadService, logger)
	statusEndpoints := status.NewEndpoints(version, uploadService)
	healthEndpoints := health.NewEndpoints(version, map[string]health.Check{
		"chunkStore": func(ctx context.Context) error {
			_, err := store.ListSessions(ctx)
			return err
		},
		"tracker": func(ctx context.Context) error {
			_, err := tracker.Count(ctx)
			return err
		},
	})

	cleanupScheduler := upload.NewCleanupScheduler(reaper, config.Reaper, logger)
	if err := cleanupScheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Error starting cleanup scheduler")
		return
	}
	defer cleanupScheduler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)
	uploadService.SetNotifier(hub)

	requestHandler := internal.NewRequestHandler(config, uploadEndpoints, statusEndpoints, healthEndpoints, hub)
	server := &fasthttp.Server{
		Handler:            requestHandler,
		Name:               "prappser-uploads",
		MaxRequestBodySize: int(maxBodySize),
	}

	go func() {
		log.Info().Str("address", config.Server.Address).Msg("Upload server listening")
		if err := server.ListenAndServe(config.Server.Address); err != nil {
			log.Fatal().Err(err).Msg("Error starting server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
}
