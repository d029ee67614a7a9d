package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logbook/internal/auth"
	"logbook/internal/config"
	"logbook/internal/db"
	"logbook/internal/event"
	httpx "logbook/internal/http"
	"logbook/internal/jobs"
	"logbook/internal/logger"
	"logbook/internal/storage"
	"logbook/internal/tag"
	"logbook/internal/user"
)

func main() {
	cfg, _ := config.Load()
	log := logger.New("server", cfg.LogLevel)

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	files, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init")
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)

	eventSvc := &event.Service{DB: gdb, Files: files, Log: log.With("svc", "event")}
	userSvc := &user.Service{DB: gdb, Events: eventSvc, Log: log.With("svc", "user")}
	tagSvc := &tag.Service{DB: gdb}

	r := httpx.NewRouter(cfg, jwtSvc, userSvc, tagSvc, eventSvc, files)

	// attachment file purge worker
	worker := &jobs.Worker{
		ID:    "worker-1",
		Repo:  &jobs.Repo{DB: gdb},
		Files: files,
		Log:   logger.New("worker", cfg.LogLevel),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
