package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"redline/engine/internal/app"
	"redline/engine/internal/archive"
	"redline/engine/internal/config"
	"redline/engine/internal/history"
	"redline/engine/internal/search"
	"redline/engine/internal/session"
	"redline/engine/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.Bootstrap(ctx, db); err != nil {
		log.Fatalf("schema bootstrap failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.ReposDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer sessions.Close()
		log.Printf("Publishing save state to Redis")
	}

	var archiveStore *archive.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveStore, err = archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.ArchiveEvery)
		if err != nil {
			log.Fatalf("archive store init failed: %v", err)
		}
		log.Printf("Archiving every %d saves to bucket %s", cfg.ArchiveEvery, cfg.MinioBucket)
	}

	service := app.New(cfg, dataStore, historyService, sessions, searchService, archiveStore)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Redline engine listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// Flush every open document before the process exits.
	service.Close(shutdownCtx)
}
