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

	"langify/api/internal/app"
	"langify/api/internal/cache"
	"langify/api/internal/chapter"
	"langify/api/internal/comments"
	"langify/api/internal/config"
	"langify/api/internal/pretranslate"
	"langify/api/internal/queue"
	"langify/api/internal/scheduler"
	"langify/api/internal/search"
	"langify/api/internal/segment"
	"langify/api/internal/stats"
	"langify/api/internal/store"
	"langify/api/internal/translate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	translationQueue, err := queue.New(cfg.RedisURL, queue.PretranslateKey)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer translationQueue.Close()

	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisCache.Close()

	sched := scheduler.New(log.Default())

	segmentService := segment.New(segment.NewStore(dataStore), cfg.LockTimeout)
	recomputer := chapter.NewRecomputer(chapter.NewStore(dataStore), log.Default())
	aggregator := stats.NewAggregator(stats.NewStore(dataStore))
	commentService := comments.New(dataStore, redisCache, sched, log.Default(), cfg.CommentDeletionDelay)

	var worker *pretranslate.Worker
	if strings.TrimSpace(cfg.DeepLAuthKey) != "" {
		translator := translate.NewDeepLClient(cfg.DeepLURL, cfg.DeepLAuthKey)
		worker = pretranslate.NewWorker(pretranslate.NewStore(dataStore), translationQueue, translator, sched, log.Default())
	} else {
		log.Printf("machine translation disabled: no DeepL auth key configured")
	}

	service := app.New(app.NewStore(dataStore), segmentService, recomputer, aggregator, worker, commentService, searchService, log.Default())

	if err := sched.Every(cfg.RecomputeInterval, "derived-data", func(ctx context.Context) error {
		service.RefreshDerivedData(ctx, 50)
		return nil
	}); err != nil {
		log.Fatalf("schedule derived data refresh: %v", err)
	}
	if err := sched.Every(cfg.LockSweepInterval, "lock-sweep", func(ctx context.Context) error {
		service.SweepLocks(ctx)
		return nil
	}); err != nil {
		log.Fatalf("schedule lock sweep: %v", err)
	}
	if worker != nil {
		sched.After(time.Second, "pretranslate", worker.Run)
	}
	sched.Start()
	defer sched.Stop()

	searchService.ReindexAllFromPG(ctx)

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
		log.Printf("Langify API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
