// Package app wires the application together and owns the lifecycle of its
// background loops.
package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"squeeze-radar/api"
	"squeeze-radar/cache"
	"squeeze-radar/config"
	"squeeze-radar/database"
	"squeeze-radar/learning"
	"squeeze-radar/quotes"
	"squeeze-radar/realtime"
)

// App holds every long-lived component of the process
type App struct {
	cfg *config.Config

	gormDB  *database.Database
	rawDB   *database.DB
	redis   *cache.RedisClient
	quotes  *quotes.Manager
	broker  *realtime.Broker
	manager *learning.Manager
	server  *api.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs the application. Fatal on database failure; Redis being
// down only disables caching.
func New(cfg *config.Config) *App {
	dbPort, err := strconv.Atoi(cfg.DatabasePort)
	if err != nil {
		log.Fatalf("❌ Invalid database port %q: %v", cfg.DatabasePort, err)
	}

	gormDB, err := database.Connect(cfg.DatabaseHost, dbPort, cfg.DatabaseName, cfg.DatabaseUser, cfg.DatabasePassword)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}

	store := database.NewMemoryStore(gormDB)
	if err := store.InitSchema(); err != nil {
		log.Fatalf("❌ Failed to initialize schema: %v", err)
	}

	rawDB, err := database.NewConnection(database.Config{
		Host:     cfg.DatabaseHost,
		Port:     cfg.DatabasePort,
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		DBName:   cfg.DatabaseName,
	})
	if err != nil {
		log.Fatalf("❌ Failed to open analytics connection: %v", err)
	}
	analytics := database.NewAnalyticsRepository(rawDB)

	redis := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if redis == nil {
		log.Println("⚠️  Running without Redis; caching disabled")
	}

	quoteManager := quotes.NewManager(cfg.Quotes.StreamURL, cfg.Quotes.RESTURL, cfg.Quotes.APIKey, redis)
	broker := realtime.NewBroker()
	manager := learning.NewManager(store, analytics, quoteManager, broker, redis, cfg.Learning)
	server := api.NewServer(manager, store, analytics, broker, cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:     cfg,
		gormDB:  gormDB,
		rawDB:   rawDB,
		redis:   redis,
		quotes:  quoteManager,
		broker:  broker,
		manager: manager,
		server:  server,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background loops and the API server, then blocks until
// SIGINT/SIGTERM.
func (a *App) Start() {
	go a.broker.Run()
	a.quotes.Start(a.cfg.Quotes.WatchSymbols)
	a.manager.Start(a.ctx)

	go func() {
		if err := a.server.Start(); err != nil {
			log.Fatalf("❌ API server failed: %v", err)
		}
	}()

	log.Println("🚀 squeeze-radar is up")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("⏰ Shutdown signal received")
	a.Stop()
}

// Stop shuts everything down gracefully within a bounded window.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  API server shutdown: %v", err)
	}

	a.manager.Stop()
	a.quotes.Stop()
	a.cancel()

	if err := a.redis.Close(); err != nil {
		log.Printf("⚠️  Redis close: %v", err)
	}
	if err := a.rawDB.Close(); err != nil {
		log.Printf("⚠️  Analytics connection close: %v", err)
	}
	if err := a.gormDB.Close(); err != nil {
		log.Printf("⚠️  Database close: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
