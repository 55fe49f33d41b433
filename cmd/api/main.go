package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"wex-mcp-api/internal/cache"
	"wex-mcp-api/internal/config"
	"wex-mcp-api/internal/friends"
	"wex-mcp-api/internal/handler"
	"wex-mcp-api/internal/middleware"
	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/profile"
	"wex-mcp-api/internal/repository"
	"wex-mcp-api/internal/router"
	"wex-mcp-api/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting WEX MCP API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	gameplay, err := config.LoadGameplay(cfg.App.GameplayFile)
	if err != nil {
		log.Fatalf("Failed to load gameplay config: %v", err)
	}

	// Initialize document store based on config
	store, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Store.Type, err)
	}
	log.Printf("%s document store initialized", cfg.Store.Type)

	// Lookup cache for account reads
	var lookupCache cache.Cache
	if cfg.Cache.Type == "redis" {
		redisCache, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Printf("Warning: Redis cache connection failed, using memory cache: %v", err)
		} else {
			lookupCache = redisCache
			log.Println("Redis lookup cache initialized")
		}
	}
	if lookupCache == nil {
		lookupCache = cache.NewMemoryCache()
	}
	defer lookupCache.Close()

	// Account directory: external MySQL when configured, the store's own table otherwise
	var accountSource repository.AccountRepository = store
	if cfg.Accounts.Enabled() {
		mysqlDB, err := repository.OpenMySQL(cfg.Accounts.DSN())
		if err != nil {
			log.Printf("Warning: MySQL account directory unavailable, using %s store: %v", cfg.Store.Type, err)
		} else {
			defer mysqlDB.Close()
			accountSource = repository.NewMySQLAccountRepository(mysqlDB)
			log.Println("MySQL account directory initialized")
		}
	}
	accounts := repository.NewCachedAccountRepository(accountSource, lookupCache, cfg.Cache.TTL)

	// Document persistence, optionally through the Redis write-behind buffer
	documents := service.NewDocumentStore(store)
	var redisBuffer *cache.RedisDocumentBuffer
	if cfg.Buffer.Enabled {
		redisBuffer, err = cache.NewRedisDocumentBuffer(cache.RedisBufferConfig{
			Addr:          cfg.Cache.RedisAddress(),
			Password:      cfg.Cache.RedisPassword,
			DB:            cfg.Buffer.RedisDB,
			FlushInterval: cfg.Buffer.FlushInterval,
			KeyPrefix:     cfg.Buffer.KeyPrefix,
		}, service.CreateFlushFunc(store))
		if err != nil {
			log.Printf("Warning: Redis buffer initialization failed, writing directly: %v", err)
			redisBuffer = nil
		} else {
			documents.SetBuffer(redisBuffer)
			log.Println("Redis document buffer initialized")
		}
	}

	// Registry and services
	versions := profile.Versions{}
	for kind, version := range gameplay.Versions.ByKind() {
		versions[model.ProfileKind(kind)] = version
	}
	registry := service.NewRegistry(documents, nil, profile.WithVersions(versions))
	scheduler := service.NewEvictionScheduler(registry, service.EvictionConfig{
		IdleThreshold: cfg.Registry.IdleThreshold,
		SweepInterval: cfg.Registry.SweepInterval,
	})
	scheduler.Start()

	friendService := friends.NewService(registry, accounts, store, friends.Options{
		SnapshotTTL:     gameplay.Friends.SnapshotTTL.Duration,
		SuggestionLimit: gameplay.Friends.SuggestionLimit,
		AvatarURL:       gameplay.Friends.AvatarURL,
	})

	// Initialize handlers
	checks := map[string]handler.ReadinessCheck{
		"store": func(ctx context.Context) error {
			_, err := store.GetStats(ctx)
			return err
		},
	}
	adminCfg := handler.AdminConfig{
		Registry:  registry,
		Sweeper:   scheduler,
		Store:     store,
		Accounts:  accounts,
		StoreType: cfg.Store.Type,
	}
	if redisBuffer != nil {
		adminCfg.Buffer = redisBuffer
		checks["redis_buffer"] = func(ctx context.Context) error {
			_, err := redisBuffer.Count(ctx)
			return err
		}
	}

	healthHandler := handler.New(cfg.App.Name, cfg.App.Version, checks)
	profileHandler := handler.NewProfileHandler(registry, friendService, accounts)
	friendsHandler := handler.NewFriendsHandler(registry, friendService, accounts)
	adminHandler := handler.NewAdminHandler(adminCfg)

	if len(cfg.Auth.Keys()) == 0 {
		log.Println("Warning: API_KEYS is empty, authentication is disabled")
	}
	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys: cfg.Auth.Keys(),
	})

	// Create router
	r := router.New(router.Config{
		Handler:         healthHandler,
		ProfileHandler:  profileHandler,
		FriendsHandler:  friendsHandler,
		AdminHandler:    adminHandler,
		AuthMiddleware:  authMiddleware,
		AdminMiddleware: middleware.RequireKey("X-Admin-Key", cfg.Auth.AdminKey),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Save every loaded account, then drain the buffer into the store
	scheduler.Stop()
	if redisBuffer != nil {
		log.Println("Closing Redis buffer...")
		redisBuffer.Close()
	}
	if err := store.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}

func openStore(cfg config.StoreConfig) (repository.Store, error) {
	switch cfg.Type {
	case "mongodb":
		return repository.NewMongoDBStore(cfg.MongoURI, cfg.MongoDatabase)
	case "postgres":
		return repository.NewPostgresStore(cfg.PostgresDSN())
	case "memory":
		return repository.NewMemoryStore(), nil
	default:
		return repository.NewSQLiteStore(cfg.Path)
	}
}
