package main

import (
	"context"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/config"
	"github.com/chachabrian/mooveit-dispatch/internal/database"
	"github.com/chachabrian/mooveit-dispatch/internal/dispatch"
	"github.com/chachabrian/mooveit-dispatch/internal/handlers"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.IsDevelopment())

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers.SetDevelopmentMode(cfg.IsDevelopment())

	// Initialize store
	var store repository.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		db, err := database.InitDB(cfg.Database, log)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize database")
		}
		store = repository.NewGormStore(db)
	}

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	// Initialize Redis (optional - presence stays in-process without it)
	deps := dispatch.Deps{
		Store:   store,
		Metrics: metrics,
		Log:     log,
	}
	var registry *services.Registry
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			cancel()
			log.WithError(err).Fatal("failed to initialize redis")
		}
		mirror := services.NewRedisPresenceMirror(client)
		cleared, err := mirror.ResetOnline(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("failed to clear stale online drivers")
		} else if cleared > 0 {
			log.WithField("drivers", cleared).Info("cleared stale online drivers from redis")
		}
		registry = services.NewRegistry(mirror, log)
		deps.Publisher = mirror
	} else {
		registry = services.NewRegistry(nil, log)
	}
	deps.Presence = registry

	// Initialize WebSocket hub
	hub := services.NewHub(log, metrics)
	deps.Notifier = hub

	// Initialize Firebase (optional - will log warning if not configured)
	if cfg.FirebaseServiceAccountPath != "" {
		messaging, err := services.NewMessagingClient(context.Background(), cfg.FirebaseServiceAccountPath)
		if err != nil {
			log.WithError(err).Warn("firebase initialization failed, push notifications disabled")
		} else {
			hub.SetPushSender(services.NewFCMPusher(messaging, store, log), dispatch.PushEvents...)
			log.Info("push notifications enabled")
		}
	}

	// Initialize storage (S3 or local fallback)
	receipts, err := services.NewReceiptStorage(cfg.AWS, cfg.ReceiptDir, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize receipt storage")
	}
	deps.Receipts = receipts
	deps.Payments = services.NewPaymobClient(cfg.Paymob, nil, log)

	dispatcher := dispatch.New(deps)
	auth := middleware.NewAuthenticator(cfg.JWTSecret, store)

	router := &handlers.Router{
		Store:      store,
		Dispatcher: dispatcher,
		Registry:   registry,
		Hub:        hub,
		Auth:       auth,
		Socket:     handlers.NewSocketHandler(hub, registry, store, dispatcher, log, cfg.WSRatePerSecond, cfg.WSRateBurst),
		Tokens:     handlers.TokenIssuer{Secret: cfg.JWTSecret, TTL: cfg.JWTTTL},
		Metrics:    services.MetricsHandler(reg),
	}

	r := gin.Default()

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsConfig))

	router.Register(r)

	log.WithField("port", cfg.Port).Info("dispatch server listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
}
