package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoengage/internal/config"
	handlers "geoengage/internal/handlers/shared"
	"geoengage/internal/middleware"
	"geoengage/internal/models"
	"geoengage/internal/repositories/mongodb"
	redisrepo "geoengage/internal/repositories/redis"
	"geoengage/internal/services"
	"geoengage/pkg/cache"
	"geoengage/pkg/database"
	"geoengage/pkg/logger"
	"geoengage/pkg/messaging"
	"geoengage/pkg/push"
	"geoengage/pkg/scheduler"
	"geoengage/routes"

	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout     = 15 * time.Second
	eventHandlerTimeout = 10 * time.Second
)

func main() {
	migrateDown := flag.Int("migrate-down", -1, "Roll the schema back to this migration version and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:      logger.LogLevel(cfg.App.LogLevel),
		Format:     cfg.App.LogFormat,
		Output:     cfg.App.LogOutput,
		TimeFormat: time.RFC3339,
		AppName:    cfg.App.Name,
		Version:    cfg.App.Version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if *migrateDown >= 0 {
		if err := rollback(cfg, *migrateDown); err != nil {
			appLogger.WithError(err).Fatal("Migration rollback failed")
		}
		appLogger.Infof("Schema rolled back to version %d", *migrateDown)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.WithError(err).Fatal("Server stopped with error")
	}
	appLogger.Info("Server stopped")
}

func connectMongo(cfg *config.Config) (*database.MongoDB, error) {
	mongoDB, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	return mongoDB, nil
}

func rollback(cfg *config.Config, targetVersion int) error {
	mongoDB, err := connectMongo(cfg)
	if err != nil {
		return err
	}
	defer mongoDB.Close()

	return database.NewMigrator(mongoDB.Database).Down(targetVersion)
}

func run(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) error {
	location, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %s: %w", cfg.App.Timezone, err)
	}

	// Storage
	mongoDB, err := connectMongo(cfg)
	if err != nil {
		return err
	}
	defer mongoDB.Close()

	if err := database.NewMigrator(mongoDB.Database).Up(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		KeyPrefix:    cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisCache.Close()

	// Repositories
	db := mongoDB.Database
	geoPositionRepo := mongodb.NewGeoPositionRepository(db)
	placeRepo := mongodb.NewPlaceRepository(db)
	campaignRepo := mongodb.NewCampaignRepository(db)
	storeRepo := mongodb.NewStoreRepository(db)
	deviceRepo := mongodb.NewDeviceRepository(db)
	attemptRepo := mongodb.NewAttemptRepository(db)
	deferredActionRepo := mongodb.NewDeferredActionRepository(db)
	deviceWindowRepo := redisrepo.NewDeviceWindowRepository(redisCache)

	// Services
	targeting := cfg.Targeting
	clusterer := services.NewPlaceClusterer(targeting.ClusterMaxDistanceMeters, targeting.ClusterNoiseWindow)
	locker := services.NewRedisDeviceLocker(redisCache, targeting.DeviceLockTTL, appLogger)
	placeService := services.NewPlaceAssociationService(targeting, geoPositionRepo, placeRepo, storeRepo, mongoDB, locker, clusterer, appLogger)

	rateLimitService := services.NewRateLimitService(targeting, attemptRepo, deviceWindowRepo)
	attributeFilter := services.NewAttributeFilter(appLogger)
	matcher := services.NewGeofenceMatcher(targeting, storeRepo, campaignRepo, rateLimitService, attributeFilter, appLogger)

	providers, err := buildPushProviders(ctx, cfg.Push)
	if err != nil {
		return err
	}
	dispatcher := services.NewDeliveryDispatcher(targeting, providers, appLogger)

	var disseminationService services.DisseminationService
	cronScheduler := scheduler.NewCronScheduler(func(ctx context.Context, jobID string) {
		disseminationService.RunJob(ctx, jobID)
	}, appLogger, location)

	disseminationService = services.NewDisseminationService(targeting, services.DisseminationDeps{
		DeviceRepo:         deviceRepo,
		GeoPositionRepo:    geoPositionRepo,
		CampaignRepo:       campaignRepo,
		AttemptRepo:        attemptRepo,
		DeferredActionRepo: deferredActionRepo,
		Tx:                 mongoDB,
		Matcher:            matcher,
		RateLimit:          rateLimitService,
		Filter:             attributeFilter,
		Dispatcher:         dispatcher,
		Scheduler:          cronScheduler,
	}, appLogger)

	// Background workers
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := cronScheduler.AddTask("place_sweep", targeting.ClusterSweepCron, func(ctx context.Context) {
		if err := placeService.SweepAll(ctx); err != nil {
			appLogger.WithError(err).Error("Place sweep finished with errors")
		}
	}); err != nil {
		return fmt.Errorf("failed to register place sweep: %w", err)
	}

	if err := cronScheduler.AddTask("reconcile", targeting.ReconcileCron, func(ctx context.Context) {
		if _, err := disseminationService.Reconcile(ctx); err != nil {
			appLogger.WithError(err).Error("Scheduler reconciliation failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to register reconciliation: %w", err)
	}

	// Campaign jobs live only in memory; rebuild them from the stored
	// campaigns before the first tick.
	if changed, err := disseminationService.Reconcile(ctx); err != nil {
		appLogger.WithError(err).Error("Initial scheduler reconciliation failed")
	} else {
		appLogger.Infof("Scheduler reconciled, %d jobs changed", changed)
	}

	cronScheduler.Start(ctx)
	defer func() {
		<-cronScheduler.Stop().Done()
	}()

	go runOutbox(ctx, disseminationService, targeting.OutboxInterval, appLogger)

	// Event ingestion
	eventHandler := handlers.NewEventHandler(disseminationService, appLogger)
	closeBrokers, err := subscribeBrokers(cfg.Messaging, eventHandler, appLogger)
	if err != nil {
		return err
	}
	defer closeBrokers()

	// HTTP
	if cfg.App.IsProduction() && !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(appLogger))

	v1 := router.Group("/api/v1")
	{
		routes.SetupLocationRoutes(v1, handlers.NewLocationHandler(disseminationService))
		routes.SetupNotificationRoutes(v1, handlers.NewNotificationHandler(disseminationService))
		routes.SetupPlaceRoutes(v1, handlers.NewPlaceHandler(placeService))
		routes.SetupCampaignRoutes(v1, handlers.NewCampaignHandler(disseminationService))
	}

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"mongodb": "ok", "redis": "ok"}
		if err := mongoDB.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks["mongodb"] = err.Error()
		}
		if err := redisCache.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks["redis"] = err.Error()
		}
		c.JSON(status, gin.H{
			"status":  http.StatusText(status),
			"version": cfg.App.Version,
			"checks":  checks,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.WithField("addr", server.Addr).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildPushProviders(ctx context.Context, cfg *config.PushConfig) (map[models.DevicePlatform]push.PushProvider, error) {
	providers := make(map[models.DevicePlatform]push.PushProvider)

	if cfg.FCM.Enabled {
		provider, err := push.NewFCMProvider(ctx, cfg.FCM.ProjectID, cfg.FCM.Credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM provider: %w", err)
		}
		providers[models.DevicePlatformAndroid] = provider
	}

	if cfg.APNS.Enabled {
		provider, err := push.NewAPNSProvider(cfg.APNS.KeyFile, cfg.APNS.KeyID, cfg.APNS.TeamID, cfg.APNS.BundleID, cfg.APNS.Production)
		if err != nil {
			return nil, fmt.Errorf("failed to create APNs provider: %w", err)
		}
		providers[models.DevicePlatformIOS] = provider
	}

	if cfg.SNS.Enabled {
		provider, err := push.NewSNSProvider(ctx, cfg.SNS.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS provider: %w", err)
		}
		providers[models.DevicePlatformSNS] = provider
	}

	return providers, nil
}

func subscribeBrokers(cfg *config.MessagingConfig, eventHandler *handlers.EventHandler, appLogger *logger.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}

	if cfg.NATS.Enabled {
		natsClient, err := messaging.NewNATSClient(&messaging.NATSConfig{
			URL:            cfg.NATS.URL,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
			HandlerTimeout: eventHandlerTimeout,
		}, appLogger)
		if err != nil {
			return closeAll, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		closers = append(closers, func() {
			if err := natsClient.Close(); err != nil {
				appLogger.WithError(err).Warn("Failed to drain NATS connection")
			}
		})

		if err := natsClient.QueueSubscribe(cfg.NATS.LocationSubject, cfg.NATS.QueueGroup, eventHandler.HandleLocation); err != nil {
			return closeAll, err
		}
		if err := natsClient.QueueSubscribe(cfg.NATS.OutcomeSubject, cfg.NATS.QueueGroup, eventHandler.HandleOutcome); err != nil {
			return closeAll, err
		}
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := messaging.NewMQTTClient(&messaging.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            byte(cfg.MQTT.QoS),
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			HandlerTimeout: eventHandlerTimeout,
		}, appLogger)
		if err != nil {
			return closeAll, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		closers = append(closers, mqttClient.Close)

		if err := mqttClient.Subscribe(cfg.MQTT.LocationTopic, eventHandler.HandleLocation); err != nil {
			return closeAll, err
		}
	}

	return closeAll, nil
}

func runOutbox(ctx context.Context, svc services.DisseminationService, interval time.Duration, appLogger *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := svc.ProcessOutbox(ctx)
			if err != nil {
				appLogger.WithError(err).Warn("Outbox pass finished with errors")
				continue
			}
			if processed > 0 {
				appLogger.WithField("processed", processed).Debug("Outbox pass completed")
			}
		}
	}
}
