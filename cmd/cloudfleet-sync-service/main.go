package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/cloudfleet"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/middlewares"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("CLOUDFLEET_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// no sync can run without the store
	if err := config.ConnectDatabase(intFromEnv("DB_CONNECT_MAX_ATTEMPTS", 10)); err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err)
	}
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	go config.ConnectRedisWithRetry()

	opts := config.SyncOptionsFromEnv()
	if opts.APIKey == "" {
		logger.WithFields(logrus.Fields{"field": "config"}).Warn("CLOUDFLEET_API_KEY is empty; upstream requests will be rejected")
	}
	syncer := cloudfleet.NewSyncer(db, opts, cloudfleet.WithLease(cloudfleet.NewDynamicLease(config.GetRedisLock)))

	var publish cloudfleet.Publisher
	if config.SyncTopicName() != "" {
		publish = config.PublishSyncRequest
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := config.EnsureSyncTopic(ctx); err != nil {
				logger.WithFields(logrus.Fields{"field": "pubsub"}).WithError(err).Warn("could not ensure sync topic")
			}
		}()
	}
	handler := cloudfleet.NewHandler(db, syncer, publish)

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = config.CorsAllowedOrigins()
		if corsConfig.AllowOrigins == nil {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.AccessLogger())
	r.Use(gin.Recovery())

	api := r.Group("/api/v1/cloudfleet")
	handler.RegisterRoutes(api, middlewares.AuthMiddleware(utils.JwtSecret()))

	// Pub/Sub push endpoint for async sync requests.
	r.POST("/pubsub/cloudfleet-sync", handler.PubSubPushHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"port": port}).Info("cloudfleet sync service listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
