package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/handlers"
	"github.com/mmdatafocus/serviceengine_backend/middlewares"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/mmdatafocus/serviceengine_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// switchHandler serves the boot router until the API router is ready.
type switchHandler struct {
	current atomic.Value
}

func (h *switchHandler) set(next http.Handler) {
	h.current.Store(next)
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.current.Load().(http.Handler).ServeHTTP(w, r)
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	production, origins := config.CorsAllowedOrigins()
	if production {
		corsConfig.AllowOrigins = origins
		if len(origins) == 0 {
			// deny all until an allowlist is configured
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Warning", middlewares.CorrelationHeader)
	return cors.New(corsConfig)
}

// bootRouter answers probes while dependencies connect.
func bootRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterHealth(r, config.IsDBReady)
	r.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service starting"})
	})
	return r
}

func apiRouter(store *models.Store, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestMiddleware(logger))
	r.Use(corsMiddleware())
	if enabled, limit, window := config.RateLimit(); enabled {
		r.Use(middlewares.NewRateLimiter(config.GetRedisDB, limit, window).Middleware())
	}
	handlers.RegisterHealth(r, config.IsDBReady)
	r.POST("/pubsub/lifecycle", handlers.LifecyclePushHandler(workflow.NewLifecycleConsumer(store.DB(), logger)))
	handlers.RegisterRoutes(r, store)
	r.NoRoute(customNotFoundHandler)
	return r
}

func newStore(ctx context.Context, logger *logrus.Logger) (*models.Store, func()) {
	opts := []models.StoreOption{
		models.WithLogger(logger),
		models.WithLocker(utils.NewRedisRecordLocker(config.GetRedisLock)),
	}
	cleanup := func() {}
	if bucket := config.ProposalArchiveBucket(); bucket != "" {
		archiver, err := workflow.NewGCSArchiver(ctx, bucket)
		if err != nil {
			// signing still works; the agreement is just not archived
			config.LogError(logger, "server.go", "newStore", "init proposal archiver", bucket, err)
		} else {
			opts = append(opts, models.WithArchiver(archiver))
			cleanup = func() { _ = archiver.Close() }
		}
	}
	return models.NewStore(config.GetDB(), opts...), cleanup
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening immediately; app routes answer 503 until the DB is ready.
	root := &switchHandler{}
	root.set(bootRouter())
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: root,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// redis only backs caches, counters, and locks; requests work without it
	go config.ConnectRedisWithRetry(sigCtx)
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	store, closeStore := newStore(sigCtx, logger)
	defer closeStore()
	root.set(apiRouter(store, logger))

	// publishes lifecycle events after commit
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.OutboxEnabled() {
		publisher, err := workflow.NewPubSubPublisher(sigCtx)
		if err != nil {
			config.LogError(logger, "server.go", "main", "init lifecycle publisher", config.LifecycleTopic(), err)
		} else {
			defer publisher.Stop()
			go workflow.NewOutboxDispatcher(db, publisher, logger).Run(dispatcherCtx)
		}
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// stop background workers before draining requests
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
