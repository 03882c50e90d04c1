package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/student-records-api/api/swagger"
	"github.com/noah-isme/student-records-api/internal/handler"
	"github.com/noah-isme/student-records-api/internal/middleware"
	"github.com/noah-isme/student-records-api/internal/repository"
	"github.com/noah-isme/student-records-api/internal/service"
	"github.com/noah-isme/student-records-api/internal/validation"
	"github.com/noah-isme/student-records-api/pkg/cache"
	"github.com/noah-isme/student-records-api/pkg/config"
	"github.com/noah-isme/student-records-api/pkg/database"
	"github.com/noah-isme/student-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/student-records-api/pkg/middleware/requestid"
)

// @title Student Records API
// @version 1.0.0
// @description Student record management: enrollment lifecycle, soft delete, search, statistics and roster export.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

type recordStore interface {
	service.StudentStore
	handler.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logr.Fatal("failed to open record store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Students.StatsCacheTTL, logr, cfg.Students.StatsCacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	instrumented := service.NewInstrumentedStore(store, metricsSvc)
	studentSvc := service.NewStudentService(instrumented, validation.NewStudentValidator(), cacheSvc, metricsSvc, logr, service.StudentServiceConfig{
		StatsCacheTTL: cfg.Students.StatsCacheTTL,
	})
	exportSvc := service.NewExportService(instrumented, service.ExportConfig{MaxRows: cfg.Students.ExportMaxRows}, logr)

	studentHandler := handler.NewStudentHandler(studentSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, store)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, middleware.CallerLogFields))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	students := api.Group("/students", middleware.JWT(authSvc))
	{
		students.GET("", studentHandler.List)
		students.GET("/export", studentHandler.Export)
		students.GET("/stats/summary", studentHandler.Stats)
		students.GET("/search/all", studentHandler.Search)
		students.GET("/number/:number", studentHandler.GetByNumber)
		students.GET("/:id", studentHandler.Get)
		students.POST("", studentHandler.Create)
		students.PUT("/:id", studentHandler.Update)
		students.PATCH("/:id", studentHandler.Patch)
		students.PATCH("/:id/status", studentHandler.UpdateStatus)
		students.DELETE("/:id", studentHandler.Delete)
		students.POST("/:id/restore", studentHandler.Restore)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openStore connects the configured record store and returns a release func.
func openStore(ctx context.Context, cfg *config.Config) (recordStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, db, err := database.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewStudentMongoRepository(db.Collection(cfg.Mongo.Collection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewStudentRepository(db), func() { _ = db.Close() }, nil
	}
}
