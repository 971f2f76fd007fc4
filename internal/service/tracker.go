package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"positioner-tracker/internal/cache"
	"positioner-tracker/internal/config"
	"positioner-tracker/internal/database"
	"positioner-tracker/internal/events"
	"positioner-tracker/internal/fhir"
	"positioner-tracker/internal/httpapi"
	"positioner-tracker/internal/sweeper"
	"positioner-tracker/internal/workflow"
)

// TrackerService 定位垫生命周期管理服务
type TrackerService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	store       fhir.Store
	ops         *workflow.Operations
	sweeper     *sweeper.Sweeper
	reconciler  *sweeper.Reconciler
	httpServer  *http.Server
}

// NewTrackerService 创建定位垫生命周期管理服务
func NewTrackerService(cfg *config.Config, logger *zap.Logger) (*TrackerService, error) {
	svc := &TrackerService{
		config: cfg,
		logger: logger,
	}

	// 初始化资源存储后端
	store, err := svc.buildStore(cfg)
	if err != nil {
		return nil, err
	}
	svc.store = store

	// 初始化 Redis（事件发布 + 统计缓存，连接失败时降级为关闭）
	var publisher events.Publisher = events.NopPublisher{}
	var statsCache *cache.StatsCache
	if cfg.Tracker.EventsEnabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unavailable, events and stats cache disabled",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
			_ = redisClient.Close()
		} else {
			svc.redisClient = redisClient
			publisher = events.NewRedisPublisher(redisClient, cfg.Tracker.EventStream, logger)
			statsCache = cache.NewStatsCache(
				cache.NewRedisKVStore(redisClient),
				time.Duration(cfg.Tracker.StatsCacheTTL)*time.Second,
				logger,
			)
		}
	}

	svc.ops = workflow.NewOperations(store, publisher, logger)
	svc.sweeper = sweeper.NewSweeper(svc.ops, time.Duration(cfg.Tracker.SweepInterval)*time.Second, logger)
	svc.reconciler = sweeper.NewReconciler(svc.ops, store, logger)

	// HTTP 路由
	router := httpapi.NewRouter(logger)
	router.RegisterPositionerRoutes(httpapi.NewPositionerHandler(svc.ops, statsCache, logger))
	svc.httpServer = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return svc, nil
}

// buildStore 按配置选择存储后端
func (s *TrackerService) buildStore(cfg *config.Config) (fhir.Store, error) {
	switch cfg.Store.Backend {
	case "rest":
		return fhir.NewRestStore(
			cfg.Store.BaseURL,
			cfg.Store.ClientID,
			cfg.Store.ClientSecret,
			time.Duration(cfg.Store.Timeout)*time.Second,
			s.logger,
		), nil
	case "postgres":
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		return fhir.NewPostgresStore(db, s.logger), nil
	case "memory":
		// 本地开发和演示用
		return fhir.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// Start 启动服务
func (s *TrackerService) Start(ctx context.Context) error {
	s.logger.Info("Starting positioner tracker service",
		zap.String("store_backend", s.config.Store.Backend),
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Int("sweep_interval_seconds", s.config.Tracker.SweepInterval),
	)

	// 启动时先做一次重复记录清理；interval > 0 时转为周期任务
	go s.reconciler.Run(ctx, time.Duration(s.config.Tracker.ReconcileInterval)*time.Second)

	// 过期扫描后台任务
	go s.sweeper.Run(ctx)

	// HTTP 服务
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 停止服务
func (s *TrackerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping positioner tracker service")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown http server", zap.Error(err))
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}

	s.logger.Info("Positioner tracker service stopped")
	return nil
}
