package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gil-rei/Senzen/common/database"
	"github.com/Gil-rei/Senzen/common/logger"
	commonmqtt "github.com/Gil-rei/Senzen/common/mqtt"
	commonredis "github.com/Gil-rei/Senzen/common/redis"
	"github.com/Gil-rei/Senzen/internal/config"
	httpapi "github.com/Gil-rei/Senzen/internal/http"
	"github.com/Gil-rei/Senzen/internal/mqtt"
	"github.com/Gil-rei/Senzen/internal/repository"
	"github.com/Gil-rei/Senzen/internal/service"
	"github.com/Gil-rei/Senzen/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "senzen-data")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// 唯一的退出点：run 返回后其 defer 已全部执行
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("senzen-data stopped with error", zap.Error(err))
	} else {
		log.Info("senzen-data stopped")
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run 装配依赖并阻塞到 ctx 结束或 HTTP 服务出错
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 仓储：DB 不可用时回退到内存实现（本地联调）
	var (
		db       *sql.DB
		accounts repository.AccountsRepository
		tasks    repository.TasksRepository
		recites  repository.RecitesRepository
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for senzen-data")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repos", zap.Error(err))
		}
	}
	if db != nil {
		defer database.Close(db)
		if cfg.DBMigrate {
			if err := database.ApplySchema(ctx, db, repository.Schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		accounts = repository.NewPostgresAccountsRepository(db)
		tasks = repository.NewPostgresTasksRepository(db)
		recites = repository.NewPostgresRecitesRepository(db)
	} else {
		accounts = repository.NewMemoryAccountsRepo()
		tasks = repository.NewMemoryTasksRepo()
		recites = repository.NewMemoryRecitesRepo()
	}

	// 会话 / 账目缓存 / 任务变更流：Redis 不可用时回退到进程内实现
	var (
		kv   store.KV
		feed store.TaskFeed
	)
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(ctx, redisClient); err == nil {
		defer commonredis.Close(redisClient)
		kv = store.NewRedisKV(redisClient)
		feed = store.NewRedisTaskFeed(redisClient, cfg.TaskFeed.StreamPrefix, cfg.TaskFeed.MaxLen, cfg.TaskFeed.Block)
	} else {
		log.Warn("Redis unavailable, using in-process session store and task feed", zap.Error(err))
		_ = commonredis.Close(redisClient)
		kv = store.NewMemoryKV()
		feed = store.NewMemoryTaskFeed(cfg.TaskFeed.Block, cfg.TaskFeed.MaxLen)
	}

	// 完成通知（可选）
	var notifier service.CompletionNotifier
	if cfg.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&cfg.MQTT)
		if err != nil {
			log.Warn("MQTT enabled but connection failed, completion notifications disabled", zap.Error(err))
		} else {
			defer client.Disconnect()
			notifier = mqtt.NewCompletionNotifier(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, log)
		}
	}

	var images service.ImageUploader
	if cfg.ImageHost.Cloud != "" {
		images = service.NewImageHostClient(cfg.ImageHost, log)
	}

	sessions := service.NewSessionStore(kv, cfg.Session.KeyPrefix, cfg.Session.TTL)
	authSvc := service.NewAuthService(accounts, sessions, cfg.Session.TTL, log)
	assignments := service.NewAssignmentService(accounts, log)
	accountSvc := service.NewAccountService(accounts, images, log)

	opts := service.DefaultTaskServiceOptions()
	opts.MaxRetries = cfg.TaskFeed.MaxRetries
	taskSvc := service.NewTaskService(tasks, assignments, feed, notifier, opts, log)
	ledgerSvc := service.NewLedgerService(recites, assignments, kv, cfg.Ledger.CacheTTL, cfg.Ledger.CacheKeyPrefix, log)

	if cfg.Seed.Enabled {
		if err := accountSvc.EnsureAdmin(ctx, cfg.Seed.AdminEmail, cfg.Seed.AdminPassword); err != nil {
			log.Warn("Failed to seed admin account", zap.Error(err))
		}
	}

	mw := httpapi.NewSessionMiddleware(authSvc, log)
	accountHandler := httpapi.NewAccountHandler(accountSvc, assignments, log)
	taskHandler := httpapi.NewTaskHandler(taskSvc, log)

	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes()
	router.RegisterAuthRoutes(httpapi.NewAuthHandler(authSvc, log), mw)
	router.RegisterAdminRoutes(accountHandler, mw)
	router.RegisterCareRoutes(taskHandler, httpapi.NewReciteHandler(ledgerSvc, log), accountHandler, mw)
	router.RegisterPatientRoutes(taskHandler, accountHandler, mw)
	if cfg.Metrics.Enabled {
		router.HandleHandler("/metrics", promhttp.Handler())
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	return g.Wait()
}
