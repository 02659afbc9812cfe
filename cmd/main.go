package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/config"
	"github.com/Gopher0727/Ephemera/internal/blob"
	"github.com/Gopher0727/Ephemera/internal/consumer"
	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/handlers"
	"github.com/Gopher0727/Ephemera/internal/invite"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/metrics"
	"github.com/Gopher0727/Ephemera/internal/pkg/kafka"
	"github.com/Gopher0727/Ephemera/internal/pkg/redis"
	"github.com/Gopher0727/Ephemera/internal/repositories"
	"github.com/Gopher0727/Ephemera/internal/routers"
	"github.com/Gopher0727/Ephemera/internal/scheduler"
	"github.com/Gopher0727/Ephemera/internal/services"
	"github.com/Gopher0727/Ephemera/internal/storage"
	"github.com/Gopher0727/Ephemera/internal/utils"
	"github.com/Gopher0727/Ephemera/middleware/jwt"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
	"github.com/Gopher0727/Ephemera/utils/consistenthash"
	"github.com/Gopher0727/Ephemera/utils/ratelimit"
	"github.com/Gopher0727/Ephemera/utils/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) error {
	zl := appLogger.Logger

	// 初始化 PostgreSQL
	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns)
	if err != nil {
		return err
	}

	// 初始化 Redis
	rdb, err := storage.InitRedis(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.MinIdleConns)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(rdb)
	defer redisClient.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// 事件同时投递到 Redis 频道和 Kafka（如果启用）
	publishers := events.Multi{events.NewRedisPublisher(redisClient)}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		publishers = append(publishers, events.NewKafkaPublisher(producer, cfg.Kafka.Topics.Events, cfg.Kafka.Producer.MaxRetries))
	}

	var blobs blob.Store = blob.Nop{}
	if cfg.S3.Enabled {
		s3Store, err := blob.NewS3Store(ctx, &cfg.S3)
		if err != nil {
			return err
		}
		blobs = s3Store
	}

	ids, err := snowflake.NewGenerator(nodeNumber(cfg.SweepRing))
	if err != nil {
		return err
	}

	// 初始化仓储层与服务层
	clock := lifecycle.SystemClock{}
	groupRepo := repositories.NewGroupRepository(db)
	messageRepo := repositories.NewMessageRepository(db)

	inviteService := services.NewInviteService(groupRepo, invite.NewGenerator(nil), clock, cfg.Lifecycle, zl)
	groupService := services.NewGroupService(groupRepo, inviteService, clock, zl)
	membershipService := services.NewMembershipService(groupRepo, clock, publishers, redisClient, m, zl)
	messageService := services.NewMessageService(messageRepo, groupRepo, ids, clock, publishers, redisClient, zl)
	sweepService := services.NewSweepService(groupRepo, clock, cfg.Lifecycle, zl).
		WithEvents(publishers).
		WithUnread(redisClient).
		WithMetrics(m)
	if len(cfg.SweepRing.Nodes) > 0 {
		ring := consistenthash.New(cfg.SweepRing.Replicas, nil)
		ring.Add(cfg.SweepRing.Nodes...)
		sweepService.WithRing(ring, cfg.SweepRing.NodeID)
	}
	reaperService := services.NewReaperService(groupRepo, blobs, clock, publishers, m, zl)

	sched := scheduler.New(sweepService, reaperService, cfg.Lifecycle, appLogger)
	sched.Start(ctx)
	defer sched.Stop()

	// Kafka 触发主题：{"op":"sweep"} / {"op":"reap"}
	if cfg.Kafka.Enabled {
		triggers := consumer.NewTriggerConsumer(sched, appLogger)
		c, err := kafka.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topics.Triggers}, triggers.Handle, producer, zl)
		if err != nil {
			return err
		}
		c.Start(ctx)
		defer c.Stop()
	}

	// 协程池限制同时处理的请求数
	pool := utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, zl)
	pool.Start()
	defer pool.Stop()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	routers.SetupRoutes(r, routers.Handlers{
		Group:   handlers.NewGroupHandler(groupService, sweepService, appLogger),
		Invite:  handlers.NewInviteHandler(inviteService, groupService, membershipService, appLogger),
		Message: handlers.NewMessageHandler(messageService, appLogger),
		Admin:   handlers.NewAdminHandler(sched, appLogger),
	}, routers.Options{
		Tokens:      jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours),
		JoinLimiter: ratelimit.NewWindowLimiter(rdb, zl, "join", cfg.RateLimit.JoinPerMinute, time.Minute, cfg.RateLimit.FailOpen),
		Pool:        pool,
		Operators:   cfg.Admin.Operators,
		Logger:      appLogger,
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: r,
	}
	errCh := make(chan error, 1)
	go func() {
		zl.Info("正在启动服务器", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// nodeNumber 取节点在 sweep_ring.nodes 中的下标作为 snowflake 节点号，单节点部署为 0
func nodeNumber(ring config.SweepRingConfig) int64 {
	for i, node := range ring.Nodes {
		if node == ring.NodeID {
			return int64(i) % (snowflake.MaxNode + 1)
		}
	}
	return 0
}
