package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"MultiAI-Relay/internal/api"
	"MultiAI-Relay/internal/bootstrap"
	"MultiAI-Relay/internal/config"
	"MultiAI-Relay/internal/observability/metrics"
	"MultiAI-Relay/internal/task"
	"MultiAI-Relay/pkg/logger"
)

// main 是 relay 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("relayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	service, statuses, err := bootstrap.Relay(ctx, cfg)
	if err != nil {
		return err
	}
	bootstrap.Report(os.Stdout, statuses)

	for _, warning := range cfg.TaskQueue.Warnings() {
		logger.L().Warn(warning, slog.String("queue", cfg.TaskQueue.Driver))
	}
	taskQueue, err := newQueue(cfg.TaskQueue)
	if err != nil {
		return err
	}
	taskStore := task.NewMemoryStore()
	taskService := task.NewService(taskStore, taskQueue, cfg.Tasks.MaxRetries)
	defer func() {
		if err := taskService.Close(); err != nil {
			logger.L().Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := task.NewProcessor(service, taskStore, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithRunTimeout(cfg.Server.RunTimeout()),
		task.WithProcessorLogger(logger.Named("task")),
	)

	opts := []api.Option{
		api.WithRunTimeout(cfg.Server.RunTimeout()),
		api.WithTaskService(taskService),
	}
	if cfg.Metrics.Address != "" {
		opts = append(opts, api.WithoutMetrics())
	}
	server := api.NewServer(cfg.Server.Address, service, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := processor.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("任务处理器异常退出: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return metrics.StartServer(gctx, cfg.Metrics.Address)
		})
	}

	logger.L().Info("relayd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.Duration("run_timeout", cfg.Server.RunTimeout()),
	)
	return g.Wait()
}

func newQueue(cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Size), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
