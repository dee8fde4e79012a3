package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oip/dpjob/internal/domains"
	"oip/dpjob/internal/framework"
	"oip/dpjob/internal/subscription"
	"oip/dpjob/internal/transport"
	"oip/dpjob/internal/worker"
	"oip/dpjob/pkg/config"
	"oip/dpjob/pkg/infra/mysql"
	"oip/dpjob/pkg/infra/redis"
	"oip/dpjob/pkg/logger"
	"oip/dpjob/pkg/metrics"
	"oip/dpjob/pkg/sqs"
)

var (
	configPath = flag.String("config", "./configs/worker.yaml", "配置文件路径")
	envPath    = flag.String("env", ".env", "环境变量文件路径（不存在时忽略）")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  DPJOB Worker Starting...")
	log.Println("========================================")

	// 1. 加载 .env
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load env file: %v", err)
	}

	// 2. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, transport: %s, flags: %s\n",
		cfg.App.Name, cfg.App.Env, cfg.Transport.Kind, cfg.Flags.Backend)

	// 3. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	// 4. 创建传输，按需初始化队列
	t, err := transport.Open(ctx, cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to open transport: %v", err)
	}
	if cfg.Transport.Provision {
		visibility := framework.DefaultVisibilityTimeout
		if v := cfg.Consumer.AllQueues.VisibilityTimeout; v != nil {
			visibility = *v
		}
		created, err := transport.Provision(ctx, t, cfg.QueueNames(), visibility)
		if err != nil {
			log.Fatalf("Failed to provision queues: %v", err)
		}
		zapLogger.Infof(ctx, "[Main] Provisioned queues: %v", created)
	}

	// 5. 指标
	var (
		mgrOpts []worker.Option
		srv     *http.Server
	)
	if cfg.Metrics.Addr != "" {
		mgrOpts = append(mgrOpts, worker.WithMetrics(metrics.NewPrometheus(nil)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLogger.Errorf(ctx, "[Main] Metrics server failed: %v", err)
			}
		}()
		zapLogger.Infof(ctx, "[Main] Metrics listening on %s", cfg.Metrics.Addr)
	}

	// 6. 动态开关后端
	var reconcilerOpts []subscription.Option
	flags, err := openFlagSource(ctx, cfg.Flags)
	if err != nil {
		log.Fatalf("Failed to open flag backend: %v", err)
	}
	if flags != nil {
		reconcilerOpts = append(reconcilerOpts, subscription.WithFlagSource(flags))
		if c, ok := flags.(io.Closer); ok {
			defer c.Close()
		}
	}
	if cfg.Transport.Kind == "sqs" {
		reconcilerOpts = append(reconcilerOpts, subscription.WithDefaultRegion(sqs.DefaultRegion))
	}

	// 7. 注册 Handler
	registry := domains.NewRegistry(zapLogger)
	for _, w := range cfg.Workers {
		if err := registry.RegisterNamed(w.QueueName, w.Handler); err != nil {
			log.Fatalf("Failed to register handler: %v", err)
		}
	}

	// 8. 创建 Manager 并订阅
	mgr := worker.NewManagerInstance(t, zapLogger, mgrOpts...)
	reconciler := subscription.NewReconciler(cfg.Consumer, registry, mgr, zapLogger, reconcilerOpts...)
	if _, err := reconciler.Start(ctx); err != nil {
		log.Fatalf("Subscription failed: %v", err)
	}

	log.Printf("Worker started with queues %v. Press Ctrl+C to shutdown.\n", mgr.Subscriptions())

	// 9. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Worker...")
	log.Println("========================================")

	// 10. 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(ctx, config.ShutdownTimeout)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		zapLogger.Errorf(ctx, "[Main] Shutdown finished with errors: %v", err)
	}
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	fmt.Println("========================================")
	fmt.Println("  Worker exited gracefully")
	fmt.Println("========================================")
}

// openFlagSource 未配置后端时返回 nil
func openFlagSource(ctx context.Context, cfg config.FlagsConfig) (subscription.FlagSource, error) {
	switch cfg.Backend {
	case "redis":
		return redis.NewFlagStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	case "mysql":
		return mysql.NewFlagStore(cfg.MySQL.DSN)
	default:
		return nil, nil
	}
}
