package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"oip/dpjob/internal/domains"
	"oip/dpjob/internal/framework"
	"oip/dpjob/internal/subscription"
	"oip/dpjob/internal/transport"
	"oip/dpjob/internal/worker"
	"oip/dpjob/pkg/config"
	"oip/dpjob/pkg/jobx"
	"oip/dpjob/pkg/logger"
)

var (
	configPath   = flag.String("config", "./configs/worker.yaml", "配置文件路径")
	testcasePath = flag.String("testcase", "./tools/fasttest/testcase/cases.json", "测试用例路径")
	kind         = flag.String("transport", "memory", "传输类型，默认使用内存队列")
	timeout      = flag.Duration("timeout", 30*time.Second, "等待所有用例处理完成的时间")
)

// TestCase 测试用例结构
type TestCase struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes"`
	Expect     string            `json:"expect"` // 期望的处理结果，如 ack / dead_letter
}

// recorder 按幂等键记录处理结果
type recorder struct {
	mu       sync.Mutex
	outcomes map[string]string
	done     chan struct{}
	want     int
}

func (r *recorder) wrap(invoke framework.InvokeFunc) framework.InvokeFunc {
	return func(ctx context.Context, env *jobx.Envelope) (jobx.Outcome, error) {
		outcome, err := invoke(ctx, env)
		key, keyErr := env.IdempotenceKey()
		if keyErr != nil {
			return outcome, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.outcomes[key] = "error: " + err.Error()
			return outcome, err
		}
		if _, seen := r.outcomes[key]; !seen {
			r.outcomes[key] = outcome.String()
			if len(r.outcomes) == r.want {
				close(r.done)
			}
		}
		return outcome, err
	}
}

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  FastTest - DPJOB Worker 快速测试工具")
	fmt.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Transport.Kind = *kind
	fmt.Printf("✅ Config loaded: %s (transport=%s)\n", cfg.App.Name, cfg.Transport.Kind)

	// 2. 加载测试用例
	testCases, err := loadTestCases(*testcasePath)
	if err != nil {
		fmt.Printf("❌ Failed to load test cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Loaded %d test cases from %s\n", len(testCases), *testcasePath)

	// 3. 初始化传输和队列
	ctx := context.Background()
	t, err := transport.Open(ctx, cfg.Transport)
	if err != nil {
		fmt.Printf("❌ Failed to open transport: %v\n", err)
		os.Exit(1)
	}
	if _, err := transport.Provision(ctx, t, cfg.QueueNames(), 0); err != nil {
		fmt.Printf("❌ Failed to provision queues: %v\n", err)
		os.Exit(1)
	}

	// 4. 投递用例
	resolver := framework.NewResolver(t)
	for _, tc := range testCases {
		if err := enqueue(ctx, t, resolver, tc); err != nil {
			fmt.Printf("❌ Failed to enqueue %s: %v\n", tc.ID, err)
			os.Exit(1)
		}
	}

	// 5. 订阅并等待处理完成
	log := logger.NewNop()
	registry := domains.NewRegistry(log)
	for _, w := range cfg.Workers {
		if err := registry.RegisterNamed(w.QueueName, w.Handler); err != nil {
			fmt.Printf("❌ Failed to register handler: %v\n", err)
			os.Exit(1)
		}
	}

	mgr := worker.NewManagerInstance(t, log, worker.WithResolver(resolver))
	reconciler := subscription.NewReconciler(cfg.Consumer, registry, mgr, log)
	set, err := reconciler.Build(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to build consumer config: %v\n", err)
		os.Exit(1)
	}

	rec := &recorder{outcomes: make(map[string]string), done: make(chan struct{}), want: len(testCases)}
	for _, reg := range registry.Registrations() {
		qc := set.Resolve(reg.QueueName)
		if err := mgr.SubscribeFunc(ctx, reg.QueueName, rec.wrap(reg.Invoke), &qc); err != nil {
			fmt.Printf("❌ Failed to subscribe %s: %v\n", reg.QueueName, err)
			os.Exit(1)
		}
	}

	startTime := time.Now()
	select {
	case <-rec.done:
	case <-time.After(*timeout):
		fmt.Printf("⚠️  Timed out after %v\n", *timeout)
	}
	_ = mgr.Shutdown(ctx)

	// 6. 输出测试汇总
	fmt.Println("\n========================================")
	fmt.Println("  Test Summary")
	fmt.Println("========================================")

	successCount := 0
	failureCount := 0
	rec.mu.Lock()
	for i, tc := range testCases {
		got, ok := rec.outcomes[tc.ID]
		if !ok {
			got = "not handled"
		}
		if got == tc.Expect {
			fmt.Printf("[Test %d/%d] %s ✅ PASSED (%s)\n", i+1, len(testCases), tc.ID, got)
			successCount++
		} else {
			fmt.Printf("[Test %d/%d] %s ❌ FAILED: want %s, got %s\n", i+1, len(testCases), tc.ID, tc.Expect, got)
			failureCount++
		}
	}
	rec.mu.Unlock()

	fmt.Printf("Total: %d\n", len(testCases))
	fmt.Printf("Passed: %d ✅\n", successCount)
	fmt.Printf("Failed: %d ❌\n", failureCount)
	fmt.Printf("⏱️  Duration: %v\n", time.Since(startTime))

	if failureCount > 0 {
		os.Exit(1)
	}
}

// loadTestCases 从 JSON 文件加载测试用例
func loadTestCases(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read testcase file: %w", err)
	}

	var testCases []TestCase
	if err := json.Unmarshal(data, &testCases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal testcase: %w", err)
	}

	return testCases, nil
}

// enqueue 用例 ID 作为幂等键写入元数据属性
func enqueue(ctx context.Context, t framework.Transport, resolver *framework.Resolver, tc TestCase) error {
	url, err := resolver.Resolve(ctx, tc.Queue)
	if err != nil {
		return err
	}

	meta, err := jobx.NewMetadataAttribute(jobx.Metadata{
		OriginQueue:    tc.Queue,
		IdempotenceKey: tc.ID,
		TraceID:        "fasttest-" + tc.ID,
	})
	if err != nil {
		return err
	}

	attrs := map[string]string{jobx.JobMetadataAttribute: meta}
	for k, v := range tc.Attributes {
		attrs[k] = v
	}
	return t.SendMessage(ctx, url, tc.Body, attrs)
}
