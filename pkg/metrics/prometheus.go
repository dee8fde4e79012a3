// Package metrics framework.Metrics 的 Prometheus 实现
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/jobx"
)

const namespace = "dpjob"

// Prometheus 按队列统计拉取、处理结果、Handler 耗时和传输失败
type Prometheus struct {
	received        *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	handlerLatency  *prometheus.HistogramVec
}

// NewPrometheus 在 reg 上注册指标，reg 为 nil 时使用默认注册表
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Prometheus{
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received from the transport.",
		}, []string{"queue"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Total number of handler outcomes applied.",
		}, []string{"queue", "outcome"}),
		handlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Total number of handler errors and panics; the message is left un-acked.",
		}, []string{"queue"}),
		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total number of failed transport calls.",
		}, []string{"queue", "op"}),
		handlerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler latency distribution.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5,
				5, 10, 30, 60,
			},
		}, []string{"queue"}),
	}
}

// MessageReceived 拉取到一条消息
func (p *Prometheus) MessageReceived(queue string) {
	p.received.WithLabelValues(queue).Inc()
}

// Outcome 执行了一次处理结果
func (p *Prometheus) Outcome(queue string, outcome jobx.Outcome) {
	p.outcomes.WithLabelValues(queue, outcome.String()).Inc()
}

// HandlerFailed Handler 返回错误或 panic
func (p *Prometheus) HandlerFailed(queue string) {
	p.handlerFailures.WithLabelValues(queue).Inc()
}

// HandlerDuration Handler 耗时
func (p *Prometheus) HandlerDuration(queue string, d time.Duration) {
	p.handlerLatency.WithLabelValues(queue).Observe(d.Seconds())
}

// TransportFailed 传输调用失败
func (p *Prometheus) TransportFailed(queue string, op string) {
	p.transportErrors.WithLabelValues(queue, op).Inc()
}

var _ framework.Metrics = (*Prometheus)(nil)
