package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// 单条搜索结果的处理结果
const (
	OutcomeFound          = "found"
	OutcomeMalformed      = "malformed"
	OutcomeOutOfWindow    = "out_of_window"
	OutcomeDuplicate      = "duplicate"
	OutcomeNotRelevant    = "not_relevant"
	OutcomeUnclassifiable = "unclassifiable"
	OutcomeAdded          = "added"
)

// Recorder 一次运行的指标，运行结束后推送到 Pushgateway。
// 零值不可用，nil Recorder 的方法都是空操作。
type Recorder struct {
	registry     *prometheus.Registry
	results      *prometheus.CounterVec
	searchErrors *prometheus.CounterVec
	duration     prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// NewRecorder 创建独立 Registry 上的指标
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crop_radar_results_total",
			Help: "Search results seen in the run by keyword and outcome",
		}, []string{"keyword", "outcome"}),
		searchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crop_radar_search_errors_total",
			Help: "Keywords skipped because the search provider failed",
		}, []string{"keyword", "kind"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crop_radar_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crop_radar_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
	r.registry.MustRegister(r.results, r.searchErrors, r.duration, r.lastSuccess)
	return r
}

func (r *Recorder) Result(keyword, outcome string) {
	if r == nil {
		return
	}
	r.results.WithLabelValues(keyword, outcome).Inc()
}

func (r *Recorder) SearchError(keyword, kind string) {
	if r == nil {
		return
	}
	r.searchErrors.WithLabelValues(keyword, kind).Inc()
}

// RunFinished 记录运行耗时；success 为 true 时同时更新最后成功时间
func (r *Recorder) RunFinished(start, end time.Time, success bool) {
	if r == nil {
		return
	}
	r.duration.Set(end.Sub(start).Seconds())
	if success {
		r.lastSuccess.Set(float64(end.Unix()))
	}
}

// Registry 暴露底层 Registry，便于测试和自定义采集
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Push 推送到 Pushgateway；url 为空时跳过
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
