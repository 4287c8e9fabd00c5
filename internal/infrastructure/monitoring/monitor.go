package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
)

// Metrics 指标收集器
type Metrics struct {
	// HTTP 请求
	RequestsTotal  uint64
	RequestsFailed uint64

	// 入站管道
	WebhooksReceived   uint64
	MessagesIngested   uint64
	DuplicatesAbsorbed uint64
	AdaptationSkips    uint64
	MediaFailures      uint64
	TranscodeFallbacks uint64

	// 出站管道
	DispatchSuccess uint64
	DispatchFailed  uint64

	// 延迟 (纳秒)
	RequestLatencySum    uint64
	RequestLatencyCount  uint64
	DispatchLatencySum   uint64
	DispatchLatencyCount uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	// 历史数据 (用于图表)
	history      []MetricsSnapshot
	historyLimit int
}

var _ service.PipelineObserver = (*Monitor)(nil)

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	WebhooksPerSecond  float64   `json:"webhooks_per_second"`
	DispatchPerSecond  float64   `json:"dispatch_per_second"`
	AvgDispatchMs      float64   `json:"avg_dispatch_ms"`
	TranscodeFallbacks uint64    `json:"transcode_fallbacks"`
	MemoryMB           float64   `json:"memory_mb"`
	Goroutines         int       `json:"goroutines"`
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger:       logger.With(zap.String("component", "monitor")),
		history:      make([]MetricsSnapshot, 0, 100),
		historyLimit: 100,
	}
}

// PipelineObserver
func (m *Monitor) WebhookReceived()   { atomic.AddUint64(&m.metrics.WebhooksReceived, 1) }
func (m *Monitor) MessageIngested()   { atomic.AddUint64(&m.metrics.MessagesIngested, 1) }
func (m *Monitor) DuplicateAbsorbed() { atomic.AddUint64(&m.metrics.DuplicatesAbsorbed, 1) }
func (m *Monitor) AdaptationSkipped() { atomic.AddUint64(&m.metrics.AdaptationSkips, 1) }
func (m *Monitor) MediaFailed()       { atomic.AddUint64(&m.metrics.MediaFailures, 1) }
func (m *Monitor) TranscodeFellBack() { atomic.AddUint64(&m.metrics.TranscodeFallbacks, 1) }

// DispatchFinished 记录一次出站发送
func (m *Monitor) DispatchFinished(ok bool, latency time.Duration) {
	if ok {
		atomic.AddUint64(&m.metrics.DispatchSuccess, 1)
	} else {
		atomic.AddUint64(&m.metrics.DispatchFailed, 1)
	}
	atomic.AddUint64(&m.metrics.DispatchLatencySum, uint64(latency.Nanoseconds()))
	atomic.AddUint64(&m.metrics.DispatchLatencyCount, 1)
}

// RecordRequest 记录一次 HTTP 请求
func (m *Monitor) RecordRequest(failed bool, d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestsTotal, 1)
	if failed {
		atomic.AddUint64(&m.metrics.RequestsFailed, 1)
	}
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

func avgMs(sum, count *uint64) float64 {
	n := atomic.LoadUint64(count)
	if n == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(sum)) / float64(n) / 1e6
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"uptime_seconds":      time.Since(m.metrics.StartTime).Seconds(),
		"requests_total":      atomic.LoadUint64(&m.metrics.RequestsTotal),
		"requests_failed":     atomic.LoadUint64(&m.metrics.RequestsFailed),
		"webhooks_received":   atomic.LoadUint64(&m.metrics.WebhooksReceived),
		"messages_ingested":   atomic.LoadUint64(&m.metrics.MessagesIngested),
		"duplicates_absorbed": atomic.LoadUint64(&m.metrics.DuplicatesAbsorbed),
		"adaptation_skips":    atomic.LoadUint64(&m.metrics.AdaptationSkips),
		"media_failures":      atomic.LoadUint64(&m.metrics.MediaFailures),
		"transcode_fallbacks": atomic.LoadUint64(&m.metrics.TranscodeFallbacks),
		"dispatch_success":    atomic.LoadUint64(&m.metrics.DispatchSuccess),
		"dispatch_failed":     atomic.LoadUint64(&m.metrics.DispatchFailed),
		"avg_request_ms":      avgMs(&m.metrics.RequestLatencySum, &m.metrics.RequestLatencyCount),
		"avg_dispatch_ms":     avgMs(&m.metrics.DispatchLatencySum, &m.metrics.DispatchLatencyCount),
		"memory_mb":           float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":          runtime.NumGoroutine(),
	}
}

// Snapshot 创建快照并保存
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	dispatched := atomic.LoadUint64(&m.metrics.DispatchSuccess) + atomic.LoadUint64(&m.metrics.DispatchFailed)

	snapshot := MetricsSnapshot{
		Timestamp:          time.Now(),
		WebhooksPerSecond:  float64(atomic.LoadUint64(&m.metrics.WebhooksReceived)) / uptime,
		DispatchPerSecond:  float64(dispatched) / uptime,
		AvgDispatchMs:      avgMs(&m.metrics.DispatchLatencySum, &m.metrics.DispatchLatencyCount),
		TranscodeFallbacks: atomic.LoadUint64(&m.metrics.TranscodeFallbacks),
		MemoryMB:           float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:         runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// GetHistory 获取历史快照
func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector 启动定期收集
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
		}
	}
}

// DashboardData 仪表盘数据
type DashboardData struct {
	Stats   map[string]interface{} `json:"stats"`
	History []MetricsSnapshot      `json:"history"`
}

// GetDashboardData 获取仪表盘数据
func (m *Monitor) GetDashboardData() *DashboardData {
	return &DashboardData{
		Stats:   m.GetStats(),
		History: m.GetHistory(),
	}
}
