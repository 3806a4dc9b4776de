// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标（Counter/Gauge）
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/kcpstream/internal/kcp"
)

const namespace = "kcp"

// 会话来源
const (
	KindAccepted = "accepted"
	KindDialed   = "dialed"
)

// 会话结束原因
const (
	ReasonClosed   = "closed"
	ReasonDeadLink = "dead_link"
)

// 数据报丢弃原因
const (
	DropMalformed   = "malformed"
	DropTombstone   = "tombstone"
	DropUnknownPeer = "unknown_peer"
	DropBacklogFull = "backlog_full"
)

// KCPMetrics 传输层指标集合
// 所有方法对 nil 接收者安全, 未启用指标时可直接传 nil
type KCPMetrics struct {
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	SessionsClosed *prometheus.CounterVec

	Datagrams *prometheus.CounterVec
	Bytes     *prometheus.CounterVec
	Segments  *prometheus.CounterVec

	Retransmits    *prometheus.CounterVec
	RepeatSegments prometheus.Counter
	RTTSamples     prometheus.Counter
	OutputErrors   prometheus.Counter
	Dropped        *prometheus.CounterVec
}

// NewKCPMetrics 创建指标集合并注册
func NewKCPMetrics(reg prometheus.Registerer) *KCPMetrics {
	m := &KCPMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently active sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions created",
		}, []string{"kind"}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions removed",
		}, []string{"reason"}),

		Datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_total",
			Help:      "Datagrams processed by the ARQ engines",
		}, []string{"direction"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Datagram bytes processed by the ARQ engines",
		}, []string{"direction"}),
		Segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Segments processed by the ARQ engines",
		}, []string{"direction"}),

		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmits_total",
			Help:      "Retransmitted segments",
		}, []string{"reason"}),
		RepeatSegments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_segments_total",
			Help:      "Duplicate data segments received",
		}),
		RTTSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtt_samples_total",
			Help:      "RTT samples taken from first-transmission acknowledgements",
		}),
		OutputErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_errors_total",
			Help:      "Datagram write failures",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_datagrams_total",
			Help:      "Inbound datagrams discarded before reaching an engine",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveSessions,
			m.SessionsTotal,
			m.SessionsClosed,
			m.Datagrams,
			m.Bytes,
			m.Segments,
			m.Retransmits,
			m.RepeatSegments,
			m.RTTSamples,
			m.OutputErrors,
			m.Dropped,
		)
	}
	return m
}

// Observe 累加一次引擎统计增量
func (m *KCPMetrics) Observe(d kcp.Stats) {
	if m == nil {
		return
	}
	addIfPositive(m.Datagrams.WithLabelValues("in"), d.InDatagrams)
	addIfPositive(m.Datagrams.WithLabelValues("out"), d.OutDatagrams)
	addIfPositive(m.Bytes.WithLabelValues("in"), d.InBytes)
	addIfPositive(m.Bytes.WithLabelValues("out"), d.OutBytes)
	addIfPositive(m.Segments.WithLabelValues("in"), d.InSegs)
	addIfPositive(m.Segments.WithLabelValues("out"), d.OutSegs)
	addIfPositive(m.Retransmits.WithLabelValues("timeout"), d.TimeoutRetransmits)
	addIfPositive(m.Retransmits.WithLabelValues("fast"), d.FastRetransmits)
	addIfPositive(m.RepeatSegments, d.RepeatSegs)
	addIfPositive(m.RTTSamples, d.RTTSamples)
	addIfPositive(m.OutputErrors, d.OutErrors)
	addIfPositive(m.Dropped.WithLabelValues(DropMalformed), d.InErrors)
}

// SessionOpened 会话建立
func (m *KCPMetrics) SessionOpened(kind string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionsTotal.WithLabelValues(kind).Inc()
}

// SessionClosed 会话移除
func (m *KCPMetrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

// Drop 数据报在进入引擎前被丢弃
func (m *KCPMetrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func addIfPositive(c prometheus.Counter, v uint64) {
	if v > 0 {
		c.Add(float64(v))
	}
}
