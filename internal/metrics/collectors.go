// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 会话状态快照
// =============================================================================
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/kcpstream/internal/kcp"
)

// SessionInfo 单个会话的状态快照
type SessionInfo struct {
	Peer string `json:"peer"`
	kcp.Info
}

// SessionSource 会话快照来源
type SessionSource interface {
	Sessions() []SessionInfo
}

// SessionCollector 会话状态收集器
// 每次抓取时通过 SessionSource 读取全部会话
type SessionCollector struct {
	source SessionSource

	sessionsDesc *prometheus.Desc
	srttDesc     *prometheus.Desc
	rttVarDesc   *prometheus.Desc
	latestDesc   *prometheus.Desc
	rtoDesc      *prometheus.Desc
	cwndDesc     *prometheus.Desc
	ssthreshDesc *prometheus.Desc
	rmtWndDesc   *prometheus.Desc
	sndBufDesc   *prometheus.Desc
	sndQueueDesc *prometheus.Desc
	rcvQueueDesc *prometheus.Desc
}

// NewSessionCollector 创建会话收集器
func NewSessionCollector(source SessionSource) *SessionCollector {
	subsystem := "session"
	labels := []string{"conv", "peer"}

	return &SessionCollector{
		source: source,

		sessionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "count"),
			"Number of sessions in the connection table",
			nil, nil,
		),
		srttDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "srtt_milliseconds"),
			"Smoothed round-trip time",
			labels, nil,
		),
		rttVarDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "rttvar_milliseconds"),
			"Round-trip time variance",
			labels, nil,
		),
		latestDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "latest_rtt_milliseconds"),
			"Most recent round-trip time sample",
			labels, nil,
		),
		rtoDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "rto_milliseconds"),
			"Current retransmission timeout",
			labels, nil,
		),
		cwndDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "cwnd_segments"),
			"Congestion window",
			labels, nil,
		),
		ssthreshDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "ssthresh_segments"),
			"Slow start threshold",
			labels, nil,
		),
		rmtWndDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "remote_window_segments"),
			"Receive window advertised by the peer",
			labels, nil,
		),
		sndBufDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "inflight_segments"),
			"Segments sent but not yet acknowledged",
			labels, nil,
		),
		sndQueueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "send_queue_segments"),
			"Segments waiting for window space",
			labels, nil,
		),
		rcvQueueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "recv_queue_segments"),
			"Segments ready for the application",
			labels, nil,
		),
	}
}

// Describe 实现 prometheus.Collector
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.srttDesc
	ch <- c.rttVarDesc
	ch <- c.latestDesc
	ch <- c.rtoDesc
	ch <- c.cwndDesc
	ch <- c.ssthreshDesc
	ch <- c.rmtWndDesc
	ch <- c.sndBufDesc
	ch <- c.sndQueueDesc
	ch <- c.rcvQueueDesc
}

// Collect 实现 prometheus.Collector
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	sessions := c.source.Sessions()

	ch <- prometheus.MustNewConstMetric(c.sessionsDesc, prometheus.GaugeValue, float64(len(sessions)))

	for _, s := range sessions {
		conv := strconv.FormatUint(uint64(s.Conv), 10)
		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, conv, s.Peer)
		}
		gauge(c.srttDesc, float64(s.SRTT))
		gauge(c.rttVarDesc, float64(s.RTTVar))
		gauge(c.latestDesc, float64(s.LatestRTT))
		gauge(c.rtoDesc, float64(s.RTO))
		gauge(c.cwndDesc, float64(s.Congestion.CongestionWindow))
		gauge(c.ssthreshDesc, float64(s.Congestion.Ssthresh))
		gauge(c.rmtWndDesc, float64(s.RmtWnd))
		gauge(c.sndBufDesc, float64(s.SndBuf))
		gauge(c.sndQueueDesc, float64(s.SndQueue))
		gauge(c.rcvQueueDesc, float64(s.RcvQueue))
	}
}
