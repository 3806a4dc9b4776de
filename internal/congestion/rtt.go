// =============================================================================
// 文件: internal/congestion/rtt.go
// 描述: RTT 测量与重传超时估算 (RFC 6298, 毫秒时钟)
// =============================================================================
package congestion

const (
	// RTO 常量 (毫秒)
	RTONoDelayMin = 30    // 无延迟模式最小 RTO
	RTOMin        = 100   // 普通模式最小 RTO
	RTODefault    = 200   // 初始 RTO
	RTOMax        = 60000 // 最大 RTO
)

// RTOEstimator 重传超时估算器
// 由所属引擎串行访问, 不加锁
type RTOEstimator struct {
	srtt     int32 // 平滑 RTT (SRTT)
	rttVar   int32 // RTT 方差 (RTTVAR)
	rto      uint32
	minRTO   uint32
	maxRTO   uint32
	interval uint32 // 时钟粒度 G

	latestRTT    int32
	totalSamples uint64
}

// NewRTOEstimator 创建估算器
func NewRTOEstimator(minRTO, interval uint32) *RTOEstimator {
	return &RTOEstimator{
		rto:      RTODefault,
		minRTO:   minRTO,
		maxRTO:   RTOMax,
		interval: interval,
	}
}

// Update 根据一次 RTT 采样更新估算
func (e *RTOEstimator) Update(rtt int32) {
	if rtt < 0 {
		return
	}
	e.latestRTT = rtt
	e.totalSamples++

	if e.srtt == 0 {
		e.srtt = rtt
		e.rttVar = rtt / 2
	} else {
		// RTTVAR = 3/4 * RTTVAR + 1/4 * |SRTT - R|
		delta := rtt - e.srtt
		if delta < 0 {
			delta = -delta
		}
		e.rttVar = (3*e.rttVar + delta) / 4

		// SRTT = 7/8 * SRTT + 1/8 * R
		e.srtt = (7*e.srtt + rtt) / 8
		if e.srtt < 1 {
			e.srtt = 1
		}
	}

	// RTO = SRTT + max(G, 4*RTTVAR)
	g := uint32(4 * e.rttVar)
	if g < e.interval {
		g = e.interval
	}
	e.rto = bound(e.minRTO, uint32(e.srtt)+g, e.maxRTO)
}

// RTO 当前重传超时
func (e *RTOEstimator) RTO() uint32 { return e.rto }

// SRTT 平滑 RTT
func (e *RTOEstimator) SRTT() int32 { return e.srtt }

// RTTVar RTT 方差
func (e *RTOEstimator) RTTVar() int32 { return e.rttVar }

// LatestRTT 最近一次采样
func (e *RTOEstimator) LatestRTT() int32 { return e.latestRTT }

// Samples 累计采样数
func (e *RTOEstimator) Samples() uint64 { return e.totalSamples }

// MinRTO 最小 RTO
func (e *RTOEstimator) MinRTO() uint32 { return e.minRTO }

// SetMinRTO 设置最小 RTO, 当前 RTO 同步收紧到新下限
func (e *RTOEstimator) SetMinRTO(minRTO uint32) {
	e.minRTO = minRTO
	e.rto = bound(e.minRTO, e.rto, e.maxRTO)
}

// SetInterval 设置时钟粒度
func (e *RTOEstimator) SetInterval(interval uint32) {
	e.interval = interval
}

// Backoff 计算一次超时后的新 RTO
// linear 为 true 时按基础 RTO 线性增长, 否则翻倍
func (e *RTOEstimator) Backoff(current uint32, linear bool) uint32 {
	var next uint32
	if linear {
		next = current + e.rto
	} else {
		next = current + current
	}
	if next > e.maxRTO || next < current {
		next = e.maxRTO
	}
	return next
}

func bound(lower, v, upper uint32) uint32 {
	if v < lower {
		v = lower
	}
	if v > upper {
		v = upper
	}
	return v
}
