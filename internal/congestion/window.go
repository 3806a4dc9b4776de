// =============================================================================
// 文件: internal/congestion/window.go
// 描述: 基于段数的拥塞窗口 (慢启动 / 拥塞避免 / 快速恢复)
// =============================================================================
package congestion

const (
	ThreshInit = 2 // 初始慢启动阈值
	ThreshMin  = 2 // 慢启动阈值下限
)

// Window 拥塞窗口
// 由所属引擎串行访问, 不加锁
type Window struct {
	cwnd     uint32
	ssthresh uint32
	incr     uint32 // 字节累加器, 用于拥塞避免阶段的加性增长
	mss      uint32

	state CongestionState

	fastRecoveries uint64
	timeouts       uint64
}

// NewWindow 创建拥塞窗口
func NewWindow(mss uint32) *Window {
	return &Window{
		cwnd:     1,
		ssthresh: ThreshInit,
		incr:     mss,
		mss:      mss,
		state:    StateSlowStart,
	}
}

// Cwnd 拥塞窗口 (段)
func (w *Window) Cwnd() uint32 { return w.cwnd }

// Ssthresh 慢启动阈值 (段)
func (w *Window) Ssthresh() uint32 { return w.ssthresh }

// State 当前阶段
func (w *Window) State() CongestionState { return w.state }

// OnAck 对端确认推进 (una 前移) 时调用
// limit 为 min(发送窗口, 对端窗口), cwnd 不会超过它
func (w *Window) OnAck(limit uint32) {
	if w.cwnd >= limit {
		w.clamp(limit)
		return
	}
	mss := w.mss
	if w.cwnd < w.ssthresh {
		w.cwnd++
		w.incr += mss
		w.state = StateSlowStart
	} else {
		if w.incr < mss {
			w.incr = mss
		}
		w.incr += (mss*mss)/w.incr + mss/16
		if (w.cwnd+1)*mss <= w.incr {
			w.cwnd++
		}
		w.state = StateCongestionAvoidance
	}
	w.clamp(limit)
}

// OnFastRetransmit 快速重传: 阈值减半, cwnd = ssthresh + resent
func (w *Window) OnFastRetransmit(inflight, resent, limit uint32) {
	w.ssthresh = inflight / 2
	if w.ssthresh < ThreshMin {
		w.ssthresh = ThreshMin
	}
	w.cwnd = w.ssthresh + resent
	w.incr = w.cwnd * w.mss
	w.state = StateRecovery
	w.fastRecoveries++
	w.clamp(limit)
}

// OnTimeout 重传超时: ssthresh = cwnd/2, cwnd 回到 1
// cwnd 传入本次发送实际使用的有效窗口
func (w *Window) OnTimeout(cwnd uint32) {
	w.ssthresh = cwnd / 2
	if w.ssthresh < ThreshMin {
		w.ssthresh = ThreshMin
	}
	w.cwnd = 1
	w.incr = w.mss
	w.state = StateSlowStart
	w.timeouts++
}

func (w *Window) clamp(limit uint32) {
	if limit > 0 && w.cwnd > limit {
		w.cwnd = limit
		w.incr = limit * w.mss
	}
	if w.cwnd < 1 {
		w.cwnd = 1
		w.incr = w.mss
	}
}

// Stats 获取统计信息
func (w *Window) Stats() *CongestionStats {
	return &CongestionStats{
		CongestionWindow: w.cwnd,
		Ssthresh:         w.ssthresh,
		State:            w.state.String(),
		FastRecoveries:   w.fastRecoveries,
		Timeouts:         w.timeouts,
	}
}
