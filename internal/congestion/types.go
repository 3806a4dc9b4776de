// =============================================================================
// 文件: internal/congestion/types.go
// 描述: 拥塞控制类型定义
// =============================================================================
package congestion

// CongestionStats 拥塞控制统计
type CongestionStats struct {
	CongestionWindow uint32 `json:"cwnd"`
	Ssthresh         uint32 `json:"ssthresh"`
	State            string `json:"state"`
	FastRecoveries   uint64 `json:"fast_recoveries"`
	Timeouts         uint64 `json:"timeouts"`
}

// CongestionState 拥塞状态
type CongestionState int

const (
	StateSlowStart CongestionState = iota
	StateCongestionAvoidance
	StateRecovery
)

func (s CongestionState) String() string {
	switch s {
	case StateSlowStart:
		return "slow_start"
	case StateCongestionAvoidance:
		return "congestion_avoidance"
	case StateRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// SeqLessThan 序列号比较 (处理回绕)
func SeqLessThan(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimeDiff 毫秒时间戳差值 (处理回绕)
func TimeDiff(later, earlier uint32) int32 {
	return int32(later - earlier)
}
