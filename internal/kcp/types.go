// =============================================================================
// 文件: internal/kcp/types.go
// 描述: KCP 引擎 - 常量、配置、错误与统计
// =============================================================================
package kcp

import (
	"errors"
	"fmt"

	"github.com/mrcgq/kcpstream/internal/congestion"
)

// =============================================================================
// 常量定义
// =============================================================================

// 命令
const (
	CmdPush uint8 = 81 // 数据
	CmdAck  uint8 = 82 // 确认
	CmdWask uint8 = 83 // 窗口探测 (询问)
	CmdWins uint8 = 84 // 窗口通告 (应答)
)

const (
	Overhead = 24 // 段头部长度

	DefaultMTU      = 1400
	DefaultSndWnd   = 32
	DefaultRcvWnd   = 128
	DefaultInterval = 100
	DefaultDeadLink = 20

	MinMTU      = 50
	MinInterval = 10
	MaxInterval = 5000

	maxFragments = 255 // frg 为 u8

	probeInit  = 7000   // 首次窗口探测等待 (毫秒)
	probeLimit = 120000 // 窗口探测等待上限 (毫秒)

	askSend = 1 << 0 // 需要发送 WASK
	askTell = 1 << 1 // 需要发送 WINS
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrMalformedSegment = errors.New("kcp: 段格式非法")
	ErrConvMismatch     = errors.New("kcp: 会话 ID 不匹配")
	ErrWouldBlock       = errors.New("kcp: 操作将阻塞")
	ErrDeadLink         = errors.New("kcp: 链路已断开")
	ErrMessageTooLarge  = errors.New("kcp: 消息过大")
	ErrInvalidConfig    = errors.New("kcp: 配置无效")
)

// =============================================================================
// 配置
// =============================================================================

// Config 引擎配置
type Config struct {
	SendWindow   uint32 // 发送窗口 (段)
	RecvWindow   uint32 // 接收窗口 (段)
	MTU          uint32 // 单个数据报上限, MSS = MTU - Overhead
	NoDelay      bool   // 无延迟模式: 最小 RTO 30ms, 线性退避
	Interval     uint32 // 刷新间隔 (毫秒)
	FastResend   uint32 // 被跳过多少次 ACK 后快速重传, 0 关闭
	NoCongestion bool   // 关闭拥塞控制
	DeadLink     uint32 // 单段传输次数达到该值判定断链
	StreamMode   bool   // 流模式, 不保留消息边界
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		SendWindow: DefaultSndWnd,
		RecvWindow: DefaultRcvWnd,
		MTU:        DefaultMTU,
		Interval:   DefaultInterval,
		DeadLink:   DefaultDeadLink,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MTU < MinMTU || c.MTU <= Overhead {
		return fmt.Errorf("%w: mtu %d 过小", ErrInvalidConfig, c.MTU)
	}
	if c.SendWindow == 0 || c.RecvWindow == 0 {
		return fmt.Errorf("%w: 窗口不能为 0", ErrInvalidConfig)
	}
	if c.DeadLink == 0 {
		return fmt.Errorf("%w: dead_link 不能为 0", ErrInvalidConfig)
	}
	return nil
}

// MSS 最大段负载
func (c Config) MSS() uint32 {
	return c.MTU - Overhead
}

// =============================================================================
// 统计
// =============================================================================

// Stats 引擎累计统计
type Stats struct {
	InDatagrams  uint64 `json:"in_datagrams"`
	InBytes      uint64 `json:"in_bytes"`
	InSegs       uint64 `json:"in_segs"`
	InErrors     uint64 `json:"in_errors"`
	OutDatagrams uint64 `json:"out_datagrams"`
	OutBytes     uint64 `json:"out_bytes"`
	OutSegs      uint64 `json:"out_segs"`
	OutErrors    uint64 `json:"out_errors"`

	TimeoutRetransmits uint64 `json:"timeout_retransmits"`
	FastRetransmits    uint64 `json:"fast_retransmits"`
	RepeatSegs         uint64 `json:"repeat_segs"`
	RTTSamples         uint64 `json:"rtt_samples"`
}

// Sub 计算增量
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		InDatagrams:        s.InDatagrams - prev.InDatagrams,
		InBytes:            s.InBytes - prev.InBytes,
		InSegs:             s.InSegs - prev.InSegs,
		InErrors:           s.InErrors - prev.InErrors,
		OutDatagrams:       s.OutDatagrams - prev.OutDatagrams,
		OutBytes:           s.OutBytes - prev.OutBytes,
		OutSegs:            s.OutSegs - prev.OutSegs,
		OutErrors:          s.OutErrors - prev.OutErrors,
		TimeoutRetransmits: s.TimeoutRetransmits - prev.TimeoutRetransmits,
		FastRetransmits:    s.FastRetransmits - prev.FastRetransmits,
		RepeatSegs:         s.RepeatSegs - prev.RepeatSegs,
		RTTSamples:         s.RTTSamples - prev.RTTSamples,
	}
}

// Info 引擎状态快照
type Info struct {
	Conv uint32 `json:"conv"`

	SRTT      int32  `json:"srtt_ms"`
	RTTVar    int32  `json:"rttvar_ms"`
	RTO       uint32 `json:"rto_ms"`
	LatestRTT int32  `json:"latest_rtt_ms"`
	MinRTO    uint32 `json:"min_rto_ms"`

	Congestion congestion.CongestionStats `json:"congestion"`

	SndWnd uint32 `json:"snd_wnd"`
	RcvWnd uint32 `json:"rcv_wnd"`
	RmtWnd uint32 `json:"rmt_wnd"`

	SndUna uint32 `json:"snd_una"`
	SndNxt uint32 `json:"snd_nxt"`
	RcvNxt uint32 `json:"rcv_nxt"`

	SndQueue int `json:"snd_queue"`
	SndBuf   int `json:"snd_buf"`
	RcvQueue int `json:"rcv_queue"`
	RcvBuf   int `json:"rcv_buf"`

	Dead bool `json:"dead"`
}

func timediff(later, earlier uint32) int32 {
	return congestion.TimeDiff(later, earlier)
}
