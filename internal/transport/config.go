// =============================================================================
// 文件: internal/transport/config.go
// 描述: 传输层配置与错误
// =============================================================================
package transport

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/kcpstream/internal/kcp"
	"github.com/mrcgq/kcpstream/internal/metrics"
)

const (
	defaultAcceptBacklog = 128
	defaultSocketBuffer  = 4 * 1024 * 1024
	minSocketBuffer      = 256 * 1024
	defaultTombstoneTTL  = time.Minute

	maxDatagramSize = 65535
)

// 引擎错误在传输层的别名
var (
	ErrWouldBlock      = kcp.ErrWouldBlock
	ErrDeadLink        = kcp.ErrDeadLink
	ErrMessageTooLarge = kcp.ErrMessageTooLarge
)

// Config 传输层配置
type Config struct {
	// 引擎参数, 被动接受与主动拨号的会话共用
	KCP kcp.Config

	// 等待 Accept 的会话上限, 超出时新会话被丢弃
	AcceptBacklog int

	// socket 缓冲区, 0 表示保持系统默认
	ReadBuffer  int
	WriteBuffer int

	// 已移除会话的拒收时间, 0 关闭
	TombstoneTTL time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.KCPMetrics // 可为 nil
}

// DefaultConfig 默认配置
// 引擎参数: 128/128 窗口, 无延迟, 10ms 刷新, 2 次跳过快速重传, 关闭拥塞控制
func DefaultConfig() *Config {
	return &Config{
		KCP: kcp.Config{
			SendWindow:   128,
			RecvWindow:   128,
			MTU:          kcp.DefaultMTU,
			NoDelay:      true,
			Interval:     10,
			FastResend:   2,
			NoCongestion: true,
			DeadLink:     kcp.DefaultDeadLink,
		},
		AcceptBacklog: defaultAcceptBacklog,
		ReadBuffer:    defaultSocketBuffer,
		WriteBuffer:   defaultSocketBuffer,
		TombstoneTTL:  defaultTombstoneTTL,
		Logger:        zerolog.Nop(),
	}
}

func (c *Config) backlog() int {
	if c.AcceptBacklog <= 0 {
		return defaultAcceptBacklog
	}
	return c.AcceptBacklog
}
