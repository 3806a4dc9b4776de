// =============================================================================
// 文件: internal/transport/listener.go
// 描述: 监听端 - 按 (会话 ID, 对端) 分流, 未知会话交给 Accept
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"iter"
	"net"

	"github.com/mrcgq/kcpstream/internal/metrics"
)

// Listener UDP 监听端
type Listener struct {
	ep *endpoint
}

var _ net.Listener = (*Listener)(nil)

// Listen 在 addr 上监听, cfg 为 nil 时使用默认配置
func Listen(ctx context.Context, addr string, cfg *Config) (*Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.KCP.Validate(); err != nil {
		return nil, err
	}

	pc, err := (&net.ListenConfig{}).ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}

	ep := newEndpoint(pc, cfg, true)
	ep.start()
	ep.log.Info().
		Uint32("mtu", cfg.KCP.MTU).
		Uint32("snd_wnd", cfg.KCP.SendWindow).
		Uint32("rcv_wnd", cfg.KCP.RecvWindow).
		Bool("stream", cfg.KCP.StreamMode).
		Msg("KCP 监听已启动")
	return &Listener{ep: ep}, nil
}

// AcceptStream 等待下一个新会话
func (l *Listener) AcceptStream(ctx context.Context) (*Stream, error) {
	select {
	case s := <-l.ep.accept:
		return s, nil
	case <-l.ep.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept 实现 net.Listener
func (l *Listener) Accept() (net.Conn, error) {
	s, err := l.AcceptStream(context.Background())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Incoming 惰性迭代新会话, ctx 结束或监听关闭时停止
// 可以重复调用, 每次迭代从当前位置继续
func (l *Listener) Incoming(ctx context.Context) iter.Seq2[*Stream, net.Addr] {
	return func(yield func(*Stream, net.Addr) bool) {
		for {
			s, err := l.AcceptStream(ctx)
			if err != nil {
				return
			}
			if !yield(s, s.RemoteAddr()) {
				return
			}
		}
	}
}

// Addr 实际监听地址
func (l *Listener) Addr() net.Addr {
	return l.ep.conn.LocalAddr()
}

// Sessions 连接表快照, 实现 metrics.SessionSource
func (l *Listener) Sessions() []metrics.SessionInfo {
	return l.ep.Sessions()
}

// Close 关闭监听端及其全部会话
func (l *Listener) Close() error {
	return l.ep.close()
}
