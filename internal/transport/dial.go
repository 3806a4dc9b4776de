// =============================================================================
// 文件: internal/transport/dial.go
// 描述: 拨号端 - 独立 socket 与事件循环, 随机会话 ID
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"

	"github.com/mrcgq/kcpstream/internal/metrics"
)

// Dial 建立到 addr 的流
//
// 协议没有握手, Dial 只在本地建立会话; 对端在收到首个数据报时才创建会话.
// 返回的 Stream 独占一个 socket, Close 时一并释放.
func Dial(ctx context.Context, addr string, cfg *Config) (*Stream, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.KCP.Validate(); err != nil {
		return nil, err
	}

	raddr, err := resolve(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("解析地址失败: %w", err)
	}

	network := "udp6"
	if raddr.IP.To4() != nil {
		network = "udp4"
	}
	pc, err := (&net.ListenConfig{}).ListenPacket(ctx, network, ":0")
	if err != nil {
		return nil, fmt.Errorf("绑定本地端口失败: %w", err)
	}

	ep := newEndpoint(pc, cfg, false)
	ep.start()

	var (
		stream *Stream
		serr   error
	)
	if err := ep.loop.exec(func() {
		s, err := ep.newSession(randomConv(), raddr)
		if err != nil {
			serr = err
			return
		}
		s.stream.owned = true
		ep.register(s, metrics.KindDialed)
		ep.update(s)
		ep.settle(s)
		stream = s.stream
	}); err != nil {
		serr = err
	}
	if serr != nil {
		ep.close()
		return nil, serr
	}
	return stream, nil
}

// randomConv 非零随机会话 ID
func randomConv() uint32 {
	for {
		if conv := rand.Uint32(); conv != 0 {
			return conv
		}
	}
}

// resolve 解析对端地址, 优先 IPv4
func resolve(ctx context.Context, addr string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if host == "" {
		host = "localhost"
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "udp", portStr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%s 没有可用地址", host)
	}

	ip := ips[0].Unmap()
	for _, candidate := range ips {
		if candidate.Unmap().Is4() {
			ip = candidate.Unmap()
			break
		}
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(port))), nil
}
