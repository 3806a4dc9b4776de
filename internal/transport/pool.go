// =============================================================================
// 文件: internal/transport/pool.go
// 描述: 拨号池 - 复用存活的流, 合并对同一地址的并发拨号
// =============================================================================
package transport

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Pool 按地址缓存拨号得到的流
type Pool struct {
	cfg *Config

	mu      sync.Mutex
	streams map[string]*Stream
	closed  bool

	dialGroup singleflight.Group
}

// NewPool 创建拨号池, cfg 为 nil 时使用默认配置
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Pool{
		cfg:     cfg,
		streams: make(map[string]*Stream),
	}
}

// Get 返回到 addr 的存活流, 不存在时拨号
// 并发调用同一地址只会拨号一次
func (p *Pool) Get(ctx context.Context, addr string) (*Stream, error) {
	if s, err := p.lookup(addr); s != nil || err != nil {
		return s, err
	}

	v, err, _ := p.dialGroup.Do(addr, func() (any, error) {
		if s, err := p.lookup(addr); s != nil || err != nil {
			return s, err
		}

		s, err := Dial(ctx, addr, p.cfg)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			s.Close()
			return nil, net.ErrClosed
		}
		p.streams[addr] = s
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stream), nil
}

// lookup 查找存活的流, 已结束的流会被移除
func (p *Pool) lookup(addr string) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, net.ErrClosed
	}
	s, ok := p.streams[addr]
	if !ok {
		return nil, nil
	}
	if s.Err() != nil {
		delete(p.streams, addr)
		go s.Close()
		return nil, nil
	}
	return s, nil
}

// Len 缓存的流数量
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Close 关闭全部流
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return net.ErrClosed
	}
	p.closed = true
	streams := p.streams
	p.streams = make(map[string]*Stream)
	p.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}
