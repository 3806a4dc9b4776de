// =============================================================================
// 文件: internal/transport/endpoint.go
// 描述: 端点 - socket 读循环、连接表与会话驱动
// =============================================================================
package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrcgq/kcpstream/internal/kcp"
	"github.com/mrcgq/kcpstream/internal/logging"
	"github.com/mrcgq/kcpstream/internal/metrics"
)

// sessionKey 连接表键
type sessionKey struct {
	conv uint32
	peer string
}

// sessionState 会话状态, 只在事件循环中读写
type sessionState int

const (
	stateActive sessionState = iota
	stateDead                // 断链, 已从连接表移除, 剩余数据仍可读取
	stateClosed              // 应用已关闭
)

func (s sessionState) String() string {
	switch s {
	case stateActive:
		return "active"
	case stateDead:
		return "dead"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session 连接表条目
type session struct {
	key    sessionKey
	out    *Output
	kcb    *kcp.Kcb
	timer  *interval
	state  sessionState
	stream *Stream
	last   kcp.Stats // 已上报给指标的统计
}

// endpoint 一个 UDP socket 及其上的全部会话
type endpoint struct {
	conn    net.PacketConn
	cfg     *Config
	log     zerolog.Logger
	metrics *metrics.KCPMetrics
	loop    *reactor

	sessions map[sessionKey]*session
	tombs    *tombstones
	accept   chan *Stream // 仅监听端, 拨号端为 nil

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newEndpoint(conn net.PacketConn, cfg *Config, listening bool) *endpoint {
	name := "dialer"
	if listening {
		name = "listener"
	}
	ep := &endpoint{
		conn:     conn,
		cfg:      cfg,
		log:      logging.Component(cfg.Logger, name).With().Str("local", conn.LocalAddr().String()).Logger(),
		metrics:  cfg.Metrics,
		loop:     newReactor(),
		sessions: make(map[sessionKey]*session),
		closed:   make(chan struct{}),
	}
	if listening {
		ep.accept = make(chan *Stream, cfg.backlog())
		ep.tombs = newTombstones(cfg.TombstoneTTL)
	}
	ep.setupBuffers()
	return ep
}

// start 启动事件循环与读循环
func (ep *endpoint) start() {
	ep.wg.Add(2)
	go func() {
		defer ep.wg.Done()
		ep.loop.run()
	}()
	go ep.readLoop()
}

// setupBuffers 设置 socket 缓冲区, 失败时逐级减半
func (ep *endpoint) setupBuffers() {
	type bufferSetter interface {
		SetReadBuffer(int) error
		SetWriteBuffer(int) error
	}
	bs, ok := ep.conn.(bufferSetter)
	if !ok {
		return
	}

	apply := func(name string, want int, set func(int) error) {
		if want <= 0 {
			return
		}
		for size := want; size >= minSocketBuffer; size /= 2 {
			if err := set(size); err == nil {
				if size != want {
					ep.log.Info().Int("size", size).Msgf("%s缓冲区降级设置", name)
				}
				return
			}
		}
		ep.log.Warn().Int("want", want).Msgf("%s缓冲区设置失败, 使用系统默认", name)
	}
	apply("读", ep.cfg.ReadBuffer, bs.SetReadBuffer)
	apply("写", ep.cfg.WriteBuffer, bs.SetWriteBuffer)
}

// readLoop 读取循环, 按 socket 顺序投递到事件循环
func (ep *endpoint) readLoop() {
	defer ep.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := ep.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ep.closed:
				return
			default:
			}
			ep.log.Debug().Err(err).Msg("读取数据报失败")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if !ep.loop.post(func() { ep.handleDatagram(data, addr) }) {
			return
		}
	}
}

// =============================================================================
// 以下方法只在事件循环中调用
// =============================================================================

// handleDatagram 分发一个入站数据报
func (ep *endpoint) handleDatagram(data []byte, addr net.Addr) {
	conv, ok := kcp.PeekConv(data)
	if !ok {
		ep.metrics.Drop(metrics.DropMalformed)
		return
	}
	key := sessionKey{conv: conv, peer: addr.String()}

	if s, ok := ep.sessions[key]; ok {
		if err := s.kcb.Input(data); err != nil {
			ep.log.Debug().Err(err).Uint32("conv", conv).Str("peer", key.peer).Msg("丢弃数据报")
		}
		ep.update(s)
		ep.settle(s)
		return
	}

	if ep.accept == nil {
		ep.metrics.Drop(metrics.DropUnknownPeer)
		return
	}
	if ep.tombs.contains(key) {
		ep.metrics.Drop(metrics.DropTombstone)
		return
	}

	s, err := ep.newSession(conv, addr)
	if err != nil {
		ep.log.Error().Err(err).Msg("创建会话失败")
		return
	}
	// 首个数据报非法时不登记会话
	if err := s.kcb.Input(data); err != nil {
		s.timer.stop()
		ep.metrics.Drop(metrics.DropMalformed)
		ep.log.Debug().Err(err).Uint32("conv", conv).Str("peer", key.peer).Msg("首个数据报非法")
		return
	}
	select {
	case ep.accept <- s.stream:
	default:
		s.timer.stop()
		ep.metrics.Drop(metrics.DropBacklogFull)
		ep.log.Warn().Uint32("conv", conv).Str("peer", key.peer).Msg("accept 队列已满, 丢弃新会话")
		return
	}

	ep.register(s, metrics.KindAccepted)
	ep.update(s)
	ep.settle(s)
}

// newSession 创建会话但不登记
func (ep *endpoint) newSession(conv uint32, peer net.Addr) (*session, error) {
	out := NewOutput(ep.conn, peer)
	kcb, err := kcp.New(conv, out, ep.cfg.KCP)
	if err != nil {
		return nil, err
	}
	s := &session{
		key: sessionKey{conv: conv, peer: peer.String()},
		out: out,
		kcb: kcb,
	}
	s.timer = newInterval(func() {
		ep.loop.post(func() { ep.drive(s) })
	})
	s.stream = newStream(ep, s)
	return s, nil
}

// register 登记到连接表
func (ep *endpoint) register(s *session, kind string) {
	ep.sessions[s.key] = s
	ep.metrics.SessionOpened(kind)
	ep.log.Debug().
		Uint32("conv", s.key.conv).
		Str("peer", s.key.peer).
		Str("kind", kind).
		Msg("会话建立")
}

// drive 定时器到期
func (ep *endpoint) drive(s *session) {
	if s.state != stateActive {
		return
	}
	ep.update(s)
	ep.settle(s)
}

// update 推进引擎时钟, 输出错误不影响会话
func (ep *endpoint) update(s *session) {
	if err := s.kcb.Update(ep.loop.now()); err != nil {
		ep.log.Debug().Err(err).Uint32("conv", s.key.conv).Msg("刷新输出失败")
	}
}

// settle 每次引擎变更后调用: 上报统计、处理断链、重新布置定时器、通知就绪
func (ep *endpoint) settle(s *session) {
	cur := s.kcb.Stats()
	ep.metrics.Observe(cur.Sub(s.last))
	s.last = cur

	if s.state == stateActive {
		if s.kcb.IsDead() {
			ep.reap(s, stateDead, ErrDeadLink)
		} else {
			s.timer.reset(s.kcb.Check(ep.loop.now()))
		}
	}
	s.stream.notify(s.kcb.PeekSize() >= 0, s.kcb.CanSend())
}

// reap 从连接表移除会话, 停止驱动
func (ep *endpoint) reap(s *session, state sessionState, cause error) {
	if s.state != stateActive {
		if state == stateClosed {
			s.state = stateClosed
		}
		return
	}
	s.state = state
	s.timer.stop()
	delete(ep.sessions, s.key)
	ep.tombs.add(s.key)

	reason := metrics.ReasonClosed
	if state == stateDead {
		reason = metrics.ReasonDeadLink
	}
	ep.metrics.SessionClosed(reason)
	ep.log.Debug().
		Uint32("conv", s.key.conv).
		Str("peer", s.key.peer).
		Str("state", state.String()).
		Msg("会话移除")

	s.stream.terminate(cause)
}

// snapshot 读取所有会话状态
func (ep *endpoint) snapshot() []metrics.SessionInfo {
	out := make([]metrics.SessionInfo, 0, len(ep.sessions))
	for _, s := range ep.sessions {
		out = append(out, metrics.SessionInfo{Peer: s.key.peer, Info: s.kcb.Info()})
	}
	return out
}

// =============================================================================
// 对外
// =============================================================================

// Sessions 通过事件循环读取会话快照
func (ep *endpoint) Sessions() []metrics.SessionInfo {
	var out []metrics.SessionInfo
	if err := ep.loop.exec(func() { out = ep.snapshot() }); err != nil {
		return nil
	}
	return out
}

// close 关闭所有会话与 socket, 重复调用返回 net.ErrClosed
func (ep *endpoint) close() error {
	err := net.ErrClosed
	ep.closeOnce.Do(func() {
		err = nil
		ep.loop.exec(func() {
			for _, s := range ep.sessions {
				ep.reap(s, stateClosed, net.ErrClosed)
			}
			ep.loop.quit()
		})
		close(ep.closed)
		if cerr := ep.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		ep.wg.Wait()
		ep.log.Debug().Msg("端点已关闭")
	})
	return err
}
