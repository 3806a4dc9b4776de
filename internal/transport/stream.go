// =============================================================================
// 文件: internal/transport/stream.go
// 描述: 流适配器 - 非阻塞收发、就绪通知与 net.Conn 实现
// =============================================================================
package transport

import (
	"errors"
	"net"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/kcpstream/internal/kcp"
)

// Stream 单个 (对端, 会话 ID) 上的可靠流
//
// 所有引擎操作都被投递到端点的事件循环执行, Stream 可以被多个 goroutine 使用.
// 消息模式下每次 Write 是一条消息, 每次 Read 返回一条完整消息.
type Stream struct {
	ep    *endpoint
	sess  *session // 只在事件循环中访问
	owned bool     // 拨号创建, Close 时一并关闭端点

	conv   uint32
	remote net.Addr

	readable atomic.Bool
	writable atomic.Bool
	readCh   chan struct{}
	writeCh  chan struct{}

	done     chan struct{} // 会话离开连接表时关闭
	doneOnce sync.Once
	mu       sync.Mutex
	err      error

	closed atomic.Bool

	rdl deadline
	wdl deadline
}

var _ net.Conn = (*Stream)(nil)

func newStream(ep *endpoint, s *session) *Stream {
	return &Stream{
		ep:      ep,
		sess:    s,
		conv:    s.key.conv,
		remote:  s.out.Peer(),
		readCh:  make(chan struct{}, 1),
		writeCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		rdl:     makeDeadline(),
		wdl:     makeDeadline(),
	}
}

// notify 更新就绪状态, 由事件循环调用
func (s *Stream) notify(readable, writable bool) {
	s.readable.Store(readable)
	s.writable.Store(writable)
	if readable {
		raise(s.readCh)
	}
	if writable {
		raise(s.writeCh)
	}
}

// terminate 会话结束, 由事件循环调用
func (s *Stream) terminate(cause error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.done)
	})
}

func raise(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// =============================================================================
// 非阻塞接口
// =============================================================================

// TryRead 读取一条消息, 没有数据时返回 ErrWouldBlock
func (s *Stream) TryRead(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	var (
		n   int
		err error
	)
	if xerr := s.ep.loop.exec(func() {
		if s.sess.state == stateClosed {
			err = net.ErrClosed
			return
		}
		n, err = s.sess.kcb.Recv(b)
		switch {
		case err == nil:
			// 接收窗口变化可能需要立即通告
			s.ep.settle(s.sess)
		case errors.Is(err, ErrWouldBlock):
			s.readable.Store(false)
		}
	}); xerr != nil {
		return 0, xerr
	}
	return n, err
}

// TryWrite 写入一条消息并立即发送, 发送窗口满时返回 ErrWouldBlock
// 流模式下可能只接受部分数据
func (s *Stream) TryWrite(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	var (
		n   int
		err error
	)
	if xerr := s.ep.loop.exec(func() {
		if s.sess.state == stateClosed {
			err = net.ErrClosed
			return
		}
		n, err = s.sess.kcb.Send(b)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				s.writable.Store(false)
			}
			return
		}
		s.ep.update(s.sess)
		if ferr := s.sess.kcb.Flush(); ferr != nil {
			s.ep.log.Debug().Err(ferr).Uint32("conv", s.conv).Msg("立即发送失败, 等待重传")
		}
		s.ep.settle(s.sess)
	}); xerr != nil {
		return 0, xerr
	}
	return n, err
}

// Readable 是否有完整消息可读 (或会话已结束)
func (s *Stream) Readable() bool {
	return s.readable.Load() || isClosedChan(s.done)
}

// Writable 发送窗口是否有空间 (或会话已结束)
func (s *Stream) Writable() bool {
	return s.writable.Load() || isClosedChan(s.done)
}

// ReadReady 可读通知, 容量为 1, 通知可能是陈旧的
func (s *Stream) ReadReady() <-chan struct{} { return s.readCh }

// WriteReady 可写通知, 容量为 1, 通知可能是陈旧的
func (s *Stream) WriteReady() <-chan struct{} { return s.writeCh }

// Done 会话离开连接表 (断链或关闭) 时关闭
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err 会话结束原因, 仍然活跃时返回 nil
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// =============================================================================
// 阻塞接口
// =============================================================================

// Read 阻塞读取一条消息, 遵守读截止时间
func (s *Stream) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		if isClosedChan(s.rdl.wait()) {
			return 0, os.ErrDeadlineExceeded
		}
		n, err := s.TryRead(b)
		if !errors.Is(err, ErrWouldBlock) {
			return n, err
		}
		select {
		case <-s.readCh:
		case <-s.done:
			// 断链后仍可读出已到达的数据, 再读一次得到最终错误
			n, err := s.TryRead(b)
			if errors.Is(err, ErrWouldBlock) {
				return 0, s.Err()
			}
			return n, err
		case <-s.rdl.wait():
			return 0, os.ErrDeadlineExceeded
		}
	}
}

// Write 阻塞写入, 遵守写截止时间
// 消息模式下 b 作为一条消息; 流模式下写完全部数据才返回
func (s *Stream) Write(b []byte) (int, error) {
	written := 0
	for {
		if isClosedChan(s.wdl.wait()) {
			return written, os.ErrDeadlineExceeded
		}
		n, err := s.TryWrite(b[written:])
		written += n
		switch {
		case err == nil && written == len(b):
			return written, nil
		case err != nil && !errors.Is(err, ErrWouldBlock):
			return written, err
		}
		select {
		case <-s.writeCh:
		case <-s.done:
			return written, s.Err()
		case <-s.wdl.wait():
			return written, os.ErrDeadlineExceeded
		}
	}
}

// ReadBuffers 读取一条消息并分散到多个缓冲区
func (s *Stream) ReadBuffers(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	if len(bufs) == 1 {
		return s.Read(bufs[0])
	}
	tmp := make([]byte, total)
	n, err := s.Read(tmp)
	rest := tmp[:n]
	for _, b := range bufs {
		if len(rest) == 0 {
			break
		}
		rest = rest[copy(b, rest):]
	}
	return n, err
}

// WriteBuffers 将多个缓冲区合并为一条消息写入
func (s *Stream) WriteBuffers(bufs [][]byte) (int, error) {
	if len(bufs) == 1 {
		return s.Write(bufs[0])
	}
	return s.Write(slices.Concat(bufs...))
}

// =============================================================================
// net.Conn
// =============================================================================

// Close 移除会话并停止驱动, 未发送的数据被丢弃
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	s.ep.loop.exec(func() {
		s.ep.reap(s.sess, stateClosed, net.ErrClosed)
	})
	s.terminate(net.ErrClosed)
	if s.owned {
		s.ep.close()
	}
	return nil
}

// LocalAddr 本地地址
func (s *Stream) LocalAddr() net.Addr { return s.ep.conn.LocalAddr() }

// RemoteAddr 对端地址
func (s *Stream) RemoteAddr() net.Addr { return s.remote }

// SetDeadline 同时设置读写截止时间
func (s *Stream) SetDeadline(t time.Time) error {
	s.rdl.set(t)
	s.wdl.set(t)
	return nil
}

// SetReadDeadline 设置读截止时间
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.rdl.set(t)
	return nil
}

// SetWriteDeadline 设置写截止时间
func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.wdl.set(t)
	return nil
}

// =============================================================================
// 状态
// =============================================================================

// Conv 会话 ID
func (s *Stream) Conv() uint32 { return s.conv }

// Info 引擎状态快照
func (s *Stream) Info() (kcp.Info, error) {
	var info kcp.Info
	err := s.ep.loop.exec(func() { info = s.sess.kcb.Info() })
	return info, err
}

// Stats 引擎累计统计
func (s *Stream) Stats() (kcp.Stats, error) {
	var st kcp.Stats
	err := s.ep.loop.exec(func() { st = s.sess.kcb.Stats() })
	return st, err
}
