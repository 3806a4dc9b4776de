// =============================================================================
// 文件: internal/kcp/kcb.go
// 描述: KCP ARQ 引擎 - 控制块与收发接口
// =============================================================================
package kcp

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/mrcgq/kcpstream/internal/congestion"
)

// segment 引擎内部段, 附带重传状态
type segment struct {
	Segment
	resendts uint32 // 下次超时重传时间
	rto      uint32
	fastack  uint32 // 被更高序号 ACK 跳过的次数
	xmit     uint32 // 传输次数
}

type ackItem struct {
	sn uint32
	ts uint32
}

// Kcb KCP 控制块
//
// Kcb 本身不做任何并发保护, 调用方必须串行访问.
// 重入调用 (例如在输出回调中再次调用引擎) 会直接 panic.
type Kcb struct {
	conv uint32
	mtu  uint32
	mss  uint32
	dead bool

	sndUna uint32
	sndNxt uint32
	rcvNxt uint32

	sndWnd uint32
	rcvWnd uint32
	rmtWnd uint32

	current  uint32
	interval uint32
	tsFlush  uint32
	updated  bool

	tsProbe   uint32
	probeWait uint32
	probe     uint32

	deadLink   uint32
	fastResend uint32
	nodelay    bool
	noCwnd     bool
	stream     bool

	rto    *congestion.RTOEstimator
	window *congestion.Window

	sndQueue []segment
	sndBuf   []segment
	rcvQueue []segment
	rcvBuf   []segment
	ackList  []ackItem

	buffer []byte
	output io.Writer
	outErr error

	stats Stats
	busy  atomic.Bool
}

// New 创建控制块
// output 用于发出编码后的数据报, 不得持有传入的切片
func New(conv uint32, output io.Writer, cfg Config) (*Kcb, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kcb{
		conv:     conv,
		sndWnd:   cfg.SendWindow,
		rcvWnd:   cfg.RecvWindow,
		rmtWnd:   DefaultRcvWnd,
		interval: DefaultInterval,
		deadLink: cfg.DeadLink,
		output:   output,
		rto:      congestion.NewRTOEstimator(congestion.RTOMin, DefaultInterval),
	}
	k.setMTU(cfg.MTU)
	k.window = congestion.NewWindow(k.mss)
	k.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.FastResend, cfg.NoCongestion)
	k.stream = cfg.StreamMode
	return k, nil
}

// enter 断言独占进入, 返回退出函数
func (k *Kcb) enter() func() {
	if !k.busy.CompareAndSwap(false, true) {
		panic("kcp: 检测到重入调用")
	}
	return k.leave
}

func (k *Kcb) leave() {
	k.busy.Store(false)
}

// =============================================================================
// 参数设置
// =============================================================================

// SetNoDelay 设置无延迟参数
// interval 会被限制在 [MinInterval, MaxInterval]
func (k *Kcb) SetNoDelay(nodelay bool, interval, resend uint32, nc bool) {
	defer k.enter()()

	k.nodelay = nodelay
	if nodelay {
		k.rto.SetMinRTO(congestion.RTONoDelayMin)
	} else {
		k.rto.SetMinRTO(congestion.RTOMin)
	}
	if interval > 0 {
		k.interval = max(MinInterval, min(interval, MaxInterval))
		k.rto.SetInterval(k.interval)
	}
	k.fastResend = resend
	k.noCwnd = nc
}

func (k *Kcb) setMTU(mtu uint32) {
	k.mtu = mtu
	k.mss = mtu - Overhead
	k.buffer = make([]byte, 0, mtu)
}

// =============================================================================
// 查询
// =============================================================================

// Conv 会话 ID
func (k *Kcb) Conv() uint32 { return k.conv }

// Interval 刷新间隔
func (k *Kcb) Interval() uint32 { return k.interval }

// IsDead 链路是否已判定断开
func (k *Kcb) IsDead() bool { return k.dead }

// WaitSnd 等待发送与在途的段数
func (k *Kcb) WaitSnd() int {
	return len(k.sndQueue) + len(k.sndBuf)
}

// CanSend 发送窗口是否还有空间
func (k *Kcb) CanSend() bool {
	return !k.dead && k.WaitSnd() < int(k.sndWnd)
}

// PeekSize 下一条完整消息的长度, 没有时返回 -1
func (k *Kcb) PeekSize() int {
	if len(k.rcvQueue) == 0 {
		return -1
	}
	if k.stream {
		n := 0
		for i := range k.rcvQueue {
			n += len(k.rcvQueue[i].Data)
		}
		return n
	}

	head := &k.rcvQueue[0]
	if head.Frg == 0 {
		return len(head.Data)
	}
	if len(k.rcvQueue) < int(head.Frg)+1 {
		return -1
	}
	n := 0
	for i := range k.rcvQueue {
		seg := &k.rcvQueue[i]
		n += len(seg.Data)
		if seg.Frg == 0 {
			break
		}
	}
	return n
}

// Stats 累计统计
func (k *Kcb) Stats() Stats { return k.stats }

// Info 状态快照
func (k *Kcb) Info() Info {
	return Info{
		Conv:            k.conv,
		SRTT:       k.rto.SRTT(),
		RTTVar:     k.rto.RTTVar(),
		RTO:        k.rto.RTO(),
		LatestRTT:  k.rto.LatestRTT(),
		MinRTO:     k.rto.MinRTO(),
		Congestion: *k.window.Stats(),
		SndWnd:     k.sndWnd,
		RcvWnd:     k.rcvWnd,
		RmtWnd:     k.rmtWnd,
		SndUna:     k.sndUna,
		SndNxt:     k.sndNxt,
		RcvNxt:     k.rcvNxt,
		SndQueue:   len(k.sndQueue),
		SndBuf:     len(k.sndBuf),
		RcvQueue:   len(k.rcvQueue),
		RcvBuf:     len(k.rcvBuf),
		Dead:       k.dead,
	}
}

// =============================================================================
// 发送
// =============================================================================

// Send 将一条消息放入发送队列, 不触发实际发送
//
// 消息模式下整条消息要么全部接受, 要么返回 ErrWouldBlock;
// 流模式下尽可能多地接受, 返回接受的字节数.
func (k *Kcb) Send(data []byte) (int, error) {
	defer k.enter()()

	if k.dead {
		return 0, ErrDeadLink
	}
	if len(data) == 0 {
		return 0, nil
	}
	if k.stream {
		return k.sendStream(data)
	}

	mss := int(k.mss)
	count := (len(data) + mss - 1) / mss
	// 接收端只有全部分片进入交付队列才能重组, 队列长度受接收窗口限制
	if count > maxFragments || count > int(min(k.sndWnd, k.rcvWnd)) {
		return 0, fmt.Errorf("%w: %d 字节需要 %d 个分片", ErrMessageTooLarge, len(data), count)
	}
	if k.WaitSnd()+count > int(k.sndWnd) {
		return 0, ErrWouldBlock
	}

	n := len(data)
	for i := 0; i < count; i++ {
		size := min(len(data), mss)
		seg := k.newSegment(data[:size])
		seg.Frg = uint8(count - i - 1)
		k.sndQueue = append(k.sndQueue, seg)
		data = data[size:]
	}
	return n, nil
}

func (k *Kcb) sendStream(data []byte) (int, error) {
	mss := int(k.mss)
	n := 0

	// 先填满队尾未满的段
	if l := len(k.sndQueue); l > 0 {
		tail := &k.sndQueue[l-1]
		if room := mss - len(tail.Data); room > 0 {
			m := min(room, len(data))
			tail.Data = append(tail.Data, data[:m]...)
			n += m
			data = data[m:]
		}
	}

	for len(data) > 0 && k.WaitSnd() < int(k.sndWnd) {
		size := min(len(data), mss)
		k.sndQueue = append(k.sndQueue, k.newSegment(data[:size]))
		n += size
		data = data[size:]
	}

	if n == 0 {
		return 0, ErrWouldBlock
	}
	return n, nil
}

func (k *Kcb) newSegment(data []byte) segment {
	capacity := len(data)
	if k.stream {
		capacity = int(k.mss)
	}
	buf := make([]byte, len(data), capacity)
	copy(buf, data)
	return segment{Segment: Segment{Data: buf}}
}

// =============================================================================
// 接收
// =============================================================================

// Recv 读取一条完整消息
//
// 没有完整消息时返回 ErrWouldBlock; buf 放不下时返回 io.ErrShortBuffer,
// 消息保留在队列中. 流模式下按字节读取, 不保留边界.
func (k *Kcb) Recv(buf []byte) (int, error) {
	defer k.enter()()

	size := k.PeekSize()
	if size < 0 {
		if k.dead {
			return 0, ErrDeadLink
		}
		return 0, ErrWouldBlock
	}

	recovering := len(k.rcvQueue) >= int(k.rcvWnd)

	var n int
	if k.stream {
		n = k.recvStream(buf)
	} else {
		if size > len(buf) {
			return 0, fmt.Errorf("%w: 消息长度 %d, 缓冲区 %d", io.ErrShortBuffer, size, len(buf))
		}
		count := 0
		for i := range k.rcvQueue {
			seg := &k.rcvQueue[i]
			n += copy(buf[n:], seg.Data)
			count++
			if seg.Frg == 0 {
				break
			}
		}
		k.rcvQueue = removeFront(k.rcvQueue, count)
	}

	k.moveRcvBuf()

	// 接收窗口从满恢复, 主动通告
	if recovering && len(k.rcvQueue) < int(k.rcvWnd) {
		k.probe |= askTell
	}
	return n, nil
}

func (k *Kcb) recvStream(buf []byte) int {
	n, count := 0, 0
	for i := range k.rcvQueue {
		seg := &k.rcvQueue[i]
		c := copy(buf[n:], seg.Data)
		n += c
		if c < len(seg.Data) {
			seg.Data = seg.Data[c:]
			break
		}
		count++
		if n == len(buf) {
			break
		}
	}
	k.rcvQueue = removeFront(k.rcvQueue, count)
	return n
}

// moveRcvBuf 将连续的段从乱序缓冲移入交付队列
func (k *Kcb) moveRcvBuf() {
	count := 0
	for i := range k.rcvBuf {
		seg := &k.rcvBuf[i]
		if seg.Sn != k.rcvNxt || len(k.rcvQueue)+count >= int(k.rcvWnd) {
			break
		}
		k.rcvNxt++
		count++
	}
	if count > 0 {
		k.rcvQueue = append(k.rcvQueue, k.rcvBuf[:count]...)
		k.rcvBuf = removeFront(k.rcvBuf, count)
	}
}

func (k *Kcb) wndUnused() uint16 {
	if n := len(k.rcvQueue); n < int(k.rcvWnd) {
		return uint16(min(int(k.rcvWnd)-n, 0xffff))
	}
	return 0
}

func removeFront(q []segment, n int) []segment {
	m := copy(q, q[n:])
	clear(q[m:])
	return q[:m]
}
