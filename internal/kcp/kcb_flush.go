// =============================================================================
// 文件: internal/kcp/kcb_flush.go
// 描述: KCP ARQ 引擎 - 时钟驱动与发送
// =============================================================================
package kcp

import (
	"fmt"
	"math"
)

// Update 推进时钟
// 首次调用或距上次刷新满一个 interval 时执行 flush
func (k *Kcb) Update(now uint32) error {
	defer k.enter()()

	k.current = now
	if !k.updated {
		k.updated = true
		k.tsFlush = now
	}

	slap := timediff(now, k.tsFlush)
	if slap >= 10000 || slap < -10000 {
		k.tsFlush = now
		slap = 0
	}
	if slap < 0 {
		return nil
	}

	k.tsFlush += k.interval
	if timediff(now, k.tsFlush) >= 0 {
		k.tsFlush = now + k.interval
	}
	return k.flush()
}

// Check 距离下一次需要调用 Update 的毫秒数, 0 表示立即
//
// 结果不超过 interval. 已到期的重传在下一次刷新时处理,
// 因此只有刷新时间本身到期才返回 0.
func (k *Kcb) Check(now uint32) uint32 {
	defer k.enter()()

	if !k.updated {
		return 0
	}

	tsFlush := k.tsFlush
	if d := timediff(now, tsFlush); d >= 10000 || d < -10000 {
		tsFlush = now
	}
	if timediff(now, tsFlush) >= 0 {
		return 0
	}

	tmFlush := uint32(timediff(tsFlush, now))
	tmPacket := uint32(math.MaxUint32)
	for i := range k.sndBuf {
		diff := timediff(k.sndBuf[i].resendts, now)
		if diff > 0 && uint32(diff) < tmPacket {
			tmPacket = uint32(diff)
		}
	}

	return min(tmPacket, tmFlush, k.interval)
}

// Flush 立即发送待确认 ACK、窗口探测以及可发送的数据段
//
// 输出错误不影响引擎状态, 数据段留在在途缓冲中等待重传;
// 返回本次刷新遇到的第一个输出错误.
func (k *Kcb) Flush() error {
	defer k.enter()()
	return k.flush()
}

func (k *Kcb) flush() error {
	if !k.updated {
		return nil
	}

	current := k.current
	wnd := k.wndUnused()

	// ACK
	ctrl := Segment{Conv: k.conv, Cmd: CmdAck, Wnd: wnd, Una: k.rcvNxt}
	for _, a := range k.ackList {
		ctrl.Sn, ctrl.Ts = a.sn, a.ts
		k.emit(&ctrl)
	}
	k.ackList = k.ackList[:0]

	// 对端窗口为 0 时定期探测
	if k.rmtWnd == 0 {
		if k.probeWait == 0 {
			k.probeWait = probeInit
			k.tsProbe = current + k.probeWait
		} else if timediff(current, k.tsProbe) >= 0 {
			if k.probeWait < probeInit {
				k.probeWait = probeInit
			}
			k.probeWait += k.probeWait / 2
			if k.probeWait > probeLimit {
				k.probeWait = probeLimit
			}
			k.tsProbe = current + k.probeWait
			k.probe |= askSend
		}
	} else {
		k.tsProbe = 0
		k.probeWait = 0
	}

	ctrl.Sn, ctrl.Ts = 0, 0
	if k.probe&askSend != 0 {
		ctrl.Cmd = CmdWask
		k.emit(&ctrl)
	}
	if k.probe&askTell != 0 {
		ctrl.Cmd = CmdWins
		k.emit(&ctrl)
	}
	k.probe = 0

	// 有效窗口
	cwnd := k.cwndLimit()
	if !k.noCwnd {
		cwnd = min(k.window.Cwnd(), cwnd)
	}

	// 发送队列 -> 在途缓冲
	moved := 0
	for moved < len(k.sndQueue) && timediff(k.sndNxt, k.sndUna+cwnd) < 0 {
		seg := k.sndQueue[moved]
		seg.Conv = k.conv
		seg.Cmd = CmdPush
		seg.Sn = k.sndNxt
		seg.resendts = current
		seg.rto = k.rto.RTO()
		k.sndBuf = append(k.sndBuf, seg)
		k.sndNxt++
		moved++
	}
	if moved > 0 {
		k.sndQueue = removeFront(k.sndQueue, moved)
	}

	resent := k.fastResend
	if resent == 0 {
		resent = math.MaxUint32
	}
	var rtomin uint32
	if !k.nodelay {
		rtomin = k.rto.RTO() >> 3
	}

	fastRetrans := 0
	lost := false
	for i := range k.sndBuf {
		seg := &k.sndBuf[i]
		needsend := false

		switch {
		case seg.xmit == 0:
			needsend = true
			seg.rto = k.rto.RTO()
			seg.resendts = current + seg.rto + rtomin
		case timediff(current, seg.resendts) >= 0:
			needsend = true
			seg.rto = k.rto.Backoff(seg.rto, k.nodelay)
			seg.resendts = current + seg.rto
			lost = true
			k.stats.TimeoutRetransmits++
		case seg.fastack >= resent:
			needsend = true
			seg.fastack = 0
			seg.resendts = current + seg.rto
			fastRetrans++
			k.stats.FastRetransmits++
		}

		if !needsend {
			continue
		}
		seg.xmit++
		seg.Ts = current
		seg.Wnd = wnd
		seg.Una = k.rcvNxt
		k.emit(&seg.Segment)

		if seg.xmit >= k.deadLink {
			k.dead = true
		}
	}
	k.flushBuffer()

	if !k.noCwnd {
		if fastRetrans > 0 {
			k.window.OnFastRetransmit(k.sndNxt-k.sndUna, resent, k.cwndLimit())
		}
		if lost {
			k.window.OnTimeout(cwnd)
		}
	}

	err := k.outErr
	k.outErr = nil
	if err != nil {
		return fmt.Errorf("kcp: 输出数据报失败: %w", err)
	}
	return nil
}

// emit 将段追加到发送缓冲, 超过 MTU 时先输出已有内容
func (k *Kcb) emit(seg *Segment) {
	if len(k.buffer)+seg.Size() > int(k.mtu) {
		k.flushBuffer()
	}
	k.buffer = seg.AppendTo(k.buffer)
	k.stats.OutSegs++
}

func (k *Kcb) flushBuffer() {
	if len(k.buffer) == 0 {
		return
	}
	if _, err := k.output.Write(k.buffer); err != nil {
		k.stats.OutErrors++
		if k.outErr == nil {
			k.outErr = err
		}
	} else {
		k.stats.OutDatagrams++
		k.stats.OutBytes += uint64(len(k.buffer))
	}
	k.buffer = k.buffer[:0]
}
