// =============================================================================
// 文件: internal/kcp/kcb_input.go
// 描述: KCP ARQ 引擎 - 输入处理
// =============================================================================
package kcp

import (
	"fmt"
	"slices"

	"github.com/mrcgq/kcpstream/internal/congestion"
)

// Input 处理一个收到的数据报
//
// 数据报非法或会话 ID 不匹配时整个丢弃, 引擎状态不变.
// 对同一数据报重复调用是安全的: 重复的 PUSH 只会被再次确认.
func (k *Kcb) Input(data []byte) error {
	defer k.enter()()

	segs, err := ParseDatagram(data)
	if err != nil {
		k.stats.InErrors++
		return err
	}
	if len(segs) == 0 {
		k.stats.InErrors++
		return fmt.Errorf("%w: 空数据报", ErrMalformedSegment)
	}
	for i := range segs {
		if segs[i].Conv != k.conv {
			k.stats.InErrors++
			return fmt.Errorf("%w: 期望 %d, 收到 %d", ErrConvMismatch, k.conv, segs[i].Conv)
		}
	}

	k.stats.InDatagrams++
	k.stats.InBytes += uint64(len(data))

	prevUna := k.sndUna
	var maxAck, latestTs uint32
	ackSeen := false

	for i := range segs {
		seg := &segs[i]
		k.stats.InSegs++
		k.rmtWnd = uint32(seg.Wnd)

		// ACK 先于 una 处理, 否则被确认的段已被 una 移除, 无法判断是否重传过
		// 重放的 ACK 不参与快速重传计数
		if seg.Cmd == CmdAck && k.parseAck(seg.Sn, seg.Ts) {
			if !ackSeen || timediff(seg.Sn, maxAck) > 0 {
				ackSeen = true
				maxAck = seg.Sn
				latestTs = seg.Ts
			}
		}

		k.parseUna(seg.Una)
		k.shrinkBuf()

		switch seg.Cmd {
		case CmdPush:
			if timediff(seg.Sn, k.rcvNxt+k.rcvWnd) < 0 {
				k.ackList = append(k.ackList, ackItem{sn: seg.Sn, ts: seg.Ts})
				if timediff(seg.Sn, k.rcvNxt) >= 0 {
					k.parseData(seg)
				} else {
					k.stats.RepeatSegs++
				}
			}
		case CmdWask:
			k.probe |= askTell
		case CmdWins:
			// 对端窗口已在上面更新
		}
	}

	if ackSeen {
		k.parseFastack(maxAck, latestTs)
	}

	if !k.noCwnd && timediff(k.sndUna, prevUna) > 0 {
		k.window.OnAck(k.cwndLimit())
	}
	return nil
}

// parseAck 移除被确认的在途段, 返回是否有段被移除
// 仅对只传输过一次的段采样 RTT
func (k *Kcb) parseAck(sn, ts uint32) bool {
	if congestion.SeqLessThan(sn, k.sndUna) || !congestion.SeqLessThan(sn, k.sndNxt) {
		return false
	}
	for i := range k.sndBuf {
		seg := &k.sndBuf[i]
		if seg.Sn == sn {
			if seg.xmit == 1 {
				if rtt := timediff(k.current, ts); rtt >= 0 {
					k.rto.Update(rtt)
					k.stats.RTTSamples++
				}
			}
			k.sndBuf = slices.Delete(k.sndBuf, i, i+1)
			return true
		}
		if congestion.SeqLessThan(sn, seg.Sn) {
			return false
		}
	}
	return false
}

// parseUna 移除所有序号小于 una 的在途段
func (k *Kcb) parseUna(una uint32) {
	count := 0
	for i := range k.sndBuf {
		if timediff(una, k.sndBuf[i].Sn) <= 0 {
			break
		}
		count++
	}
	if count > 0 {
		k.sndBuf = removeFront(k.sndBuf, count)
	}
}

func (k *Kcb) shrinkBuf() {
	if len(k.sndBuf) > 0 {
		k.sndUna = k.sndBuf[0].Sn
	} else {
		k.sndUna = k.sndNxt
	}
}

// parseFastack 序号小于 maxAck 且早于其发送的段被跳过一次
func (k *Kcb) parseFastack(maxAck, ts uint32) {
	if timediff(maxAck, k.sndUna) < 0 || timediff(maxAck, k.sndNxt) >= 0 {
		return
	}
	for i := range k.sndBuf {
		seg := &k.sndBuf[i]
		if timediff(maxAck, seg.Sn) <= 0 {
			break
		}
		if timediff(ts, seg.Ts) >= 0 {
			seg.fastack++
		}
	}
}

// parseData 将 PUSH 段插入乱序缓冲并推进交付队列
func (k *Kcb) parseData(in *Segment) {
	sn := in.Sn
	if timediff(sn, k.rcvNxt+k.rcvWnd) >= 0 || timediff(sn, k.rcvNxt) < 0 {
		return
	}

	idx := 0
	for i := len(k.rcvBuf) - 1; i >= 0; i-- {
		cur := k.rcvBuf[i].Sn
		if cur == sn {
			k.stats.RepeatSegs++
			return
		}
		if timediff(sn, cur) > 0 {
			idx = i + 1
			break
		}
	}

	seg := segment{Segment: *in}
	seg.Data = append([]byte(nil), in.Data...)
	k.rcvBuf = slices.Insert(k.rcvBuf, idx, seg)

	k.moveRcvBuf()
}

// cwndLimit min(发送窗口, 对端窗口)
func (k *Kcb) cwndLimit() uint32 {
	return min(k.sndWnd, k.rmtWnd)
}
