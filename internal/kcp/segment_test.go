// =============================================================================
// 文件: internal/kcp/segment_test.go
// 描述: KCP 段编解码测试
// =============================================================================
package kcp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestSegmentEncode(t *testing.T) {
	seg := Segment{
		Conv: 0x01020304,
		Cmd:  CmdPush,
		Frg:  2,
		Wnd:  0x0506,
		Ts:   0x0708090a,
		Sn:   0x0b0c0d0e,
		Una:  0x0f101112,
		Data: []byte("hello"),
	}
	b := seg.Encode()

	if len(b) != Overhead+5 {
		t.Fatalf("编码长度错误: %d", len(b))
	}

	t.Run("小端序头部", func(t *testing.T) {
		want := []byte{
			0x04, 0x03, 0x02, 0x01, // conv
			CmdPush, 2, // cmd frg
			0x06, 0x05, // wnd
			0x0a, 0x09, 0x08, 0x07, // ts
			0x0e, 0x0d, 0x0c, 0x0b, // sn
			0x12, 0x11, 0x10, 0x0f, // una
			5, 0, 0, 0, // len
		}
		if !bytes.Equal(b[:Overhead], want) {
			t.Errorf("头部不匹配:\n got  %x\n want %x", b[:Overhead], want)
		}
		if string(b[Overhead:]) != "hello" {
			t.Errorf("负载不匹配: %q", b[Overhead:])
		}
	})

	t.Run("解码", func(t *testing.T) {
		got, n, err := DecodeSegment(b)
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		if n != len(b) {
			t.Errorf("消耗字节数错误: %d", n)
		}
		if got.Conv != seg.Conv || got.Cmd != seg.Cmd || got.Frg != seg.Frg ||
			got.Wnd != seg.Wnd || got.Ts != seg.Ts || got.Sn != seg.Sn || got.Una != seg.Una {
			t.Errorf("头部字段不匹配: %+v", got)
		}
		if !bytes.Equal(got.Data, seg.Data) {
			t.Errorf("负载不匹配: %q", got.Data)
		}
	})
}

func TestParseDatagram(t *testing.T) {
	ack := Segment{Conv: 7, Cmd: CmdAck, Sn: 3, Ts: 100}
	push := Segment{Conv: 7, Cmd: CmdPush, Sn: 4, Data: []byte{1, 2, 3}}
	wask := Segment{Conv: 7, Cmd: CmdWask}

	var dgram []byte
	dgram = ack.AppendTo(dgram)
	dgram = push.AppendTo(dgram)
	dgram = wask.AppendTo(dgram)

	t.Run("多段", func(t *testing.T) {
		segs, err := ParseDatagram(dgram)
		if err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if len(segs) != 3 {
			t.Fatalf("段数应为 3, 实际 %d", len(segs))
		}
		if segs[0].Cmd != CmdAck || segs[1].Cmd != CmdPush || segs[2].Cmd != CmdWask {
			t.Errorf("命令顺序错误: %s %s %s",
				CmdName(segs[0].Cmd), CmdName(segs[1].Cmd), CmdName(segs[2].Cmd))
		}
		if !bytes.Equal(segs[1].Data, push.Data) {
			t.Errorf("负载不匹配: %v", segs[1].Data)
		}
		if segs[0].Data != nil {
			t.Error("ACK 不应有负载")
		}
	})

	t.Run("头部不足", func(t *testing.T) {
		_, err := ParseDatagram(dgram[:Overhead+Overhead+3+10])
		if !errors.Is(err, ErrMalformedSegment) {
			t.Errorf("应返回 ErrMalformedSegment, 实际 %v", err)
		}
	})

	t.Run("负载越界", func(t *testing.T) {
		bad := push.Encode()
		binary.LittleEndian.PutUint32(bad[20:], 100)
		_, err := ParseDatagram(bad)
		if !errors.Is(err, ErrMalformedSegment) {
			t.Errorf("应返回 ErrMalformedSegment, 实际 %v", err)
		}
	})

	t.Run("超大长度", func(t *testing.T) {
		bad := push.Encode()
		binary.LittleEndian.PutUint32(bad[20:], 0xffffffff)
		if _, err := ParseDatagram(bad); !errors.Is(err, ErrMalformedSegment) {
			t.Errorf("应返回 ErrMalformedSegment, 实际 %v", err)
		}
	})

	t.Run("未知命令", func(t *testing.T) {
		bad := push.Encode()
		bad[4] = 99
		if _, err := ParseDatagram(bad); !errors.Is(err, ErrMalformedSegment) {
			t.Errorf("应返回 ErrMalformedSegment, 实际 %v", err)
		}
	})

	t.Run("空数据报", func(t *testing.T) {
		segs, err := ParseDatagram(nil)
		if err != nil || len(segs) != 0 {
			t.Errorf("空数据报应返回空结果, 实际 %v %v", segs, err)
		}
	})
}

func TestPeekConv(t *testing.T) {
	seg := Segment{Conv: 0xdeadbeef, Cmd: CmdWins}
	conv, ok := PeekConv(seg.Encode())
	if !ok || conv != 0xdeadbeef {
		t.Errorf("读取会话 ID 错误: %x %v", conv, ok)
	}
	if _, ok := PeekConv([]byte{1, 2, 3}); ok {
		t.Error("不足 4 字节应失败")
	}
}

func BenchmarkSegmentEncode(b *testing.B) {
	seg := Segment{Conv: 1, Cmd: CmdPush, Data: make([]byte, 1024)}
	buf := make([]byte, 0, 2048)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf = seg.AppendTo(buf[:0])
	}
}

func BenchmarkParseDatagram(b *testing.B) {
	seg := Segment{Conv: 1, Cmd: CmdPush, Data: make([]byte, 1024)}
	dgram := seg.Encode()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseDatagram(dgram); err != nil {
			b.Fatal(err)
		}
	}
}
