// =============================================================================
// 文件: internal/kcp/segment.go
// 描述: KCP 段编解码
// =============================================================================
package kcp

import (
	"encoding/binary"
	"fmt"
)

// Segment 线上段格式
//
// 头部 24 字节, 小端序:
//
//	0      4   5   6    8      12     16     20     24
//	| conv |cmd|frg| wnd |  ts  |  sn  | una  | len  | data...
type Segment struct {
	Conv uint32
	Cmd  uint8
	Frg  uint8
	Wnd  uint16
	Ts   uint32
	Sn   uint32
	Una  uint32
	Data []byte
}

// Size 编码后长度
func (s *Segment) Size() int {
	return Overhead + len(s.Data)
}

// AppendTo 将段编码追加到 dst
func (s *Segment) AppendTo(dst []byte) []byte {
	var hdr [Overhead]byte
	binary.LittleEndian.PutUint32(hdr[0:], s.Conv)
	hdr[4] = s.Cmd
	hdr[5] = s.Frg
	binary.LittleEndian.PutUint16(hdr[6:], s.Wnd)
	binary.LittleEndian.PutUint32(hdr[8:], s.Ts)
	binary.LittleEndian.PutUint32(hdr[12:], s.Sn)
	binary.LittleEndian.PutUint32(hdr[16:], s.Una)
	binary.LittleEndian.PutUint32(hdr[20:], uint32(len(s.Data)))
	dst = append(dst, hdr[:]...)
	return append(dst, s.Data...)
}

// Encode 编码为新切片
func (s *Segment) Encode() []byte {
	return s.AppendTo(make([]byte, 0, s.Size()))
}

// DecodeSegment 从 b 头部解码一个段, 返回消耗的字节数
// Data 引用 b 的底层数组, 调用方需要时自行拷贝
func DecodeSegment(b []byte) (Segment, int, error) {
	var s Segment
	if len(b) < Overhead {
		return s, 0, fmt.Errorf("%w: 剩余 %d 字节不足头部", ErrMalformedSegment, len(b))
	}

	s.Conv = binary.LittleEndian.Uint32(b[0:])
	s.Cmd = b[4]
	s.Frg = b[5]
	s.Wnd = binary.LittleEndian.Uint16(b[6:])
	s.Ts = binary.LittleEndian.Uint32(b[8:])
	s.Sn = binary.LittleEndian.Uint32(b[12:])
	s.Una = binary.LittleEndian.Uint32(b[16:])
	length := binary.LittleEndian.Uint32(b[20:])

	if !validCmd(s.Cmd) {
		return s, 0, fmt.Errorf("%w: 未知命令 %d", ErrMalformedSegment, s.Cmd)
	}
	if uint64(length) > uint64(len(b)-Overhead) {
		return s, 0, fmt.Errorf("%w: 负载长度 %d 超出剩余 %d", ErrMalformedSegment, length, len(b)-Overhead)
	}

	n := Overhead + int(length)
	if length > 0 {
		s.Data = b[Overhead:n:n]
	}
	return s, n, nil
}

// ParseDatagram 解析数据报中的全部段
// 任一段非法时整个数据报作废
func ParseDatagram(b []byte) ([]Segment, error) {
	var segs []Segment
	for len(b) > 0 {
		s, n, err := DecodeSegment(b)
		if err != nil {
			return nil, err
		}
		segs = append(segs, s)
		b = b[n:]
	}
	return segs, nil
}

// PeekConv 读取数据报中的会话 ID
func PeekConv(b []byte) (uint32, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func validCmd(cmd uint8) bool {
	switch cmd {
	case CmdPush, CmdAck, CmdWask, CmdWins:
		return true
	}
	return false
}

// CmdName 命令名称
func CmdName(cmd uint8) string {
	switch cmd {
	case CmdPush:
		return "PUSH"
	case CmdAck:
		return "ACK"
	case CmdWask:
		return "WASK"
	case CmdWins:
		return "WINS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", cmd)
	}
}
