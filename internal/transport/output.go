// =============================================================================
// 文件: internal/transport/output.go
// 描述: 输出端 - 将引擎产出的数据报写往固定对端
// =============================================================================
package transport

import (
	"net"
)

// Output 绑定 (socket, 对端) 的 io.Writer
// 同步 WriteTo, 不缓冲, 不重试; 失败由引擎视为暂时性错误
type Output struct {
	conn net.PacketConn
	peer net.Addr
}

// NewOutput 创建输出端
func NewOutput(conn net.PacketConn, peer net.Addr) *Output {
	return &Output{conn: conn, peer: peer}
}

// Write 发送一个数据报
func (o *Output) Write(p []byte) (int, error) {
	return o.conn.WriteTo(p, o.peer)
}

// Peer 对端地址
func (o *Output) Peer() net.Addr {
	return o.peer
}
