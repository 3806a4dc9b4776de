// =============================================================================
// 文件: cmd/kcp-client/main_test.go
// 描述: 客户端收发循环测试
// =============================================================================
package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// echoPeer 在管道另一端把每条消息原样写回
func echoPeer(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 64*1024)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		if _, err := c.Write(buf[:n]); err != nil {
			return
		}
	}
}

func TestPump(t *testing.T) {
	t.Run("输入结束后退出", func(t *testing.T) {
		local, remote := net.Pipe()
		go echoPeer(remote)

		in := bytes.NewBufferString("hello\nworld\n")
		var out bytes.Buffer
		done := make(chan error, 1)
		go func() {
			done <- pump(context.Background(), local, in, &out, 200*time.Millisecond)
		}()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("pump 返回错误: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("标准输入结束后客户端没有退出")
		}
		if out.String() != "hello\nworld\n" {
			t.Errorf("回复错误: %q", out.String())
		}
	})

	t.Run("取消时不等待输入", func(t *testing.T) {
		local, remote := net.Pipe()
		go echoPeer(remote)

		// 永远没有数据的输入
		in, w := io.Pipe()
		defer w.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- pump(ctx, local, in, io.Discard, time.Second)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("取消后客户端没有退出")
		}
	})
}
