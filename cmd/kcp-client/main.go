// =============================================================================
// 文件: cmd/kcp-client/main.go
// 描述: 客户端 - 每行标准输入作为一条消息发送, 打印回复
// =============================================================================
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/kcpstream/internal/config"
	"github.com/mrcgq/kcpstream/internal/logging"
	"github.com/mrcgq/kcpstream/internal/transport"
)

var Version = "1.0.0"

// drainWait 标准输入结束后等待最后几条回复的时间
const drainWait = time.Second

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空使用默认配置)")
	addr := flag.String("addr", "", "服务端地址, 覆盖配置中的 remote")
	showVersion := flag.Bool("v", false, "显示版本")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kcp-client v%s\n", Version)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Remote = *addr
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := transport.DefaultConfig()
	tcfg.KCP = cfg.EngineConfig()
	tcfg.ReadBuffer = cfg.Transport.ReadBuffer
	tcfg.WriteBuffer = cfg.Transport.WriteBuffer
	tcfg.Logger = logger

	s, err := transport.Dial(ctx, cfg.Remote, tcfg)
	if err != nil {
		logger.Error().Err(err).Str("addr", cfg.Remote).Msg("拨号失败")
		os.Exit(1)
	}
	defer s.Close()
	logger.Info().Str("addr", cfg.Remote).Uint32("conv", s.Conv()).Msg("已连接")

	err = pump(ctx, s, os.Stdin, os.Stdout, drainWait)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("客户端退出")
	}
}

// pump 将 in 的每一行作为一条消息写入 conn, 并把收到的消息逐行写到 out
// in 结束后再等待 drain 以接收最后的回复, 然后关闭 conn 返回 nil
func pump(ctx context.Context, conn io.ReadWriteCloser, in io.Reader, out io.Writer, drain time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	// 读标准输入可能一直阻塞, 不放进组里等待
	sent := make(chan error, 1)
	go func() { sent <- sendLines(conn, in) }()

	g.Go(func() error {
		select {
		case err := <-sent:
			if err != nil {
				return err
			}
		case <-gctx.Done():
			return nil
		}
		select {
		case <-time.After(drain):
		case <-gctx.Done():
		}
		return io.EOF
	})

	g.Go(func() error {
		buf := make([]byte, 1024*1024)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return fmt.Errorf("接收失败: %w", err)
			}
			fmt.Fprintln(out, string(buf[:n]))
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func sendLines(w io.Writer, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if _, err := w.Write(sc.Bytes()); err != nil {
			return fmt.Errorf("发送失败: %w", err)
		}
	}
	return sc.Err()
}
