// =============================================================================
// 文件: cmd/kcp-server/main.go
// 描述: 回显服务端 - KCP 监听、Prometheus 指标与会话快照
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/kcpstream/internal/config"
	"github.com/mrcgq/kcpstream/internal/logging"
	"github.com/mrcgq/kcpstream/internal/metrics"
	"github.com/mrcgq/kcpstream/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	listen := flag.String("l", "", "覆盖监听地址")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
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
	if *listen != "" {
		cfg.Listen = *listen
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("服务端退出")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := &transport.Config{
		KCP:           cfg.EngineConfig(),
		AcceptBacklog: cfg.Transport.AcceptBacklog,
		ReadBuffer:    cfg.Transport.ReadBuffer,
		WriteBuffer:   cfg.Transport.WriteBuffer,
		TombstoneTTL:  cfg.TombstoneTTL(),
		Logger:        logger,
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(metrics.ServerOptions{
			Listen:       cfg.Metrics.Listen,
			MetricsPath:  cfg.Metrics.Path,
			HealthPath:   cfg.Metrics.HealthPath,
			SessionsPath: cfg.Metrics.SessionsPath,
			EnablePprof:  cfg.Metrics.EnablePprof,
			PushInterval: cfg.PushInterval(),
			Logger:       logging.Component(logger, "metrics"),
		})
		tcfg.Metrics = metrics.NewKCPMetrics(metricsServer.Registry())
	}

	ln, err := transport.Listen(ctx, cfg.Listen, tcfg)
	if err != nil {
		return err
	}
	defer ln.Close()

	if metricsServer != nil {
		metricsServer.SetSessionSource(ln)
		metricsServer.MustRegisterCollector(metrics.NewSessionCollector(ln))
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return metrics.HealthStatus{
				Status:    "healthy",
				Timestamp: time.Now(),
				Version:   Version,
				Uptime:    time.Since(startTime),
				Components: map[string]metrics.ComponentHealth{
					"listener": {Status: "healthy", Message: ln.Addr().String()},
				},
			}
		})
		if err := metricsServer.Start(ctx); err != nil {
			return err
		}
		defer metricsServer.Stop()
	}

	logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("服务端已启动")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("正在关闭...")
		if metricsServer != nil {
			metricsServer.SetHealthy(false)
		}
		ln.Close()
		return nil
	})
	g.Go(func() error {
		for s, addr := range ln.Incoming(gctx) {
			go echo(s, addr, logger)
		}
		return nil
	})
	return g.Wait()
}

// echo 将收到的每条消息原样写回
func echo(s *transport.Stream, addr net.Addr, logger zerolog.Logger) {
	defer s.Close()

	log := logger.With().Uint32("conv", s.Conv()).Str("peer", addr.String()).Logger()
	log.Info().Msg("新会话")

	buf := make([]byte, 256*1024)
	for {
		n, err := s.Read(buf)
		if err != nil {
			logClosed(log, err)
			return
		}
		if _, err := s.Write(buf[:n]); err != nil {
			logClosed(log, err)
			return
		}
	}
}

func logClosed(log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		log.Debug().Msg("会话已关闭")
	case errors.Is(err, transport.ErrDeadLink):
		log.Warn().Msg("会话断链")
	default:
		log.Error().Err(err).Msg("会话异常结束")
	}
}

func printVersion() {
	fmt.Printf("kcp-server v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics  : Prometheus 格式指标")
	fmt.Println("  - /health   : JSON 健康状态")
	fmt.Println("  - /sessions : 会话快照 (websocket 持续推送)")
}
