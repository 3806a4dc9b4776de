// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置加载与校验测试
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// 默认配置测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置", func(t *testing.T) {
		if cfg.Listen != ":29900" {
			t.Errorf("Listen 默认值错误: got %s, want :29900", cfg.Listen)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
	})

	t.Run("引擎配置", func(t *testing.T) {
		if cfg.KCP.SendWindow != 128 || cfg.KCP.RecvWindow != 128 {
			t.Errorf("窗口默认值错误: got %d/%d, want 128/128", cfg.KCP.SendWindow, cfg.KCP.RecvWindow)
		}
		if !cfg.KCP.NoDelay || !cfg.KCP.NoCongestion {
			t.Error("默认应开启 no_delay 并关闭拥塞控制")
		}
		if cfg.KCP.IntervalMs != 10 || cfg.KCP.FastResend != 2 {
			t.Errorf("interval/fast_resend 默认值错误: got %d/%d", cfg.KCP.IntervalMs, cfg.KCP.FastResend)
		}
	})

	t.Run("默认配置可通过校验", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置校验失败: %v", err)
		}
	})

	t.Run("转换为引擎配置", func(t *testing.T) {
		ec := cfg.EngineConfig()
		if err := ec.Validate(); err != nil {
			t.Fatalf("引擎配置校验失败: %v", err)
		}
		if ec.SendWindow != 128 || ec.MTU != 1400 || ec.Interval != 10 || ec.DeadLink != 20 {
			t.Errorf("引擎配置转换错误: %+v", ec)
		}
		if ec.MSS() != 1376 {
			t.Errorf("MSS 错误: got %d, want 1376", ec.MSS())
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"监听地址", func(c *Config) { c.Listen = "bad" }, "listen"},
		{"日志级别", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"发送窗口", func(c *Config) { c.KCP.SendWindow = 0 }, "kcp.send_window"},
		{"接收窗口", func(c *Config) { c.KCP.RecvWindow = 5000 }, "kcp.recv_window"},
		{"MTU 过小", func(c *Config) { c.KCP.MTU = 24 }, "kcp.mtu"},
		{"刷新间隔", func(c *Config) { c.KCP.IntervalMs = 1 }, "kcp.interval_ms"},
		{"快速重传", func(c *Config) { c.KCP.FastResend = -1 }, "kcp.fast_resend"},
		{"断链阈值", func(c *Config) { c.KCP.DeadLink = 0 }, "kcp.dead_link"},
		{"backlog", func(c *Config) { c.Transport.AcceptBacklog = 0 }, "transport.accept_backlog"},
		{"缓冲区", func(c *Config) { c.Transport.ReadBuffer = -1 }, "transport.read_buffer"},
		{"墓碑时间", func(c *Config) { c.Transport.TombstoneTTLSec = 7200 }, "transport.tombstone_ttl_sec"},
		{"metrics 路径", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
		{"metrics 路径冲突", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.HealthPath = c.Metrics.Path
		}, "冲突"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("应返回校验错误")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("错误信息应包含 %q, 实际: %v", tc.want, err)
			}
		})
	}

	t.Run("未启用 metrics 时不校验其配置", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Path = "bad"
		if err := cfg.Validate(); err != nil {
			t.Errorf("不应返回错误: %v", err)
		}
	})
}

// =============================================================================
// 加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("部分覆盖", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		content := `
listen: "127.0.0.1:40000"
remote: ""
log_level: "DEBUG"
kcp:
  send_window: 256
  stream_mode: true
metrics:
  push_interval_ms: 0
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}
		if cfg.KCP.SendWindow != 256 {
			t.Errorf("send_window 未覆盖: got %d", cfg.KCP.SendWindow)
		}
		if cfg.KCP.RecvWindow != 128 {
			t.Errorf("recv_window 应保留默认值: got %d", cfg.KCP.RecvWindow)
		}
		if !cfg.KCP.StreamMode || !cfg.EngineConfig().StreamMode {
			t.Error("stream_mode 未生效")
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("log_level 应转为小写: got %s", cfg.LogLevel)
		}
		if cfg.Remote != "127.0.0.1:40000" {
			t.Errorf("remote 应由监听端口推导: got %s", cfg.Remote)
		}
		if cfg.PushInterval() != time.Second {
			t.Errorf("push_interval 应回退为 1s: got %v", cfg.PushInterval())
		}
		if cfg.GetListenPort() != 40000 || cfg.GetListenHost() != "127.0.0.1" {
			t.Errorf("监听地址解析错误: %s:%d", cfg.GetListenHost(), cfg.GetListenPort())
		}
	})

	t.Run("非法配置", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		if err := os.WriteFile(path, []byte("kcp:\n  mtu: 10\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("MTU 过小应加载失败")
		}
	})

	t.Run("YAML 格式错误", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		if err := os.WriteFile(path, []byte("kcp: [1, 2"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "解析配置失败") {
			t.Errorf("应返回解析错误, 实际: %v", err)
		}
	})

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("文件不存在时应返回错误")
		}
	})

	t.Run("示例配置可加载", func(t *testing.T) {
		path := filepath.Join(dir, "example.yaml")
		if err := WriteExampleConfig(path); err != nil {
			t.Fatalf("写入示例配置失败: %v", err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("加载示例配置失败: %v", err)
		}
		if cfg.TombstoneTTL() != time.Minute {
			t.Errorf("tombstone_ttl 错误: got %v", cfg.TombstoneTTL())
		}
		if cfg.Metrics.SessionsPath != "/sessions" {
			t.Errorf("sessions_path 错误: got %s", cfg.Metrics.SessionsPath)
		}
	})
}

func TestParsePort(t *testing.T) {
	cases := map[string]int{
		":8080":        8080,
		"0.0.0.0:9100": 9100,
		"[::1]:29900":  29900,
		"54321":        54321,
	}
	for addr, want := range cases {
		got, err := parsePort(addr)
		if err != nil || got != want {
			t.Errorf("parsePort(%q) = %d, %v; want %d", addr, got, err, want)
		}
	}
	if _, err := parsePort("host:abc"); err == nil {
		t.Error("非数字端口应返回错误")
	}
}
