// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - KCP 引擎参数、传输层参数、监控配置
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/kcpstream/internal/kcp"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	Remote   string `yaml:"remote"` // 客户端拨号地址
	LogLevel string `yaml:"log_level"`

	KCP       KCPConfig       `yaml:"kcp"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// KCPConfig 引擎参数
type KCPConfig struct {
	SendWindow   int  `yaml:"send_window"`
	RecvWindow   int  `yaml:"recv_window"`
	MTU          int  `yaml:"mtu"`
	NoDelay      bool `yaml:"no_delay"`
	IntervalMs   int  `yaml:"interval_ms"`
	FastResend   int  `yaml:"fast_resend"`
	NoCongestion bool `yaml:"no_congestion"`
	DeadLink     int  `yaml:"dead_link"`
	StreamMode   bool `yaml:"stream_mode"`
}

// TransportConfig 传输层参数
type TransportConfig struct {
	AcceptBacklog   int `yaml:"accept_backlog"`
	ReadBuffer      int `yaml:"read_buffer"`
	WriteBuffer     int `yaml:"write_buffer"`
	TombstoneTTLSec int `yaml:"tombstone_ttl_sec"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`
	Path           string `yaml:"path"`
	HealthPath     string `yaml:"health_path"`
	SessionsPath   string `yaml:"sessions_path"`
	PushIntervalMs int    `yaml:"push_interval_ms"`
	EnablePprof    bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.syncRelatedConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig 默认配置
// 引擎参数为低延迟场景: 128/128 窗口, 无延迟, 10ms 刷新
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":29900",
		Remote:   "127.0.0.1:29900",
		LogLevel: "info",

		KCP: KCPConfig{
			SendWindow:   128,
			RecvWindow:   128,
			MTU:          kcp.DefaultMTU,
			NoDelay:      true,
			IntervalMs:   10,
			FastResend:   2,
			NoCongestion: true,
			DeadLink:     kcp.DefaultDeadLink,
		},

		Transport: TransportConfig{
			AcceptBacklog:   128,
			ReadBuffer:      4 * 1024 * 1024,
			WriteBuffer:     4 * 1024 * 1024,
			TombstoneTTLSec: 60,
		},

		Metrics: MetricsConfig{
			Enabled:        false,
			Listen:         ":9100",
			Path:           "/metrics",
			HealthPath:     "/health",
			SessionsPath:   "/sessions",
			PushIntervalMs: 1000,
			EnablePprof:    false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := parsePort(c.Listen); err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 需为 debug/info/warn/error 之一")
	}

	if err := c.KCP.validate(); err != nil {
		return fmt.Errorf("kcp 配置错误: %w", err)
	}

	if c.Transport.AcceptBacklog < 1 || c.Transport.AcceptBacklog > 65536 {
		return fmt.Errorf("transport.accept_backlog 需在 1-65536 之间")
	}
	if c.Transport.ReadBuffer < 0 || c.Transport.WriteBuffer < 0 {
		return fmt.Errorf("transport.read_buffer/write_buffer 不能为负数")
	}
	if c.Transport.TombstoneTTLSec < 0 || c.Transport.TombstoneTTLSec > 3600 {
		return fmt.Errorf("transport.tombstone_ttl_sec 需在 0-3600 之间")
	}

	if c.Metrics.Enabled {
		if _, err := parsePort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		for name, p := range map[string]string{
			"path":        c.Metrics.Path,
			"health_path": c.Metrics.HealthPath,
		} {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("metrics.%s 必须以 / 开头", name)
			}
		}
		if c.Metrics.SessionsPath != "" && !strings.HasPrefix(c.Metrics.SessionsPath, "/") {
			return fmt.Errorf("metrics.sessions_path 必须以 / 开头")
		}
		if c.Metrics.Path == c.Metrics.HealthPath {
			return fmt.Errorf("metrics.path 与 metrics.health_path 冲突")
		}
	}

	return nil
}

func (k *KCPConfig) validate() error {
	if k.SendWindow < 1 || k.SendWindow > 4096 {
		return fmt.Errorf("kcp.send_window 需在 1-4096 之间")
	}
	if k.RecvWindow < 1 || k.RecvWindow > 4096 {
		return fmt.Errorf("kcp.recv_window 需在 1-4096 之间")
	}
	if k.MTU < kcp.MinMTU || k.MTU > 9000 {
		return fmt.Errorf("kcp.mtu 需在 %d-9000 之间", kcp.MinMTU)
	}
	if k.IntervalMs < kcp.MinInterval || k.IntervalMs > kcp.MaxInterval {
		return fmt.Errorf("kcp.interval_ms 需在 %d-%d 之间", kcp.MinInterval, kcp.MaxInterval)
	}
	if k.FastResend < 0 || k.FastResend > 100 {
		return fmt.Errorf("kcp.fast_resend 需在 0-100 之间")
	}
	if k.DeadLink < 1 || k.DeadLink > 1000 {
		return fmt.Errorf("kcp.dead_link 需在 1-1000 之间")
	}
	return nil
}

// syncRelatedConfig 同步关联配置
func (c *Config) syncRelatedConfig() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// 客户端未指定远端时使用本机监听端口
	if c.Remote == "" {
		c.Remote = net.JoinHostPort("127.0.0.1", strconv.Itoa(c.GetListenPort()))
	}

	if c.Metrics.PushIntervalMs <= 0 {
		c.Metrics.PushIntervalMs = 1000
	}
}

// EngineConfig 转换为引擎配置
func (c *Config) EngineConfig() kcp.Config {
	return kcp.Config{
		SendWindow:   uint32(c.KCP.SendWindow),
		RecvWindow:   uint32(c.KCP.RecvWindow),
		MTU:          uint32(c.KCP.MTU),
		NoDelay:      c.KCP.NoDelay,
		Interval:     uint32(c.KCP.IntervalMs),
		FastResend:   uint32(c.KCP.FastResend),
		NoCongestion: c.KCP.NoCongestion,
		DeadLink:     uint32(c.KCP.DeadLink),
		StreamMode:   c.KCP.StreamMode,
	}
}

// TombstoneTTL 断链会话记录保留时间
func (c *Config) TombstoneTTL() time.Duration {
	return time.Duration(c.Transport.TombstoneTTLSec) * time.Second
}

// PushInterval 会话快照推送间隔
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.Metrics.PushIntervalMs) * time.Millisecond
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// GetListenHost 获取监听地址
func (c *Config) GetListenHost() string {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return ""
	}
	return host
}

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# =============================================================================
# kcpstream 配置文件
# =============================================================================

# UDP 监听地址 (服务端)
listen: ":29900"

# 拨号地址 (客户端)
remote: "127.0.0.1:29900"

# 日志级别: debug / info / warn / error
log_level: "info"

# -----------------------------------------------------------------------------
# KCP 引擎参数
# -----------------------------------------------------------------------------
kcp:
  send_window: 128      # 发送窗口 (段)
  recv_window: 128      # 接收窗口 (段)
  mtu: 1400             # 单个数据报上限, 负载 = mtu - 24
  no_delay: true        # 无延迟模式: 最小 RTO 30ms, 线性退避
  interval_ms: 10       # 刷新间隔 10-5000
  fast_resend: 2        # 被跳过 N 次 ACK 后快速重传, 0 关闭
  no_congestion: true   # 关闭拥塞控制
  dead_link: 20         # 单段传输次数达到该值判定断链
  stream_mode: false    # 流模式, 不保留消息边界

# -----------------------------------------------------------------------------
# 传输层参数
# -----------------------------------------------------------------------------
transport:
  accept_backlog: 128       # 待 Accept 的会话上限
  read_buffer: 4194304      # socket 读缓冲区
  write_buffer: 4194304     # socket 写缓冲区
  tombstone_ttl_sec: 60     # 已移除会话的拒收时间, 0 关闭

# -----------------------------------------------------------------------------
# 监控
# -----------------------------------------------------------------------------
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  sessions_path: "/sessions"  # JSON 快照, websocket 连接时持续推送
  push_interval_ms: 1000
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
