// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 健康检查和 Metrics 服务 - Prometheus 标准格式与会话实时推送
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	defaultPushInterval = time.Second
	wsWriteTimeout      = 5 * time.Second
)

// ServerOptions 服务器参数
type ServerOptions struct {
	Listen       string
	MetricsPath  string
	HealthPath   string
	SessionsPath string // 为空时不提供会话接口
	EnablePprof  bool
	PushInterval time.Duration
	Logger       zerolog.Logger
}

// MetricsServer 指标服务器
type MetricsServer struct {
	opts ServerOptions

	httpServer *http.Server
	listener   net.Listener
	registry   *prometheus.Registry
	upgrader   websocket.Upgrader

	healthy     int32
	healthCheck func() HealthStatus
	sessions    SessionSource
	started     time.Time
	done        chan struct{}
	stopOnce    sync.Once

	mu sync.RWMutex
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SessionSnapshot 推送给 websocket 客户端的会话快照
type SessionSnapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Sessions  []SessionInfo `json:"sessions"`
}

// NewMetricsServer 创建指标服务器
func NewMetricsServer(opts ServerOptions) *MetricsServer {
	if opts.PushInterval <= 0 {
		opts.PushInterval = defaultPushInterval
	}

	// 自定义 registry，避免污染全局
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsServer{
		opts:     opts,
		registry: registry,
		healthy:  1,
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Registry 返回服务器使用的 registry
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// RegisterCollector 注册 Prometheus 收集器
func (s *MetricsServer) RegisterCollector(c prometheus.Collector) error {
	return s.registry.Register(c)
}

// MustRegisterCollector 注册收集器（失败时 panic）
func (s *MetricsServer) MustRegisterCollector(c prometheus.Collector) {
	s.registry.MustRegister(c)
}

// SetHealthCheck 设置健康检查函数
func (s *MetricsServer) SetHealthCheck(fn func() HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCheck = fn
}

// SetSessionSource 设置会话快照来源
func (s *MetricsServer) SetSessionSource(src SessionSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = src
}

// Handler 构建路由
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc(s.opts.HealthPath, s.handleHealth)
	mux.HandleFunc(s.opts.HealthPath+"/live", s.handleLiveness)
	mux.HandleFunc(s.opts.HealthPath+"/ready", s.handleReadiness)

	// Prometheus metrics 端点
	mux.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))

	// 会话快照: 普通请求返回 JSON, websocket 请求持续推送
	if s.opts.SessionsPath != "" {
		mux.HandleFunc(s.opts.SessionsPath, s.handleSessions)
	}

	// pprof 调试端点
	if s.opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Start 启动服务器
// 监听失败时同步返回错误
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("metrics 监听失败: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Error().Err(err).Msg("metrics 服务器错误")
		}
	}()

	s.opts.Logger.Info().Str("addr", ln.Addr().String()).Msg("metrics 服务器已启动")
	return nil
}

// Addr 实际监听地址, 未启动时为 nil
func (s *MetricsServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleHealth 健康检查处理
func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthCheck := s.healthCheck
	s.mu.RUnlock()

	var status HealthStatus
	if healthCheck != nil {
		status = healthCheck()
	} else {
		status = HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Uptime:    time.Since(s.started),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// handleLiveness 存活探针
func (s *MetricsServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.healthy) == 1 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT OK"))
	}
}

// handleReadiness 就绪探针
func (s *MetricsServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthCheck := s.healthCheck
	s.mu.RUnlock()

	if healthCheck == nil && atomic.LoadInt32(&s.healthy) == 1 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
		return
	}
	if healthCheck != nil {
		status := healthCheck()
		if status.Status == "healthy" || status.Status == "degraded" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("READY"))
			return
		}
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT READY"))
}

// snapshot 读取会话快照
func (s *MetricsServer) snapshot() SessionSnapshot {
	s.mu.RLock()
	src := s.sessions
	s.mu.RUnlock()

	snap := SessionSnapshot{Timestamp: time.Now(), Sessions: []SessionInfo{}}
	if src != nil {
		snap.Sessions = append(snap.Sessions, src.Sessions()...)
	}
	return snap
}

// handleSessions 会话快照
func (s *MetricsServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.snapshot())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Debug().Err(err).Msg("websocket 升级失败")
		return
	}
	defer conn.Close()

	// 读循环只用于感知对端关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PushInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			s.opts.Logger.Debug().Err(err).Msg("websocket 推送失败")
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// SetHealthy 设置健康状态
func (s *MetricsServer) SetHealthy(healthy bool) {
	if healthy {
		atomic.StoreInt32(&s.healthy, 1)
	} else {
		atomic.StoreInt32(&s.healthy, 0)
	}
}

// Stop 停止服务器
func (s *MetricsServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.httpServer.Shutdown(ctx)
		}
	})
}
