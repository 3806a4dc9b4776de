// =============================================================================
// 文件: internal/transport/interval.go
// 描述: 周期驱动 - 每个会话一个定时器, 到期向事件循环投递驱动任务
// =============================================================================
package transport

import (
	"sync"
	"time"
)

// interval 会话定时器
// reset 总是以引擎 Check 的结果重新布置, 旧的到期时间被覆盖
type interval struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// newInterval 创建未启动的定时器, 到期时调用 fire
func newInterval(fire func()) *interval {
	t := time.AfterFunc(time.Hour, fire)
	t.Stop()
	return &interval{timer: t}
}

// reset 在 ms 毫秒后触发
func (iv *interval) reset(ms uint32) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.stopped {
		return
	}
	iv.timer.Reset(time.Duration(ms) * time.Millisecond)
}

// stop 永久停止
func (iv *interval) stop() {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.stopped = true
	iv.timer.Stop()
}
