// =============================================================================
// 文件: internal/transport/deadline.go
// 描述: 读写截止时间 - 到期时关闭通道唤醒等待方
// =============================================================================
package transport

import (
	"sync"
	"time"
)

// deadline 可重复设置的截止时间
type deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{} // 到期时关闭
}

func makeDeadline() deadline {
	return deadline{cancel: make(chan struct{})}
}

// set 设置截止时间, 零值表示不限
func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil && !d.timer.Stop() {
		<-d.cancel // 等待定时器回调关闭通道
	}
	d.timer = nil

	closed := isClosedChan(d.cancel)
	if t.IsZero() {
		if closed {
			d.cancel = make(chan struct{})
		}
		return
	}

	if dur := time.Until(t); dur > 0 {
		if closed {
			d.cancel = make(chan struct{})
		}
		d.timer = time.AfterFunc(dur, func() {
			close(d.cancel)
		})
		return
	}

	if !closed {
		close(d.cancel)
	}
}

// wait 返回到期时关闭的通道
func (d *deadline) wait() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel
}

func isClosedChan(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
