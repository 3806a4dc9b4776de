// =============================================================================
// 文件: internal/transport/reactor.go
// 描述: 单线程事件循环 - 端点上所有引擎只在该 goroutine 中被访问
// =============================================================================
package transport

import (
	"net"
	"sync"
	"time"
)

const reactorQueueSize = 4096

// reactor 事件循环
// 读协程、定时器和应用协程都通过投递闭包访问引擎
type reactor struct {
	tasks    chan func()
	done     chan struct{}
	quitOnce sync.Once
	epoch    time.Time
}

func newReactor() *reactor {
	return &reactor{
		tasks: make(chan func(), reactorQueueSize),
		done:  make(chan struct{}),
		epoch: time.Now(),
	}
}

// run 处理任务直到 quit, 之后仍在队列中的任务被丢弃
func (r *reactor) run() {
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.done:
			return
		}
	}
}

// post 投递任务, 循环已退出时返回 false
// 不得在循环内部调用, 队列满时会阻塞
func (r *reactor) post(fn func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.tasks <- fn:
		return true
	case <-r.done:
		return false
	}
}

// exec 投递任务并等待执行完成
func (r *reactor) exec(fn func()) error {
	finished := make(chan struct{})
	if !r.post(func() {
		defer close(finished)
		fn()
	}) {
		return net.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return net.ErrClosed
		}
	}
}

// quit 停止循环, 只能在循环内部调用
func (r *reactor) quit() {
	r.quitOnce.Do(func() { close(r.done) })
}

// now 引擎时钟 (毫秒, 允许回绕)
func (r *reactor) now() uint32 {
	return uint32(time.Since(r.epoch).Milliseconds())
}
