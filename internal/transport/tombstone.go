// =============================================================================
// 文件: internal/transport/tombstone.go
// 描述: 已移除会话记录 - 双代布隆过滤器, 防止对端残留重传复活会话
// =============================================================================
package transport

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dchest/siphash"
)

const (
	tombstoneExpectedItems = 65536
	tombstoneFalsePositive = 0.000001
)

// tombstones 记录在 [ttl, 2*ttl) 内有效
// 只在事件循环中访问, 无需加锁
type tombstones struct {
	ttl     time.Duration
	k0, k1  uint64
	cur     *bloom.BloomFilter
	prev    *bloom.BloomFilter
	rotated time.Time
	now     func() time.Time
	scratch []byte
}

// newTombstones ttl <= 0 时返回 nil, 所有方法对 nil 安全
func newTombstones(ttl time.Duration) *tombstones {
	if ttl <= 0 {
		return nil
	}
	t := &tombstones{
		ttl:  ttl,
		k0:   rand.Uint64(),
		k1:   rand.Uint64(),
		cur:  bloom.NewWithEstimates(tombstoneExpectedItems, tombstoneFalsePositive),
		prev: bloom.NewWithEstimates(tombstoneExpectedItems, tombstoneFalsePositive),
		now:  time.Now,
	}
	t.rotated = t.now()
	return t
}

// add 记录一个会话键
func (t *tombstones) add(key sessionKey) {
	if t == nil {
		return
	}
	t.rotate()
	t.cur.Add(t.digest(key))
}

// contains 会话键是否仍在拒收期内
func (t *tombstones) contains(key sessionKey) bool {
	if t == nil {
		return false
	}
	t.rotate()
	d := t.digest(key)
	return t.cur.Test(d) || t.prev.Test(d)
}

// rotate 每个 ttl 淘汰一代
func (t *tombstones) rotate() {
	elapsed := t.now().Sub(t.rotated)
	if elapsed < t.ttl {
		return
	}
	if elapsed >= 2*t.ttl {
		t.prev.ClearAll()
	} else {
		t.prev, t.cur = t.cur, t.prev
	}
	t.cur.ClearAll()
	t.rotated = t.now()
}

// digest 以随机密钥对 (conv, 对端) 做 SipHash, 对端无法预测过滤器位
func (t *tombstones) digest(key sessionKey) []byte {
	b := binary.LittleEndian.AppendUint32(t.scratch[:0], key.conv)
	b = append(b, key.peer...)
	h := siphash.Hash(t.k0, t.k1, b)
	t.scratch = b
	return binary.LittleEndian.AppendUint64(nil, h)
}
