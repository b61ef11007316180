package chat

import (
	"context"
	"time"
)

// retryScheduler 单个会话的重连节奏
// 第一次等待 base，连续失败时翻倍，上限 max；连接成功后 Reset
type retryScheduler struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func newRetryScheduler(base, max time.Duration) *retryScheduler {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return &retryScheduler{base: base, max: max}
}

// Next 返回本次应等待的时长并推进计数
func (s *retryScheduler) Next() time.Duration {
	d := s.base
	for i := 0; i < s.attempt && d < s.max; i++ {
		d *= 2
	}
	if d > s.max {
		d = s.max
	}
	s.attempt++
	return d
}

func (s *retryScheduler) Reset() {
	s.attempt = 0
}

// Wait 阻塞到下一次重连时间；ctx 取消时返回 false，定时器随之释放
func (s *retryScheduler) Wait(ctx context.Context) bool {
	t := time.NewTimer(s.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
