package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrBudgetExhausted 轮询次数额度用尽
	ErrBudgetExhausted = errors.New("poll budget exhausted")
	// ErrCancelled 轮询被显式取消
	ErrCancelled = errors.New("poll cancelled")
)

// CheckFunc 单次检查函数
// found=true 表示命中并携带结果；err 仅记录日志、按未命中计入额度，绝不终止轮询
type CheckFunc func(ctx context.Context) (value interface{}, found bool, err error)

// Poller 有界间隔轮询器
// 固定间隔调用 CheckFunc，直到命中、额度耗尽或被取消。
// 同一时间只有一次检查在途（检查慢于间隔时不会叠加触发）。
type Poller struct {
	interval    time.Duration
	maxAttempts int // <= 0 表示不限次数（持续监视，直到取消）
	logger      *zap.Logger
}

// New 创建轮询器
func New(interval time.Duration, maxAttempts int, logger *zap.Logger) *Poller {
	return &Poller{
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Handle 一次轮询的句柄
// Cancel 幂等；Cancel 返回后保证不会再有 CheckFunc 调用
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	finished bool
	value    interface{}
	err      error
	attempts int
}

// Start 启动轮询（立即执行第一次检查，之后按间隔触发）
func (p *Poller) Start(ctx context.Context, check CheckFunc) *Handle {
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go p.run(ctx, check, h)

	return h
}

// run 轮询主循环（单 goroutine，保证检查不重叠）
func (p *Poller) run(ctx context.Context, check CheckFunc, h *Handle) {
	defer close(h.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		// 先检查取消，保证 Cancel 返回后不再调用 CheckFunc
		select {
		case <-h.stop:
			h.finish(nil, ErrCancelled)
			return
		case <-ctx.Done():
			h.finish(nil, ctx.Err())
			return
		default:
		}

		value, found, err := check(ctx)

		h.mu.Lock()
		h.attempts++
		attempts := h.attempts
		h.mu.Unlock()

		if err != nil {
			// 单次失败按未命中处理（手机短暂断网等瞬态故障是预期内的）
			p.logger.Debug("Poll attempt failed, treating as not found",
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		}

		if found {
			h.finish(value, nil)
			return
		}

		if p.maxAttempts > 0 && attempts >= p.maxAttempts {
			h.finish(nil, ErrBudgetExhausted)
			return
		}

		select {
		case <-h.stop:
			h.finish(nil, ErrCancelled)
			return
		case <-ctx.Done():
			h.finish(nil, ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// finish 记录结果（只记录首次）
func (h *Handle) finish(value interface{}, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished {
		h.finished = true
		h.value = value
		h.err = err
	}
}

// Cancel 取消轮询（幂等），阻塞直到轮询循环退出
func (h *Handle) Cancel() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.done
}

// Done 轮询结束信号
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result 轮询结果（应在 Done 关闭后读取）
// 命中返回 (value, nil)；否则 err 为 ErrBudgetExhausted、ErrCancelled 或上下文错误
func (h *Handle) Result() (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

// Attempts 已执行的检查次数
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}
