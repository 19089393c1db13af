package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	xerrors "MultiAI-Relay/internal/errors"
)

var errQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")

// MemoryQueue 是进程内的运行队列，未配置 broker 时使用。
// 关闭后 Publish 立即失败，Consume 在取完已缓冲的运行前就会返回。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列，size 非正时取 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 投递一个运行 ID，队列已满时阻塞到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, runID string) error {
	select {
	case <-q.done:
		return errQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed
	case q.ch <- runID:
		return nil
	}
}

// Consume 以 workers 个协程消费运行。处理失败的运行由 Processor 自行重投。
func (q *MemoryQueue) Consume(ctx context.Context, workers int, handle Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range max(workers, 1) {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-q.done:
					return nil
				case runID := <-q.ch:
					_ = handle(gctx, runID)
				}
			}
		})
	}
	return g.Wait()
}

// Close 停止队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
