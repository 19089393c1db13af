package task

import (
	"context"
)

// Handler 处理一个出队的运行 ID。返回错误时由具体队列决定是否重新入队。
type Handler func(ctx context.Context, runID string) error

// Publisher 投递待执行的运行，task.Service 只依赖这一半能力。
type Publisher interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Queue 在 Publisher 之上增加按 worker 数并发消费的能力。
// Consume 阻塞到 ctx 结束或队列关闭。
type Queue interface {
	Publisher
	Consume(ctx context.Context, workers int, handle Handler) error
}
