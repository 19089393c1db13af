package task

import (
	"context"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/relay"
)

// Store 抽象了任务状态的存储接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result relay.Result) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, filter Filter) ([]*Task, error)
	Stats(ctx context.Context, filter Filter) (Summary, error)
	Close() error
}
