// Package bridge 把编排器产出的事件逐条序列化后交给下游传输。
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
)

// Sink 接收单条已序列化的事件。
type Sink interface {
	Write(payload []byte) error
}

// Forward 按顺序把 events 中的事件写入 sink，直到通道关闭。
//
// 第一次写入失败后停止投递，但会继续读取并丢弃剩余事件，
// 让运行自然结束，最后返回 TRANSPORT_FAILURE 错误。
// ctx 结束时同样继续读取直到通道关闭。
func Forward(ctx context.Context, events <-chan llm.Event, sink Sink) error {
	var failure error
	delivered := 0
	for ev := range events {
		if failure != nil {
			continue
		}
		if ctx.Err() != nil {
			failure = xerrors.Wrap(xerrors.CodeTransport, ctx.Err(), "客户端已断开")
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			failure = xerrors.Wrap(xerrors.CodeTransport, err, "序列化事件失败")
			continue
		}
		if err := sink.Write(payload); err != nil {
			failure = xerrors.Wrap(xerrors.CodeTransport, err, fmt.Sprintf("写入第 %d 个事件失败", delivered+1),
				xerrors.WithMetadata("kind", string(ev.Kind)))
			continue
		}
		delivered++
	}
	return failure
}

// SSESink 以 text/event-stream 格式写入 HTTP 响应，每条事件之后立即 flush。
type SSESink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSESink 设置 SSE 响应头并返回 sink。ResponseWriter 不支持 flush 时返回错误。
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, xerrors.New(xerrors.CodeTransport, "响应不支持流式输出")
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) Write(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// LineSink 每行写入一条 JSON 事件（NDJSON），用于命令行输出。
type LineSink struct {
	w *bufio.Writer
}

// NewLineSink 创建 NDJSON sink。
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: bufio.NewWriter(w)}
}

func (s *LineSink) Write(payload []byte) error {
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// SinkFunc 把普通函数适配为 Sink。
type SinkFunc func(payload []byte) error

func (f SinkFunc) Write(payload []byte) error { return f(payload) }
