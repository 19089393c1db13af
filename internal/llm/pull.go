package llm

import "context"

// PullFunc 以拉取方式读取下一段增量文本。
//
// ok 为 false 表示流已正常结束；ok 为 true 且 text 为空是合法的空分片。
// 底层迭代器的结束与错误都必须通过返回值表达，不能以 panic 越过边界。
type PullFunc func() (text string, ok bool, err error)

// Drain 持续调用 pull，把非空分片作为 text_delta 事件发出。
// 出错时发出单个 error 事件并停止。返回值表示流是否完整结束。
func Drain(ctx context.Context, name string, pull PullFunc, emit Emitter) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		text, ok, err := pull()
		if err != nil {
			emit(Failure(name, err.Error()))
			return false
		}
		if !ok {
			return true
		}
		if text == "" {
			continue
		}
		if !emit(TextDelta(name, text)) {
			return false
		}
	}
}
