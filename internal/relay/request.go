package relay

import (
	"fmt"
	"strings"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
)

// Mode 选择运行方式。
type Mode string

const (
	ModeComparison Mode = "comparison"
	ModeChained    Mode = "chained"
)

// Request 是一次运行的入参。Preset 仅在链式模式下使用且必填。
type Request struct {
	Prompt string `json:"prompt"`
	Mode   Mode   `json:"mode"`
	Preset string `json:"preset,omitempty"`
}

// Normalize 去除首尾空白并统一模式大小写。
func (r Request) Normalize() Request {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.Mode = Mode(strings.ToLower(strings.TrimSpace(string(r.Mode))))
	r.Preset = strings.TrimSpace(r.Preset)
	return r
}

// Validate 校验请求。所有错误都在任何网络调用之前返回。
func (r Request) Validate() error {
	if r.Prompt == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "prompt 不能为空")
	}
	switch r.Mode {
	case ModeComparison:
		return nil
	case ModeChained:
		if r.Preset == "" {
			return xerrors.New(xerrors.CodeUnknownPreset, "链式模式必须指定 preset")
		}
		return nil
	default:
		return xerrors.New(xerrors.CodeInvalidMode, fmt.Sprintf("不支持的模式: %q", r.Mode),
			xerrors.WithMetadata("mode", string(r.Mode)))
	}
}

// Result 是非流式运行的汇总结果。
type Result struct {
	Mode      Mode              `json:"mode"`
	Preset    string            `json:"preset,omitempty"`
	Responses map[string]string `json:"responses,omitempty"`
	Steps     []llm.StepResult  `json:"steps,omitempty"`
}

func resultFrom(req Request, final llm.FinalResults) *Result {
	res := &Result{Mode: req.Mode}
	if final.Chained() {
		res.Preset = req.Preset
		res.Steps = final.Steps
	} else {
		res.Responses = final.Responses
	}
	return res
}
