package gemini

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"

	"google.golang.org/genai"
)

// ModelLister 列出当前凭证可访问的模型，*genai.Models 满足该接口。
type ModelLister interface {
	All(ctx context.Context) iter.Seq2[*genai.Model, error]
}

// ErrNoCompatibleModel 表示没有任何模型支持 generateContent。
var ErrNoCompatibleModel = errors.New("no compatible gemini model found")

const generateAction = "generateContent"

// ResolveModel 按偏好顺序选择第一个支持 generateContent 的模型；
// 若都不可用，则回退到第一个名称包含 gemini 的可用模型。
func ResolveModel(ctx context.Context, lister ModelLister, preferred ...string) (string, error) {
	if lister == nil {
		return "", errors.New("model lister is nil")
	}
	var available []string
	for model, err := range lister.All(ctx) {
		if err != nil {
			return "", err
		}
		if model == nil || !slices.Contains(model.SupportedActions, generateAction) {
			continue
		}
		available = append(available, strings.TrimPrefix(model.Name, "models/"))
	}

	for _, want := range preferred {
		want = strings.TrimPrefix(strings.TrimSpace(want), "models/")
		if slices.Contains(available, want) {
			return want, nil
		}
	}
	for _, name := range available {
		if strings.Contains(strings.ToLower(name), "gemini") {
			return name, nil
		}
	}
	return "", ErrNoCompatibleModel
}
