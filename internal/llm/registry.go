package llm

import (
	"fmt"
	"strings"
)

// Handle 描述一个 provider 在当前进程中的可用状态。
type Handle struct {
	Name      string
	Available bool
	Model     string
	Provider  Provider
}

// Registry 是启动时构建的只读 provider 表，按注册顺序遍历。
type Registry struct {
	order   []string
	handles map[string]Handle
}

// NewRegistry 构建注册表。名称统一转换为小写；重复名称返回错误。
// 不可用或缺少实现的 handle 会被替换为 Unconfigured。
func NewRegistry(handles ...Handle) (*Registry, error) {
	r := &Registry{handles: make(map[string]Handle, len(handles))}
	for _, h := range handles {
		name := normalize(h.Name)
		if name == "" {
			return nil, fmt.Errorf("provider name is required")
		}
		if _, exists := r.handles[name]; exists {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		h.Name = name
		if h.Provider == nil {
			h.Available = false
		}
		if !h.Available {
			h.Provider = Unconfigured(name)
		}
		r.order = append(r.order, name)
		r.handles[name] = h
	}
	return r, nil
}

// Lookup 按名称查找 provider。
func (r *Registry) Lookup(name string) (Handle, bool) {
	if r == nil {
		return Handle{}, false
	}
	h, ok := r.handles[normalize(name)]
	return h, ok
}

// All 返回全部 handle，顺序与注册顺序一致。
func (r *Registry) All() []Handle {
	if r == nil {
		return nil
	}
	out := make([]Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handles[name])
	}
	return out
}

// Active 返回所有可用的 handle。
func (r *Registry) Active() []Handle {
	var out []Handle
	for _, h := range r.All() {
		if h.Available {
			out = append(out, h)
		}
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
