package chain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "MultiAI-Relay/internal/errors"
)

// Step 描述预设中的一个步骤。
type Step struct {
	Provider          string `yaml:"provider" json:"ai"`
	SystemInstruction string `yaml:"system_instruction" json:"system_instruction"`
	TaskDescription   string `yaml:"task_description" json:"task_description"`
}

// Preset 是一条命名的链式流程。
type Preset struct {
	Key         string `yaml:"-" json:"key"`
	Description string `yaml:"description" json:"description"`
	Steps       []Step `yaml:"chain" json:"chain"`
}

// Catalog 是只读的预设目录。
type Catalog struct {
	presets map[string]Preset
}

// NewCatalog 校验并创建目录。每个预设至少需要一个步骤，且每个步骤必须指定 provider。
func NewCatalog(presets ...Preset) (*Catalog, error) {
	c := &Catalog{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		if err := c.add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(p Preset) error {
	p.Key = strings.TrimSpace(p.Key)
	if p.Key == "" {
		return fmt.Errorf("预设缺少 key")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("预设 %s 没有定义任何步骤", p.Key)
	}
	steps := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
		if s.Provider == "" {
			return fmt.Errorf("预设 %s 的第 %d 步缺少 provider", p.Key, i+1)
		}
		steps[i] = s
	}
	p.Steps = steps
	c.presets[p.Key] = p
	return nil
}

// Lookup 返回指定 key 的预设，未知 key 返回 CONFIG_UNKNOWN_PRESET。
func (c *Catalog) Lookup(key string) (Preset, error) {
	if c != nil {
		if p, ok := c.presets[strings.TrimSpace(key)]; ok {
			return p, nil
		}
	}
	return Preset{}, xerrors.New(xerrors.CodeUnknownPreset, fmt.Sprintf("未知的预设: %q", key),
		xerrors.WithMetadata("preset", key))
}

// List 按 key 排序返回所有预设。
func (c *Catalog) List() []Preset {
	if c == nil {
		return nil
	}
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// presetFile 对应 configs/presets.yaml 的结构。
type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadCatalog 在内置预设的基础上加载 YAML 文件中的预设，同名 key 会覆盖内置定义。
// path 为空时只返回内置预设。
func LoadCatalog(path string) (*Catalog, error) {
	catalog, err := NewCatalog(DefaultPresets()...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取预设配置失败: %w", err)
	}
	var file presetFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析预设配置失败: %w", err)
	}
	for key, p := range file.Presets {
		p.Key = key
		if err := catalog.add(p); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// DefaultPresets 返回内置的三条流程。
func DefaultPresets() []Preset {
	return []Preset{
		{
			Key:         "1",
			Description: "Sports betting strategy: Gemini analyses, OpenAI details the plan.",
			Steps: []Step{
				{
					Provider:          "gemini",
					SystemInstruction: "You are an expert in risk management and investment strategies in volatile markets, including sports betting. Your goal is to provide a concise, strategic initial analysis.",
					TaskDescription:   "Analyse the initial question about how to manage $50 in sports betting. Offer an initial money-management strategy focusing on discipline, bet sizing and risk management.",
				},
				{
					Provider:          "openai",
					SystemInstruction: "You are a strategy planner and a clear communicator. Your goal is to take a previous analysis and expand it into detailed, actionable steps for a general audience.",
					TaskDescription:   "Based on the initial strategy provided, detail 3-5 concrete steps and an action plan to implement that $50 sports betting management. Include practical tips and an example of how it could be applied.",
				},
			},
		},
		{
			Key:         "2",
			Description: "Summary and critique: OpenAI summarises, Gemini offers points of improvement.",
			Steps: []Step{
				{
					Provider:          "openai",
					SystemInstruction: "You are an expert, concise summariser. Your goal is to extract the essence of a text.",
					TaskDescription:   "Summarise the following text in 50 words, extracting the main ideas.",
				},
				{
					Provider:          "gemini",
					SystemInstruction: "You are a constructive, analytical critic. Your goal is to identify areas of improvement in a text.",
					TaskDescription:   "Analyse the summary provided and identify 3 possible weak points or areas of improvement in the original text, justifying your critique.",
				},
			},
		},
		{
			Key:         "3",
			Description: "Brainstorm and filter: Gemini generates concepts, OpenAI filters them by feasibility.",
			Steps: []Step{
				{
					Provider:          "gemini",
					SystemInstruction: "You are a creative and original idea generator. Your goal is to propose diverse concepts.",
					TaskDescription:   "Generate a list of 5 creative ideas on how to recycle common household materials.",
				},
				{
					Provider:          "openai",
					SystemInstruction: "You are a practical evaluator and process optimiser. Your goal is to judge feasibility and impact.",
					TaskDescription:   "Evaluate the ideas received in terms of practical feasibility and potential environmental impact. Remove the least feasible and rank the rest from highest to lowest impact, with a brief justification.",
				},
			},
		},
	}
}
