package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"MultiAI-Relay/pkg/logger"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "RELAY_CONFIG"
	// DefaultPath 为未设置 RELAY_CONFIG 时使用的配置文件。
	DefaultPath = "configs/relay.json"
)

// Config 描述了 relay 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig              `json:"server"`
	Logging    logger.Config             `json:"logging"`
	Transcript TranscriptConfig          `json:"transcript"`
	Chain      ChainConfig               `json:"chain"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Tasks      TaskConfig                `json:"tasks"`
	TaskQueue  TaskQueueConfig           `json:"task_queue"`
	Metrics    MetricsConfig             `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address           string `json:"address"`
	RunTimeoutSeconds int    `json:"run_timeout_seconds"`
	// MaxConcurrency 限制对比模式下同时进行的 provider 调用数，0 表示不限制。
	MaxConcurrency int `json:"max_concurrency"`
}

// RunTimeout 返回单次运行的超时时间。
func (s ServerConfig) RunTimeout() time.Duration {
	return time.Duration(s.RunTimeoutSeconds) * time.Second
}

// TranscriptConfig 配置运行记录文件。Path 为空时不写记录。
type TranscriptConfig struct {
	Path string `json:"path"`
}

// ChainConfig 配置链式预设。PresetsFile 可覆盖或新增内置预设。
type ChainConfig struct {
	PresetsFile string `json:"presets_file"`
}

// ProviderConfig 描述单个模型供应商。
type ProviderConfig struct {
	// Kind 选择适配器：gemini、openai（含兼容接口）或 gollm。
	Kind string `json:"kind"`
	// Enabled 为 nil 时默认启用。
	Enabled   *bool  `json:"enabled,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url,omitempty"`
	Stream    bool   `json:"stream"`
	// Backend 仅对 gollm 适配的供应商生效，如 "anthropic"。
	Backend                 string `json:"backend,omitempty"`
	NativeSystemInstruction bool   `json:"native_system_instruction,omitempty"`
	ResolveModel            bool   `json:"resolve_model,omitempty"`
	TimeoutSeconds          int    `json:"timeout_seconds,omitempty"`
	MaxRetries              int    `json:"max_retries,omitempty"`
	MaxTokens               int    `json:"max_tokens,omitempty"`
}

// IsEnabled 判断供应商是否启用。
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Credential 返回 API Key，优先使用显式配置，其次读取 api_key_env 指定的环境变量。
func (p ProviderConfig) Credential() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	if p.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

// Timeout 返回请求超时时间。
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// TaskConfig 配置排队运行。
type TaskConfig struct {
	MaxRetries int `json:"max_retries"`
}

// TaskQueueConfig 选择排队运行使用的消息队列。
type TaskQueueConfig struct {
	Driver   string              `json:"driver"`
	Worker   int                 `json:"worker"`
	Size     int                 `json:"size"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// Broker 报告是否使用外部消息队列。
func (c TaskQueueConfig) Broker() bool {
	return c.Driver == "redis" || c.Driver == "rabbitmq"
}

// Warnings 返回启动时需要提示的部署约束。运行状态只保存在进程内存中，
// 多个 relayd 共享同一个 broker 队列时，一个实例可能取走另一个实例创建的运行，
// 该运行会在创建方一直停留在 pending。
func (c TaskQueueConfig) Warnings() []string {
	if !c.Broker() {
		return nil
	}
	return []string{fmt.Sprintf("运行状态仅保存在本进程内，%s 队列只能由单个 relayd 实例使用", c.Driver)}
}

// RedisQueueConfig 对应 task.RedisQueueConfig。
type RedisQueueConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 对应 task.RabbitMQConfig。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MetricsConfig 配置独立的指标端口。Address 为空时指标挂在 API 服务的 /metrics 上。
type MetricsConfig struct {
	Address string `json:"address"`
}

// 适配器类型。
const (
	KindGemini = "gemini"
	KindOpenAI = "openai"
	KindGollm  = "gollm"
)

// ProviderOrder 是内置供应商的展示与对比顺序。
var ProviderOrder = []string{"gemini", "openai", "claude", "deepseek"}

// defaultProviders 列出内置的四个供应商及其默认模型。
func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"gemini":   {Kind: KindGemini, APIKeyEnv: "GEMINI_API_KEY", Model: "gemini-2.5-flash-lite"},
		"openai":   {Kind: KindOpenAI, APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-4o-mini"},
		"claude":   {Kind: KindGollm, APIKeyEnv: "ANTHROPIC_API_KEY", Model: "claude-3-5-haiku-latest", Backend: "anthropic"},
		"deepseek": {Kind: KindOpenAI, APIKeyEnv: "DEEPSEEK_API_KEY", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1"},
	}
}

// LoadEnv 加载 .env 文件中的凭据。文件不存在时忽略，已存在的环境变量不会被覆盖。
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}
	return nil
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Default 返回完全使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件。文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置中无法通过默认值修复的问题。
func (c *Config) Validate() error {
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	for name, provider := range c.Providers {
		switch provider.Kind {
		case KindGemini, KindOpenAI, KindGollm:
		default:
			return fmt.Errorf("供应商 %s 的 kind 无效: %q", name, provider.Kind)
		}
	}
	if c.Server.RunTimeoutSeconds < 0 {
		return errors.New("server.run_timeout_seconds 不能为负数")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RunTimeoutSeconds == 0 {
		c.Server.RunTimeoutSeconds = 300
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	c.Transcript.Path = resolve(baseDir, c.Transcript.Path)
	c.Chain.PresetsFile = resolve(baseDir, c.Chain.PresetsFile)

	defaults := defaultProviders()
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig, len(defaults))
	}
	normalized := make(map[string]ProviderConfig, len(c.Providers))
	for name, provider := range c.Providers {
		normalized[strings.ToLower(strings.TrimSpace(name))] = provider
	}
	for name, def := range defaults {
		provider, ok := normalized[name]
		if !ok {
			normalized[name] = def
			continue
		}
		if provider.Kind == "" {
			provider.Kind = def.Kind
		}
		if provider.APIKeyEnv == "" {
			provider.APIKeyEnv = def.APIKeyEnv
		}
		if provider.Model == "" {
			provider.Model = def.Model
		}
		if provider.BaseURL == "" {
			provider.BaseURL = def.BaseURL
		}
		if provider.Backend == "" {
			provider.Backend = def.Backend
		}
		normalized[name] = provider
	}
	c.Providers = normalized

	if c.Tasks.MaxRetries <= 0 {
		c.Tasks.MaxRetries = 3
	}
	c.TaskQueue.Driver = strings.ToLower(strings.TrimSpace(c.TaskQueue.Driver))
	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}
	if c.TaskQueue.Size <= 0 {
		c.TaskQueue.Size = 1024
	}
}

// resolve 将相对路径解析为相对于配置文件所在目录的路径。
func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
