// Package transcript 维护只追加的人类可读运行记录。
//
// 每次运行写入一个块：头部、原始问题、按模式记录的各 provider 响应
// 或各步骤的提示词与响应，最后是固定宽度的分隔线。所有正文都以
// 字节长度开头，因此 Parse 可以无歧义地读回包含换行的文本。
package transcript

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimeLayout 是块头部使用的时间格式。
const TimeLayout = "2006-01-02 15:04:05"

// Separator 是块结尾的分隔线。
var Separator = strings.Repeat("=", 60)

// Mode 标记块的运行模式。
const (
	ModeComparison = "comparison"
	ModeChained    = "chained"
)

// Response 是对比模式下单个 provider 的响应。
type Response struct {
	Provider string
	Text     string
}

// Step 是链式模式下单个步骤的记录。
type Step struct {
	Number   int
	Provider string
	Task     string
	Prompt   string
	Response string
	Skipped  bool
}

// Record 对应日志中的一个块。
type Record struct {
	Time      time.Time
	Mode      string
	Preset    string
	Prompt    string
	Responses []Response
	Steps     []Step
}

// Log 是追加写入的运行记录文件，可被多个 goroutine 共享。
type Log struct {
	mu   sync.Mutex
	path string
}

// Open 准备日志文件所在目录并返回 Log。文件在第一次写入时创建。
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("transcript 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建 transcript 目录失败: %w", err)
		}
	}
	return &Log{path: path}, nil
}

// Path 返回日志文件路径。
func (l *Log) Path() string { return l.path }

// Append 以一次写入追加一个完整的块。
func (l *Log) Append(rec Record) error {
	block := Format(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开 transcript 失败: %w", err)
	}
	if _, err := f.Write(block); err != nil {
		f.Close()
		return fmt.Errorf("写入 transcript 失败: %w", err)
	}
	return f.Close()
}

// Format 把记录渲染为文本块。
func Format(rec Record) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "--- Query (%s) %s ---\n", strings.ToUpper(rec.Mode), rec.Time.Format(TimeLayout))
	writeSized(&b, "Initial question", rec.Prompt)
	if rec.Mode == ModeChained && rec.Preset != "" {
		fmt.Fprintf(&b, "Preset: %s\n", singleLine(rec.Preset))
	}
	b.WriteString("\n")

	switch rec.Mode {
	case ModeChained:
		for _, s := range rec.Steps {
			if s.Skipped {
				fmt.Fprintf(&b, "--- Step %d: %s (%s) ---\n", s.Number, s.Provider, skippedLabel)
				fmt.Fprintf(&b, "Skipped: %s\n\n", singleLine(s.Task))
				continue
			}
			fmt.Fprintf(&b, "--- Step %d: %s (%s) ---\n", s.Number, s.Provider, singleLine(s.Task))
			writeSized(&b, "Prompt sent", s.Prompt)
			writeSized(&b, "Response", s.Response)
			b.WriteString("\n")
		}
	default:
		for _, r := range rec.Responses {
			fmt.Fprintf(&b, "--- %s ---\n", r.Provider)
			writeSized(&b, "Length", r.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString(Separator)
	b.WriteString("\n\n")
	return b.Bytes()
}

const skippedLabel = "SKIPPED"

func writeSized(b *bytes.Buffer, label, text string) {
	fmt.Fprintf(b, "%s: %d bytes\n", label, len(text))
	b.WriteString(text)
	b.WriteString("\n")
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
