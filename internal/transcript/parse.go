package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	queryHeader = regexp.MustCompile(`^--- Query \(([A-Z]+)\) (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) ---$`)
	stepHeader  = regexp.MustCompile(`^--- Step (\d+): (.+?) \((.*)\) ---$`)
	respHeader  = regexp.MustCompile(`^--- (.+) ---$`)
	sizedLine   = regexp.MustCompile(`^(.+): (\d+) bytes$`)
)

// Parse 读回日志中的所有块。时间按本地时区解析。
func Parse(r io.Reader) ([]Record, error) {
	p := &parser{r: bufio.NewReader(r)}
	var records []Record
	for {
		line, err := p.line()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		if line == "" {
			continue
		}
		rec, err := p.block(line)
		if err != nil {
			return records, fmt.Errorf("transcript 第 %d 个块: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}

type parser struct {
	r *bufio.Reader
}

// line 读取一行并去掉换行符；文件末尾没有换行的残行视为 io.ErrUnexpectedEOF。
func (p *parser) line() (string, error) {
	s, err := p.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSuffix(s, "\n"), nil
}

// sized 读取 "<label>: <n> bytes" 行以及随后的 n 字节正文。
func (p *parser) sized(label string) (string, error) {
	line, err := p.line()
	if err != nil {
		return "", err
	}
	return p.sizedFrom(line, label)
}

func (p *parser) sizedFrom(line, label string) (string, error) {
	m := sizedLine.FindStringSubmatch(line)
	if m == nil || m[1] != label {
		return "", fmt.Errorf("期望 %q 段，得到 %q", label, line)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", err
	}
	buf := make([]byte, n+1)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", fmt.Errorf("读取 %s 正文失败: %w", label, err)
	}
	if buf[n] != '\n' {
		return "", fmt.Errorf("%s 正文长度与声明不符", label)
	}
	return string(buf[:n]), nil
}

func (p *parser) block(header string) (Record, error) {
	m := queryHeader.FindStringSubmatch(header)
	if m == nil {
		return Record{}, fmt.Errorf("无法识别的块头: %q", header)
	}
	ts, err := time.ParseInLocation(TimeLayout, m[2], time.Local)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Time: ts, Mode: strings.ToLower(m[1])}
	if rec.Prompt, err = p.sized("Initial question"); err != nil {
		return Record{}, err
	}
	if rec.Mode == ModeChained {
		rec.Steps = []Step{}
	}

	for {
		line, err := p.line()
		if err != nil {
			return Record{}, err
		}
		switch {
		case line == "":
			continue
		case line == Separator:
			return rec, nil
		case strings.HasPrefix(line, "Preset: "):
			rec.Preset = strings.TrimPrefix(line, "Preset: ")
		case rec.Mode == ModeChained:
			step, err := p.step(line)
			if err != nil {
				return Record{}, err
			}
			rec.Steps = append(rec.Steps, step)
		default:
			hm := respHeader.FindStringSubmatch(line)
			if hm == nil {
				return Record{}, fmt.Errorf("无法识别的响应头: %q", line)
			}
			text, err := p.sized("Length")
			if err != nil {
				return Record{}, err
			}
			rec.Responses = append(rec.Responses, Response{Provider: hm[1], Text: text})
		}
	}
}

func (p *parser) step(header string) (Step, error) {
	m := stepHeader.FindStringSubmatch(header)
	if m == nil {
		return Step{}, fmt.Errorf("无法识别的步骤头: %q", header)
	}
	number, _ := strconv.Atoi(m[1])
	step := Step{Number: number, Provider: m[2], Task: m[3]}

	line, err := p.line()
	if err != nil {
		return Step{}, err
	}
	if task, ok := strings.CutPrefix(line, "Skipped: "); ok && m[3] == skippedLabel {
		step.Skipped = true
		step.Task = task
		return step, nil
	}
	if step.Prompt, err = p.sizedFrom(line, "Prompt sent"); err != nil {
		return Step{}, err
	}
	if step.Response, err = p.sized("Response"); err != nil {
		return Step{}, err
	}
	return step, nil
}
