package tokenizer

import (
	"fmt"
	"unicode/utf8"
)

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Truncate 返回不超过 maxTokens 个 token 的前缀.
	Truncate(text string, maxTokens int) (string, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// ForModel 返回模型对应的 tiktoken 分词器；编码数据不可用时
// （例如离线环境首次加载失败）自动回退到字符估算器。
func ForModel(model string) Tokenizer {
	primary := NewTiktokenTokenizer(model)
	return &fallbackTokenizer{
		primary: primary,
		backup:  NewEstimatorTokenizer(model, primary.MaxTokens()),
	}
}

type fallbackTokenizer struct {
	primary Tokenizer
	backup  Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err != nil {
		return f.backup.CountTokens(text)
	}
	return n, nil
}

func (f *fallbackTokenizer) Truncate(text string, maxTokens int) (string, error) {
	out, err := f.primary.Truncate(text, maxTokens)
	if err != nil {
		return f.backup.Truncate(text, maxTokens)
	}
	return out, nil
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }

func (f *fallbackTokenizer) Name() string {
	return fmt.Sprintf("%s|%s", f.primary.Name(), f.backup.Name())
}

// truncateRunes 按字符比例截断，保证结果是合法 UTF-8.
func truncateRunes(text string, keep int) string {
	if keep <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= keep {
		return text
	}
	runes := []rune(text)
	return string(runes[:keep])
}
