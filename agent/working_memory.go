package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/BaSui01/storyflow/agent/structured"
	"go.uber.org/zap"
)

var workingMemoryBlock = regexp.MustCompile(`(?s)<working_memory>(.*?)</working_memory>`)

const workingMemoryInstructions = `
The following is your working memory for this conversation. Keep it up to date:
when you learn something that belongs in it, include the complete updated memory
in your reply wrapped in <working_memory></working_memory> tags.`

func (a *Agent) systemPrompt(ctx context.Context, schema *structured.JSONSchema, session string) (string, error) {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(a.cfg.Instructions))

	if a.memory != nil {
		mem, err := a.memory.Load(ctx, session)
		if err != nil {
			return "", err
		}
		mem, err = a.trimMemory(mem)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n")
		sb.WriteString(workingMemoryInstructions)
		sb.WriteString("\n<working_memory>\n")
		sb.WriteString(mem)
		sb.WriteString("\n</working_memory>")
	}

	if schema != nil {
		instructions, err := structured.BuildInstructions(schema)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n\n")
		sb.WriteString(instructions)
	}
	return sb.String(), nil
}

func (a *Agent) trimMemory(mem string) (string, error) {
	limit := a.cfg.Memory.MaxTokens
	n, err := a.tokenizer.CountTokens(mem)
	if err != nil {
		return "", err
	}
	if n <= limit {
		return mem, nil
	}
	a.logger.Debug("working memory trimmed", zap.Int("tokens", n), zap.Int("limit", limit))
	return a.tokenizer.Truncate(mem, limit)
}

// applyWorkingMemory stores the last <working_memory> block of reply and
// returns the reply without any memory blocks.
func (a *Agent) applyWorkingMemory(ctx context.Context, reply, session string) (string, error) {
	matches := workingMemoryBlock.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return reply, nil
	}
	stripped := strings.TrimSpace(workingMemoryBlock.ReplaceAllString(reply, ""))
	if a.memory == nil {
		return stripped, nil
	}
	updated := strings.TrimSpace(matches[len(matches)-1][1])
	if err := a.memory.Save(ctx, session, updated); err != nil {
		return "", err
	}
	a.logger.Debug("working memory saved", zap.String("session", session), zap.Int("bytes", len(updated)))
	return stripped, nil
}
