package llmclient

import (
	"context"
	"fmt"
)

// Tokenizer estimates the token count of a string. The default
// implementation is the deterministic heuristic described below; a real
// tokenizer (e.g., a tiktoken binding) can be plugged in through New's
// tokenizer argument.
type Tokenizer interface {
	CountTokens(s string) int
}

// heuristicTokenizer approximates token counts without any external
// dependency: Chinese characters at ~1.5 chars/token, everything else at
// ~4 chars/token, matching the original's _estimate_tokens_simple.
type heuristicTokenizer struct{}

func (heuristicTokenizer) CountTokens(s string) int {
	chinese, other := 0, 0
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			chinese++
		} else {
			other++
		}
	}
	return int(float64(chinese)/1.5 + float64(other)/4.0)
}

const perMessageOverhead = 4
const conversationOverhead = 2

func (c *Client) estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += c.tokenizer.CountTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.tokenizer.CountTokens(tc.Name)
			total += c.tokenizer.CountTokens(tc.ArgumentsJSON)
		}
	}
	return total + conversationOverhead
}

// shouldCompress reports whether the message list has reached the
// compression threshold or the hard token ceiling.
func (c *Client) shouldCompress(messages []Message) (bool, int) {
	if !c.cfg.EnableContextCompression {
		return false, 0
	}
	tokens := c.estimateTokens(messages)
	thresholdTokens := int(float64(c.cfg.MaxContextTokens) * c.cfg.CompressionThreshold)
	if tokens >= c.cfg.MaxContextTokens {
		c.logger.Warn(context.Background(), "context exceeds max tokens", "tokens", tokens, "max", c.cfg.MaxContextTokens)
		return true, tokens
	}
	if tokens >= thresholdTokens {
		c.logger.Info(context.Background(), "context reached compression threshold", "tokens", tokens, "threshold_tokens", thresholdTokens)
		return true, tokens
	}
	return false, tokens
}

// emergencyTruncate drops whole message groups from the front until the
// remaining history is at or below targetRatio of MaxContextTokens. System
// messages are always preserved.
func (c *Client) emergencyTruncate(messages []Message, targetRatio float64) []Message {
	targetTokens := int(float64(c.cfg.MaxContextTokens) * targetRatio)
	if c.estimateTokens(messages) <= targetTokens {
		return messages
	}

	var systemMessages, rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemMessages = append(systemMessages, m)
		} else {
			rest = append(rest, m)
		}
	}

	groups := groupMessages(rest)
	var kept []messageGroup
	for i := len(groups) - 1; i >= 0; i-- {
		candidate := append([]messageGroup{groups[i]}, kept...)
		test := append(append([]Message{}, systemMessages...), flatten(candidate)...)
		if c.estimateTokens(test) <= targetTokens {
			kept = candidate
		} else {
			break
		}
	}

	result := append(append([]Message{}, systemMessages...), flatten(kept)...)
	c.logger.Warn(context.Background(), "emergency truncated", "before", len(messages), "after", len(result))
	return result
}

// compressContext replaces the middle message groups with a single
// LLM-generated summary, preserving KeepInitialTurns groups at the front
// and KeepRecentTurns groups at the back verbatim. On compression failure
// it falls back to keeping only the most recent groups.
func (c *Client) compressContext(ctx context.Context, messages []Message) []Message {
	current := c.estimateTokens(messages)
	if current > c.cfg.MaxContextTokens {
		messages = c.emergencyTruncate(messages, 0.9)
	}

	var systemMessages, rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemMessages = append(systemMessages, m)
		} else {
			rest = append(rest, m)
		}
	}

	groups := groupMessages(rest)
	minRequired := c.cfg.KeepInitialTurns + c.cfg.KeepRecentTurns
	if len(groups) <= minRequired {
		return messages
	}

	initialGroups := groups[:c.cfg.KeepInitialTurns]
	recentGroups := groups[len(groups)-c.cfg.KeepRecentTurns:]
	middleGroups := groups[c.cfg.KeepInitialTurns : len(groups)-c.cfg.KeepRecentTurns]

	initial := flatten(initialGroups)
	recent := flatten(recentGroups)
	middle := flatten(middleGroups)

	compressedMiddle, ok := c.compressMessageGroup(ctx, middle)
	if !ok {
		return append(append([]Message{}, systemMessages...), recent...)
	}

	result := append(append([]Message{}, systemMessages...), initial...)
	result = append(result, compressedMiddle...)
	result = append(result, recent...)
	return result
}

func (c *Client) compressMessageGroup(ctx context.Context, messages []Message) ([]Message, bool) {
	if len(messages) == 0 {
		return nil, true
	}

	conversationText := formatMessagesForCompression(messages)
	isChinese := containsChinese(firstN(conversationText, 100))

	var prompt string
	if isChinese {
		prompt = "你是一个信息压缩专家。请将以下对话历史压缩为简洁的摘要，保留所有关键信息。\n\n" +
			"**压缩要求：**\n1. 保留所有重要的事实、数据、结论和文件路径\n2. 保留任务目标和当前进展\n" +
			"3. 保留关键的推理逻辑和工具调用结果\n4. 删除冗余的解释和重复内容\n5. 使用简洁的语言，目标压缩比：50%\n\n" +
			"**原始对话：**\n" + conversationText + "\n\n**请输出压缩后的摘要（仅输出摘要内容，不要额外说明）：**\n"
	} else {
		prompt = "You are an information compression expert. Compress the following conversation into a concise summary while preserving all key information.\n\n" +
			"**Requirements:**\n1. Preserve all important facts, data, conclusions, and file paths\n" +
			"2. Preserve task objectives and current progress\n3. Preserve key reasoning logic and tool execution results\n" +
			"4. Remove redundant explanations\n5. Target compression ratio: 50%\n\n" +
			"**Original Conversation:**\n" + conversationText + "\n\nKeep facts, data, file paths. Remove redundancy. Output summary only:"
	}

	compressed, err := c.chatRaw(ctx, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil || len(trimSpace(compressed)) < 10 {
		c.logger.Error(ctx, "context compression failed, falling back to recent messages", "error", err)
		return nil, false
	}

	prefix := "[Compressed Summary] "
	if isChinese {
		prefix = "[压缩摘要] "
	}
	summary := Message{Role: RoleAssistant, Content: prefix + compressed}
	if c.cfg.ThinkingMode {
		empty := ""
		summary.ReasoningContent = &empty
	}
	return []Message{summary}, true
}

func formatMessagesForCompression(messages []Message) string {
	var lines []string
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			lines = append(lines, fmt.Sprintf("用户: %s", m.Content))
		case RoleAssistant:
			lines = append(lines, fmt.Sprintf("助手: %s", m.Content))
			for _, tc := range m.ToolCalls {
				lines = append(lines, fmt.Sprintf("  调用工具: %s", tc.Name))
			}
		case RoleTool:
			content := m.Content
			if len(content) > 1000 {
				content = content[:1000] + "..."
			}
			lines = append(lines, fmt.Sprintf("工具结果[%s]: %s", m.Name, content))
		}
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func containsChinese(s string) bool {
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			return true
		}
	}
	return false
}

func firstN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// ensureReasoningContent backfills an empty ReasoningContent on every
// assistant message when the client operates in thinking mode, matching
// the original's behavior of never sending a thinking-mode history with a
// missing reasoning_content field.
func ensureReasoningContent(messages []Message, thinkingMode bool) []Message {
	if !thinkingMode {
		return messages
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == RoleAssistant && out[i].ReasoningContent == nil {
			empty := ""
			out[i].ReasoningContent = &empty
		}
	}
	return out
}

// truncateMessages is the non-compression fallback history manager: below
// MaxMessages it only truncates oversized tool content; above it, it keeps
// whole trailing message groups until MaxMessages is reached.
func (c *Client) truncateMessages(messages []Message) []Message {
	var systemMessages, rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemMessages = append(systemMessages, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(rest) <= c.cfg.MaxMessages {
		result := append([]Message{}, systemMessages...)
		for _, m := range rest {
			result = append(result, c.truncateToolContent(m))
		}
		return result
	}

	groups := groupMessages(rest)

	var kept []messageGroup
	total := 0
	for i := len(groups) - 1; i >= 0; i-- {
		g := groups[i]
		if total+len(g) <= c.cfg.MaxMessages {
			kept = append([]messageGroup{g}, kept...)
			total += len(g)
			continue
		}
		if g[0].Role == RoleAssistant && g[0].hasToolCalls() {
			break
		}
		remaining := c.cfg.MaxMessages - total
		if remaining > 0 {
			kept = append([]messageGroup{g[:remaining]}, kept...)
		}
		break
	}

	truncated := flatten(kept)
	result := append([]Message{}, systemMessages...)
	for _, m := range truncated {
		result = append(result, c.truncateToolContent(m))
	}
	return result
}

func (c *Client) truncateToolContent(m Message) Message {
	if m.Role != RoleTool || len(m.Content) <= c.cfg.MaxToolContentLength {
		return m
	}
	kept := m.Content[:c.cfg.MaxToolContentLength]
	m.Content = fmt.Sprintf("%s\n\n[content truncated: original %d chars, kept %d chars]", kept, len(m.Content), c.cfg.MaxToolContentLength)
	return m
}
