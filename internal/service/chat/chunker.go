package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChunkLength 单条消息最大长度（字符）
const DefaultMaxChunkLength = 1500

// SplitReply 把回复切成若干条消息，每条不超过 maxLen 个字符
//  1. 文本包含分隔符时按分隔符切，去掉首尾空白和空段
//  2. 超长段按句子（. ! ? 后接空白或结尾）切，并尽量把相邻句子合并到 maxLen
//  3. 超长句子按单词切，单个超长单词按字符硬切
func SplitReply(text, delimiter string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxChunkLength
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	if delimiter != "" && strings.Contains(text, delimiter) {
		for _, part := range strings.Split(text, delimiter) {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
	} else {
		parts = []string{text}
	}

	chunks := make([]string, 0, len(parts))
	for _, part := range parts {
		if runeLen(part) <= maxLen {
			chunks = append(chunks, part)
			continue
		}
		chunks = append(chunks, splitSentences(part, maxLen)...)
	}
	return chunks
}

func splitSentences(text string, maxLen int) []string {
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}
	for _, sentence := range sentences(text) {
		if runeLen(sentence) > maxLen {
			flush()
			chunks = append(chunks, splitWords(sentence, maxLen)...)
			continue
		}
		current = appendWithin(current, sentence, maxLen, flush)
	}
	flush()
	return chunks
}

func splitWords(text string, maxLen int) []string {
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}
	for _, word := range strings.Fields(text) {
		if runeLen(word) > maxLen {
			flush()
			chunks = append(chunks, hardSplit(word, maxLen)...)
			continue
		}
		current = appendWithin(current, word, maxLen, flush)
	}
	flush()
	return chunks
}

// appendWithin 用一个空格拼接，放不下时先 flush
func appendWithin(current, next string, maxLen int, flush func()) string {
	if current == "" {
		return next
	}
	if runeLen(current)+1+runeLen(next) > maxLen {
		flush()
		return next
	}
	return current + " " + next
}

// sentences 终止符（可连续）后紧跟空白或文本结尾时断句
func sentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, s)
			}
			start = j + 1
		}
		i = j
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func hardSplit(word string, maxLen int) []string {
	runes := []rune(word)
	out := make([]string, 0, len(runes)/maxLen+1)
	for len(runes) > maxLen {
		out = append(out, string(runes[:maxLen]))
		runes = runes[maxLen:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
