package service

import (
	"bytes"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// TruncationMarker 追加在被截断的正文末尾。
const TruncationMarker = "…"

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	plainTextPolicy = bluemonday.StrictPolicy()
)

// normalizePlainText 将模型输出整理为单段纯文本：
// markdown 渲染为 HTML 后剥离全部标签，再反转义实体并压缩空白。
func normalizePlainText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = strings.Trim(raw, "\"“”")

	var buf bytes.Buffer
	var text string
	if err := markdownEngine.Convert([]byte(raw), &buf); err == nil {
		text = plainTextPolicy.Sanitize(buf.String())
	} else {
		text = plainTextPolicy.Sanitize(raw)
	}
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// fitContent 保证正文的 PostLength 不超过 budget；超出时截断并追加 TruncationMarker。
// 先按逐字符权重截断；短链接按 23 计可能超出，再逐字回退直到满足 budget。
func fitContent(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if PostLength(text) <= budget {
		return text
	}
	markerLen := weightOf(TruncationMarker)
	if budget < markerLen {
		return ""
	}

	limit := budget - markerLen
	used := 0
	cut := len(text)
	for i, r := range text {
		if used+runeWeight(r) > limit {
			cut = i
			break
		}
		used += runeWeight(r)
	}
	kept := text[:cut]
	trimmed := strings.TrimRightFunc(kept, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) && r != ')' && r != ']'
	})
	if trimmed == "" {
		trimmed = kept
	}
	for trimmed != "" && PostLength(trimmed+TruncationMarker) > budget {
		_, size := utf8.DecodeLastRuneInString(trimmed)
		trimmed = trimmed[:len(trimmed)-size]
	}
	return trimmed + TruncationMarker
}
