package util

import (
	"strings"
	"unicode"
)

// ParseTags splits a free-form tag string on whitespace and commas.
// Surrounding quotes and brackets are dropped.
func ParseTags(tagStr string) []string {
	if strings.TrimSpace(tagStr) == "" {
		return []string{}
	}

	fields := strings.FieldsFunc(tagStr, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	var cleanTags []string
	for _, tag := range fields {
		tag = strings.Trim(tag, "\"'[]")
		if tag != "" {
			cleanTags = append(cleanTags, tag)
		}
	}

	return cleanTags
}

// NormalizeHashtags turns "news, daily #memes" into "#news #daily #memes".
func NormalizeHashtags(tagStr string) string {
	tags := ParseTags(tagStr)
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimLeft(tag, "#")
		if tag == "" {
			continue
		}
		out = append(out, "#"+tag)
	}
	return strings.Join(out, " ")
}

// AppendBlock joins text and block with a blank line, skipping empty parts.
func AppendBlock(text, block string) string {
	if block == "" {
		return text
	}
	if text == "" {
		return block
	}
	return text + "\n\n" + block
}

// PrependBlock is AppendBlock with the block placed first.
func PrependBlock(text, block string) string {
	if block == "" {
		return text
	}
	if text == "" {
		return block
	}
	return block + "\n\n" + text
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
