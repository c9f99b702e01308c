package adapter

import "strings"

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if cut := lastNewline(rs, start, end); cut-start >= limit/3 {
				end = cut + 1
			}
			if html {
				if open := danglingTag(rs, start, end); open > start {
					end = open
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func lastNewline(rs []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}

// danglingTag returns the index of a '<' in rs[start:end] with no closing
// '>' before end, or -1.
func danglingTag(rs []rune, start, end int) int {
	open := -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			open = i
		case '>':
			open = -1
		}
	}
	return open
}
