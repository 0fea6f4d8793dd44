package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences, prefix it with prose, or truncate
// it at the output-token limit. ExtractJSON recovers a valid JSON object
// or array from such output, returning false when nothing can be salvaged.
func ExtractJSON(raw string) (string, bool) {
	s := stripFences(strings.TrimSpace(raw))
	s = stripPreamble(s)

	if json.Valid([]byte(s)) {
		return s, true
	}

	if sub := locateJSON(s); sub != "" {
		if json.Valid([]byte(sub)) {
			return sub, true
		}
		s = sub
	}

	s = trailingCommaRe.ReplaceAllString(s, "$1")
	if json.Valid([]byte(s)) {
		return s, true
	}

	s = closeTruncated(s)
	if json.Valid([]byte(s)) {
		return s, true
	}

	return "", false
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

	preambles = []string{
		"here is the json:",
		"here's the json:",
		"the json is:",
		"json:",
		"output:",
		"response:",
	}
)

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func stripPreamble(s string) string {
	lower := strings.ToLower(s)
	for _, p := range preambles {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

// locateJSON returns the widest {...} or [...] span, preferring an object
// when both are present and the object starts first.
func locateJSON(s string) string {
	objStart := strings.Index(s, "{")
	objEnd := strings.LastIndex(s, "}")
	arrStart := strings.Index(s, "[")
	arrEnd := strings.LastIndex(s, "]")

	hasObj := objStart >= 0 && objEnd > objStart
	hasArr := arrStart >= 0 && arrEnd > arrStart

	switch {
	case hasObj && (!hasArr || objStart < arrStart):
		return s[objStart : objEnd+1]
	case hasArr:
		return s[arrStart : arrEnd+1]
	case objStart >= 0:
		// Opened but never closed; keep the tail for truncation repair.
		return s[objStart:]
	case arrStart >= 0:
		return s[arrStart:]
	}
	return ""
}

// closeTruncated drops a trailing incomplete fragment and closes any
// still-open braces and brackets in reverse nesting order.
func closeTruncated(s string) string {
	stack, inStr := scanOpen(s)
	if len(stack) == 0 && !inStr {
		return s
	}

	s = strings.TrimRight(s, " \t\r\n")
	if idx := strings.LastIndexAny(s, ",{["); idx >= 0 {
		tail := s[idx+1:]
		if strings.Count(tail, `"`)%2 == 1 || strings.HasSuffix(strings.TrimSpace(tail), ":") {
			s = s[:idx+1]
		}
	}
	s = strings.TrimRight(s, ", \t\r\n")

	stack, inStr = scanOpen(s)
	if inStr {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}

// scanOpen walks the text outside string literals and reports the stack
// of unclosed delimiters plus whether the text ends inside a string.
func scanOpen(s string) ([]byte, bool) {
	var stack []byte
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack, inStr
}
