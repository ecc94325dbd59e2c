package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"conduit/internal/domain"
)

var extractedSeq atomic.Uint64

// toolNameAliases maps common model-generated name variations to the
// registered tool names.
var toolNameAliases = map[string]string{
	"webfetch":   "web_fetch",
	"web-fetch":  "web_fetch",
	"websearch":  "web_search",
	"web-search": "web_search",
	"readfile":   "read_file",
	"read-file":  "read_file",
	"writefile":  "write_file",
	"write-file": "write_file",
	"editfile":   "edit_file",
	"edit-file":  "edit_file",
	"listdir":    "list_dir",
	"list-dir":   "list_dir",
	"shell":      "exec",
	"bash":       "exec",
}

// extractToolCallsFromContent parses tool calls that a model wrote into its
// text instead of the structured field. Accepted shapes:
//   - `{"name":"exec","arguments":{...}}` or an array of such objects
//   - the same inside a ```json fence
//   - the same surrounded by prose, e.g. "assistant\n{...}\nDoing that now."
func extractToolCallsFromContent(content string) []domain.ToolCall {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if calls := parseToolJSON(content); len(calls) > 0 {
		return calls
	}
	if start, end := findJSONBounds(content); start >= 0 && end > start {
		return parseToolJSON(content[start:end])
	}
	return nil
}

// findJSONBounds locates the first top-level JSON object or array in s and
// returns its [start, end) range, or (-1, -1).
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}
	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch ch {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

type rawToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

func (r rawToolCall) toolCall() domain.ToolCall {
	args := r.Arguments
	if args == nil {
		args = r.Parameters
	}
	if args == nil {
		args = map[string]any{}
	}
	return domain.ToolCall{
		ID:        fmt.Sprintf("extracted_%d", extractedSeq.Add(1)),
		Name:      normalizeToolName(r.Name),
		Arguments: args,
	}
}

// parseToolJSON decodes raw as one call or an array of calls. Invalid
// escape sequences are repaired before a second attempt.
func parseToolJSON(raw string) []domain.ToolCall {
	for _, text := range []string{raw, sanitizeJSONEscapes(raw)} {
		var single rawToolCall
		if err := json.Unmarshal([]byte(text), &single); err == nil && single.Name != "" {
			return []domain.ToolCall{single.toolCall()}
		}
		var multi []rawToolCall
		if err := json.Unmarshal([]byte(text), &multi); err == nil {
			var calls []domain.ToolCall
			for _, c := range multi {
				if c.Name != "" {
					calls = append(calls, c.toolCall())
				}
			}
			if len(calls) > 0 {
				return calls
			}
		}
	}
	return nil
}

func normalizeToolName(name string) string {
	if mapped, ok := toolNameAliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

// stripRolePrefix removes a leaked "assistant" role prefix from content.
func stripRolePrefix(content string) string {
	for _, p := range []string{"assistant\n", "Assistant\n", "assistant:\n", "Assistant:\n", "assistant: ", "Assistant: "} {
		if strings.HasPrefix(content, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does
// not allow, such as \% or \Y, inside string literals.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if inString && ch == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(s[i+1])
				i++
			}
			continue
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}
