// Package jsonpartial parses the JSON object a model emits as a raw token
// stream. The buffer is only valid JSON once fully formed, so the parser
// re-parses the entire accumulated text on every chunk, repairing truncation
// where it can and keeping the last successfully extracted fields otherwise.
package jsonpartial

import (
	"encoding/json"
	"strings"
)

// Result is the best-known view of the streamed object so far. Either Answer
// or Tool may be populated; both empty means nothing usable has arrived yet.
type Result struct {
	Answer    string
	Tool      string
	Arguments map[string]interface{}
}

// Parser holds the last good partial state across chunks, so a chunk that
// breaks JSON syntax mid-token degrades to the previous view instead of
// losing already-streamed answer text.
type Parser struct {
	last Result
}

func NewParser() *Parser { return &Parser{} }

// Last returns the best-known result without consuming new input.
func (p *Parser) Last() Result { return p.last }

// Parse consumes the entire buffer accumulated so far (not a delta) and
// returns the current best-known result. It never fails: chunks that cannot
// be repaired into JSON leave the previous state untouched.
func (p *Parser) Parse(buffer string) Result {
	raw := extractObject(buffer)
	if raw == "" {
		return p.last
	}

	var payload struct {
		Answer    *string                `json:"answer"`
		Tool      string                 `json:"tool"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired := completeObject(raw)
		if repaired == raw {
			return p.last
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return p.last
		}
	}

	if payload.Answer != nil {
		answer := *payload.Answer
		// A bare closing brace shows up when the model starts the answer
		// value with the tail of the object; it is not answer text.
		if answer != "}" && len(answer) >= len(p.last.Answer) {
			p.last.Answer = answer
		}
	}
	if payload.Tool != "" {
		p.last.Tool = payload.Tool
	}
	if payload.Arguments != nil {
		p.last.Arguments = payload.Arguments
	}
	return p.last
}

// extractObject trims the buffer to the first '{', dropping any markdown
// fence or prose the model emitted before the object.
func extractObject(buffer string) string {
	start := strings.Index(buffer, "{")
	if start < 0 {
		return ""
	}
	return buffer[start:]
}

// completeObject closes an unterminated JSON object: an open string literal
// gets its quote, then every unclosed brace and bracket is closed in reverse
// order. A trailing partial token like `"tool":` or a dangling comma is cut
// back to the last complete member first.
func completeObject(raw string) string {
	type frame byte
	var stack []frame
	inString := false
	escaped := false
	lastComplete := -1 // index just past the last complete value at depth 1

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
				if len(stack) == 1 {
					lastComplete = i + 1
				}
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, frame(c))
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 1 {
				lastComplete = i + 1
			}
		default:
			// Close of a bare literal (number, true, false, null) at depth 1.
			if len(stack) == 1 && (c == ',' || c == ' ' || c == '\n') && i > 0 && isLiteralByte(raw[i-1]) {
				lastComplete = i
			}
		}
	}

	if len(stack) == 0 && !inString {
		return raw
	}

	out := raw
	if inString {
		out += `"`
		// The open string was a value; it is now complete.
	} else if tail := strings.TrimRight(out, " \n\t"); strings.HasSuffix(tail, ",") || strings.HasSuffix(tail, ":") {
		// A dangling separator means the next member never arrived; cut
		// back to the last complete member so the object parses.
		if lastComplete > 0 {
			out = out[:lastComplete]
		} else {
			out = strings.TrimRight(tail, ",:")
		}
	}
	// Re-scan for what is still open after the trim above.
	stack = stack[:0]
	inString = false
	escaped = false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, frame(c))
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

func isLiteralByte(c byte) bool {
	return c >= '0' && c <= '9' || c == 'e' || c == 'l' || c == '.' || c == '-'
}

// DeltaTracker computes the unsent suffix of a monotonically growing answer
// string so downstream consumers receive each character exactly once.
type DeltaTracker struct {
	sent string
}

// Delta returns the new suffix of full relative to everything already
// returned. Text that is not a prefix extension of what was sent produces no
// delta; the tracker waits for the answer to grow past it again.
func (d *DeltaTracker) Delta(full string) string {
	if full == "" || !strings.HasPrefix(full, d.sent) {
		return ""
	}
	delta := full[len(d.sent):]
	if delta != "" {
		d.sent = full
	}
	return delta
}

// Sent reports the answer text emitted so far.
func (d *DeltaTracker) Sent() string { return d.sent }
