// Package sanitize bounds the size and shape of remote API payloads before
// they reach a context-limited consumer. The transform is idempotent: running
// it twice yields the same value.
package sanitize

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/k3a/html2text"
)

// Limits are the size caps applied to a payload.
type Limits struct {
	// MaxString caps every string field, marker included.
	MaxString int
	// MaxBody caps a decoded message body after HTML stripping.
	MaxBody int
	// MaxList caps every array, marker element included.
	MaxList int
}

// headerAllowList is the small set of header names that carry meaning for a
// model reading a message. Everything else (routing, auth results, ARC
// chains) is noise measured in kilobytes.
var headerAllowList = map[string]bool{
	"from":             true,
	"to":               true,
	"cc":               true,
	"subject":          true,
	"date":             true,
	"message-id":       true,
	"reply-to":         true,
	"delivered-to":     true,
	"list-unsubscribe": true,
}

// Sanitizer applies Limits to arbitrary decoded JSON values.
type Sanitizer struct {
	limits Limits
}

// New creates a Sanitizer with the given limits.
func New(limits Limits) *Sanitizer {
	return &Sanitizer{limits: limits}
}

// Sanitize returns a bounded copy of v. The input is not modified.
func (s *Sanitizer) Sanitize(v any) any {
	return s.walk(v, "")
}

func (s *Sanitizer) walk(v any, key string) any {
	switch val := v.(type) {
	case string:
		// Decoded bodies live under "text" and keep the body cap, so a
		// second pass leaves them untouched.
		if key == "text" {
			return s.truncateString(val, s.limits.MaxBody)
		}
		return s.truncateString(val, s.limits.MaxString)
	case []any:
		if key == "headers" {
			return s.filterHeaders(val)
		}
		return s.truncateList(val)
	case map[string]any:
		return s.sanitizeMap(val)
	default:
		return v
	}
}

func (s *Sanitizer) sanitizeMap(m map[string]any) map[string]any {
	// A body part carries its content as a base64url "data" field next to a
	// "size" field. It must be decoded before generic string truncation
	// would corrupt the encoding. The decoded text lands under "text", so
	// the absence of "data" on a later pass makes this a no-op.
	data, hasData := m["data"].(string)
	_, hasSize := m["size"]
	decode := hasData && hasSize

	out := make(map[string]any, len(m))
	for k, v := range m {
		if decode && k == "data" {
			continue
		}
		out[k] = s.walk(v, k)
	}
	if decode {
		out["text"] = s.decodeBody(data)
	}
	return out
}

// filterHeaders keeps only allow-listed entries of a name/value header list.
func (s *Sanitizer) filterHeaders(headers []any) []any {
	kept := make([]any, 0, len(headers))
	for _, h := range headers {
		entry, ok := h.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if !headerAllowList[strings.ToLower(name)] {
			continue
		}
		value, _ := entry["value"].(string)
		kept = append(kept, map[string]any{
			"name":  name,
			"value": s.truncateString(value, s.limits.MaxString),
		})
	}
	return s.truncateList(kept)
}

func (s *Sanitizer) truncateList(list []any) []any {
	if len(list) <= s.limits.MaxList {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = s.walk(item, "")
		}
		return out
	}

	keep := s.limits.MaxList - 1
	out := make([]any, 0, s.limits.MaxList)
	for _, item := range list[:keep] {
		out = append(out, s.walk(item, ""))
	}
	out = append(out, fmt.Sprintf("[+%d more, %d total]", len(list)-keep, len(list)))
	return out
}

func (s *Sanitizer) truncateString(str string, limit int) string {
	if len(str) <= limit {
		return str
	}
	marker := fmt.Sprintf("… [truncated, %d chars total]", len(str))
	keep := limit - len(marker)
	if keep < 0 {
		keep = 0
	}
	// Cut on a rune boundary so the kept prefix stays valid UTF-8.
	for keep > 0 && !isRuneStart(str[keep]) {
		keep--
	}
	return str[:keep] + marker
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// decodeBody turns a base64url-encoded message body into bounded plain text.
// HTML is stripped entirely; content that does not decode is truncated as-is.
func (s *Sanitizer) decodeBody(data string) string {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(data)
	}
	if err != nil {
		return s.truncateString(data, s.limits.MaxBody)
	}

	text := html2text.HTML2Text(string(raw))
	return s.truncateString(strings.TrimSpace(text), s.limits.MaxBody)
}
