// Package preflight normalizes and vets model-authored script text before any
// sandbox is built for it. Rejecting obviously broken code here is the
// cheapest failure path in the whole gateway.
package preflight

import (
	"regexp"
	"strings"
)

// iifePattern matches one self-invoking async wrapper around a function body.
var iifePattern = regexp.MustCompile(`(?s)^\(\s*async\s*(?:function\s*\w*\s*)?\(\s*\)\s*(?:=>)?\s*\{(.*)\}\s*\)\s*\(\s*\)\s*;?$`)

// Normalize strips the invocation artifacts models tend to append to a script
// (stray trailing semicolons and unbalanced closing parens) and unwraps one
// self-invoking async layer, so the result is a plain async function body.
func Normalize(raw string) string {
	code := strings.TrimSpace(raw)

	for {
		trimmed := strings.TrimRight(code, " \t\r\n")
		if (strings.HasSuffix(trimmed, ";") || strings.HasSuffix(trimmed, ")")) && hasStrayClose(trimmed) {
			code = trimmed[:len(trimmed)-1]
			continue
		}
		code = trimmed
		break
	}

	if m := iifePattern.FindStringSubmatch(code); m != nil {
		code = m[1]
	}

	return strings.TrimSpace(code)
}

// hasStrayClose reports whether the code closes more parens than it opens.
// A surplus closing paren at the end is an invocation artifact, not code.
func hasStrayClose(code string) bool {
	depth := 0
	for _, r := range code {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth < 0
}

var asyncMarker = regexp.MustCompile(`\basync\b`)

// DetectTruncation reports whether the code looks cut off mid-generation.
// This is a string heuristic, not a parse: it catches the common failure
// shapes (empty output, code ending on an operator or opener, an async
// function with no closing brace) and accepts everything else.
func DetectTruncation(code string) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return true
	}

	last := trimmed[len(trimmed)-1]
	if strings.ContainsRune("{([,.+*/=&|<>:%!?-", rune(last)) {
		return true
	}

	if asyncMarker.MatchString(trimmed) && !strings.Contains(trimmed, "}") {
		return true
	}

	return false
}
