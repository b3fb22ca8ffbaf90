// Package mention finds @username references in free text.
package mention

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// A username is a run of letters, digits, underscore, dot and hyphen.
var tokenPattern = regexp.MustCompile(`@([\p{L}\p{N}\p{Mn}_.-]+)`)

// Extract returns the distinct usernames referenced in text, in order of
// first appearance.
//
// A reference must be followed by whitespace, end of text, or one of
// . , ! ?. When the full run is followed by anything else, the longest
// prefix that ends right before an inner dot is used instead ("@bob.x'"
// yields "bob"). Trailing dots are sentence punctuation and are dropped.
// "@a@b" yields only "b": the first run is not terminated.
func Extract(text string) []string {
	matches := tokenPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name, ok := terminated(text[m[2]:m[3]], text[m[3]:])
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func terminated(run, rest string) (string, bool) {
	if !endsToken(rest) {
		cut := strings.LastIndexByte(run, '.')
		if cut <= 0 {
			return "", false
		}
		run = run[:cut]
	}
	run = strings.TrimRight(run, ".")
	return run, run != ""
}

func endsToken(rest string) bool {
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	switch r {
	case '.', ',', '!', '?':
		return true
	}
	return unicode.IsSpace(r)
}
