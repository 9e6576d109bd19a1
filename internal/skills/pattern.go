// Package skills builds the case-insensitive alternation used to match a
// ticket's related skills against moderator skill tags.
package skills

import (
	"regexp"
	"strings"
)

// Normalize trims entries, drops empties and duplicates (case-insensitively), keeping order.
func Normalize(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Pattern joins the usable skills into a single alternation. Tokens are
// matched literally. ok is false when nothing usable remains, in which case
// callers must skip the moderator search: an empty alternation matches
// every candidate.
func Pattern(skills []string) (pattern string, ok bool) {
	tokens := Normalize(skills)
	if len(tokens) == 0 {
		return "", false
	}
	for i, tok := range tokens {
		tokens[i] = regexp.QuoteMeta(tok)
	}
	return strings.Join(tokens, "|"), true
}

// Compile turns a pattern from Pattern into a case-insensitive matcher.
func Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// Matches reports whether any candidate skill contains any pattern token.
func Matches(re *regexp.Regexp, candidate []string) bool {
	if re == nil {
		return false
	}
	for _, skill := range candidate {
		if re.MatchString(skill) {
			return true
		}
	}
	return false
}
