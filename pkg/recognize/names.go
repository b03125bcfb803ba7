package recognize

import (
	"strings"
	"unicode"
)

// candidateNames builds the ordered, de-duplicated list of names to try when
// matching a provider detail record: original title, localized title, then
// the Chinese and English parts parsed from the localized title. Empty
// values are dropped.
func candidateNames(originalTitle, title string) []string {
	base := title
	if base == "" {
		base = originalTitle
	}

	raw := []string{originalTitle, title, chineseName(base), englishName(base)}
	seen := make(map[string]struct{}, len(raw))
	names := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// chineseName returns the leading part of a mixed title before the first
// latin letter, e.g. "风骚律师 Better Call Saul" -> "风骚律师". Digits stay
// attached so a trailing season number can still be stripped later.
func chineseName(title string) string {
	for i, r := range title {
		if unicode.Is(unicode.Latin, r) {
			return strings.TrimSpace(title[:i])
		}
	}
	if !containsCJK(title) {
		return ""
	}
	return strings.TrimSpace(title)
}

// englishName returns the latin part of a mixed title, e.g.
// "风骚律师 Better Call Saul" -> "Better Call Saul"
func englishName(title string) string {
	for i, r := range title {
		if unicode.Is(unicode.Latin, r) {
			return strings.TrimSpace(title[i:])
		}
	}
	return ""
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
