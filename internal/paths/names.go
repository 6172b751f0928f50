package paths

import (
	"strings"
	"unicode/utf8"
)

const maxFileNameLen = 200

// NameKey folds an entity name into the key used for case-insensitive
// "already exists" lookups.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FileSafe makes s usable as a single file name component.
// Rules:
// - Characters <>:"/\|?* become underscores
// - Leading/trailing dots and spaces are removed
// - Result is capped at 200 bytes, keeping the extension
// - Empty results become "unnamed_file"
func FileSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`<>:"/\|?*`, r) || r < 0x20 {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	s = strings.Trim(b.String(), ". ")

	if len(s) > maxFileNameLen {
		ext := ""
		if i := strings.LastIndexByte(s, '.'); i > 0 && len(s)-i <= 16 {
			ext = s[i:]
		}
		s = truncateBytes(s[:len(s)-len(ext)], maxFileNameLen-len(ext)) + ext
	}

	if s == "" {
		return "unnamed_file"
	}
	return s
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
