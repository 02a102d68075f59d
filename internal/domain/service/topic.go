package service

import "strings"

// SanitizeTopicName maps a topic name to the key used for its presence
// documents: trimmed, lower-cased, every run of characters outside
// [a-zA-Z0-9] replaced by a single underscore.
func SanitizeTopicName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(name) {
		if isASCIIAlnum(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.ToLower(b.String())
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
