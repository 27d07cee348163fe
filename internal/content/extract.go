package content

import "regexp"

// Backends often wrap the post in a JSON-ish envelope. Patterns are tried in order and
// the first capture wins.
var extractPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"activities": \["([^"]+)"`),
	regexp.MustCompile(`"activity": "([^"]+)"`),
	regexp.MustCompile(`'activities': \['([^']+)'\]`),
	regexp.MustCompile(`"activities": \["([^']+)'\]`),
}

// Extract returns the first pattern capture in raw, or raw unchanged.
func Extract(raw string) string {
	for _, re := range extractPatterns {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			return m[1]
		}
	}
	return raw
}
