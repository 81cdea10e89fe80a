package sms

import "regexp"

// A token is any brace-delimited run without nested braces or line breaks,
// so keys like {first-name}, {station name} and {ünit} all resolve.
var placeholderPattern = regexp.MustCompile(`\{([^{}\r\n]+)\}`)

// Render substitutes {key} tokens with values in a single pass; substituted
// values are not scanned again. Tokens with no value are left as written
// and returned in missing, in order of first appearance.
func Render(body string, values map[string]string) (out string, missing []string) {
	seen := make(map[string]bool)

	out = placeholderPattern.ReplaceAllStringFunc(body, func(token string) string {
		key := token[1 : len(token)-1]
		if v, ok := values[key]; ok {
			return v
		}
		if !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
		return token
	})

	return out, missing
}
