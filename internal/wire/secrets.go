package wire

import (
	"encoding/json"
	"regexp"
)

// clientTokenPattern matches a JSON string value for a "client_token" key,
// capturing the value so it can be replaced in place without fully
// re-serializing (and thus re-ordering) the surrounding JSON document.
var clientTokenPattern = regexp.MustCompile(`"client_token"\s*:\s*"([^"]*)"`)

// Obfuscate redacts any client_token value found in a JSON-encoded byte
// string (or document fragment), replacing it with "<first 2>...<last 2>"
// as spec.md §6 "Secrets handling" requires. It is a textual transform, not
// a full JSON round-trip, so it preserves key order and works even on
// partial/truncated log excerpts.
func Obfuscate(jsonText string) string {
	return clientTokenPattern.ReplaceAllStringFunc(jsonText, func(match string) string {
		sub := clientTokenPattern.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		masked := maskToken(sub[1])
		out, err := json.Marshal(masked)
		if err != nil {
			return match
		}
		return `"client_token":` + string(out)
	})
}

// maskToken shortens a secret to its first two and last two characters,
// joined by "...". Tokens of 4 characters or fewer are fully redacted since
// there is nothing safe left to reveal.
func maskToken(token string) string {
	if len(token) <= 4 {
		return "..."
	}
	return token[:2] + "..." + token[len(token)-2:]
}
