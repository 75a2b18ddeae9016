package sandbox

import "regexp"

// secretPatterns is the fixed set of patterns applied to every line of log
// text before it is persisted or streamed, per the redaction policy: no
// secret value — injected or platform-issued — reaches storage or a
// WebSocket client in cleartext.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`SECRET_\w+=\S+`),
	regexp.MustCompile(`API_KEY=\S+`),
	regexp.MustCompile(`PASSWORD=\S+`),
	regexp.MustCompile(`TOKEN=\S+`),
	regexp.MustCompile(`PRIVATE_KEY=\S+`),
	regexp.MustCompile(`sk_[A-Za-z0-9_]{8,}`),
}

// RedactSecrets replaces every matched occurrence in text with a
// "[REDACTED]" marker in place of the captured value. Exported so the
// WebSocket hub can apply the same redaction to its live log tail that the
// log collector applies before persisting: every byte of container log text
// reaching storage or a client goes through this one function.
func RedactSecrets(text string) string {
	return redactSecrets(text)
}

// redactSecrets replaces every matched occurrence in text with a
// "[REDACTED]" marker in place of the captured value.
func redactSecrets(text string) string {
	for _, pattern := range secretPatterns {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			if idx := indexOfEquals(match); idx >= 0 {
				return match[:idx+1] + "[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return text
}

func indexOfEquals(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return i
		}
	}
	return -1
}
