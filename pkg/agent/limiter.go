package agent

import "strings"

// ReplyLimiter keeps spoken replies short. A zero field disables that limit.
type ReplyLimiter struct {
	MaxChars     int
	MaxSentences int
}

func (l ReplyLimiter) Enabled() bool {
	return l.MaxChars > 0 || l.MaxSentences > 0
}

// Apply cuts text after MaxSentences sentences and MaxChars characters and
// reports whether anything was removed.
func (l ReplyLimiter) Apply(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !l.Enabled() || text == "" {
		return text, false
	}
	out := truncateSentences(text, l.MaxSentences)
	if l.MaxChars > 0 {
		if runes := []rune(out); len(runes) > l.MaxChars {
			out = strings.TrimSpace(string(runes[:l.MaxChars]))
		}
	}
	return out, out != text
}

func truncateSentences(text string, maxSentences int) string {
	if maxSentences <= 0 {
		return text
	}
	var out strings.Builder
	count := 0
	for _, r := range text {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= maxSentences {
				break
			}
		}
	}
	result := strings.TrimSpace(out.String())
	if result == "" {
		return text
	}
	return result
}
