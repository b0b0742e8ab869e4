package generate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// TopicMinLength is the minimum accepted topic length after sanitization.
	TopicMinLength = 3
	// TopicMaxLength is the maximum accepted topic length after sanitization.
	TopicMaxLength = 200
)

var (
	strippedChars  = regexp.MustCompile(`[<>"'&]`)
	collapseSpaces = regexp.MustCompile(`\s+`)

	forbiddenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(hack|exploit|malware|virus)\b`),
		regexp.MustCompile(`(?i)\b(password|token|secret|key)\b`),
		regexp.MustCompile(`[<>{}\[\]]`),
	}

	scriptTags = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTags   = regexp.MustCompile(`<[^>]*>`)
	jsScheme   = regexp.MustCompile(`(?i)javascript:`)
)

// SanitizeTopic normalizes user input: trims, strips markup characters,
// collapses whitespace and caps the length.
func SanitizeTopic(topic string) string {
	s := strings.TrimSpace(topic)
	s = strippedChars.ReplaceAllString(s, "")
	s = collapseSpaces.ReplaceAllString(s, " ")
	if len(s) > TopicMaxLength {
		// Cut on a rune boundary so a multi-byte rune is never split
		cut := TopicMaxLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

// ValidateTopic sanitizes the topic and checks it against the length and
// content rules. It returns the sanitized topic and a nil error when
// acceptable.
func ValidateTopic(topic string) (string, error) {
	sanitized := SanitizeTopic(topic)

	if len(sanitized) < TopicMinLength {
		return "", ErrTopicTooShort
	}
	if len(sanitized) > TopicMaxLength {
		return "", ErrTopicTooLong
	}
	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(sanitized) {
			return "", ErrTopicForbidden
		}
	}
	return sanitized, nil
}

// SanitizeResponse strips script blocks, markup and javascript: schemes from
// upstream content before it is handed back to callers.
func SanitizeResponse(content string) string {
	s := scriptTags.ReplaceAllString(content, "")
	s = htmlTags.ReplaceAllString(s, "")
	s = jsScheme.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
