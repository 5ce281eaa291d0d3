// Package sanitize cleans scraped text and model output and redacts
// credentials and personal data from messages before they are logged.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicy = bluemonday.StrictPolicy()
	htmlPolicy = newHTMLPolicy()
)

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Text strips all markup and control characters from s and collapses
// whitespace. The result is plain text and Text(Text(s)) == Text(s).
func Text(s string) string {
	for i := 0; i < 4; i++ {
		next := cleanText(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func cleanText(s string) string {
	s = unescape(textPolicy.Sanitize(s))
	if strings.ContainsAny(s, "<>") {
		// decoded entities may have formed new tags
		s = unescape(textPolicy.Sanitize(s))
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r), r == unicode.ReplacementChar, unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// unescape decodes entities until none are left, so that re-parsing the
// output never decodes anything new.
func unescape(s string) string {
	for {
		u := html.UnescapeString(s)
		if u == s {
			return s
		}
		s = u
	}
}

// HTML sanitizes an HTML fragment down to user-generated-content markup.
// Scripts, styles, event handlers and unsafe URLs are removed and links
// get rel="nofollow" and target="_blank".
func HTML(s string) string {
	return strings.TrimSpace(htmlPolicy.Sanitize(s))
}

// StripTags removes all markup and returns the remaining text, without the
// whitespace normalization Text applies.
func StripTags(s string) string {
	return unescape(textPolicy.Sanitize(s))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

var (
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?|ftp|smtps?)://[^\s"'<>]+|\bwww\.[^\s"'<>]+`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ipPattern    = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	credPattern  = regexp.MustCompile(`(?i)\b(bearer\s+|(?:api[_-]?key|token|password|secret)\s*[=:]\s*)[^\s,;\[][^\s,;]*`)
	keyPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`),
		regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{20,}`),
	}
	longTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]{32,}`)
)

// redactLongToken keeps canonical UUIDs (record ids) and redacts any other
// long opaque token.
func redactLongToken(tok string) string {
	if len(tok) == 36 {
		if _, err := uuid.Parse(tok); err == nil {
			return tok
		}
	}
	return "[REDACTED]"
}

// Message redacts URLs, email addresses, IP addresses and API-key-like
// tokens from an error or log message.
func Message(s string) string {
	s = urlPattern.ReplaceAllString(s, "[URL]")
	s = emailPattern.ReplaceAllString(s, "[EMAIL]")
	s = ipPattern.ReplaceAllString(s, "[IP]")
	for _, p := range keyPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	s = longTokenPattern.ReplaceAllStringFunc(s, redactLongToken)
	return credPattern.ReplaceAllString(s, "${1}[REDACTED]")
}

// Error returns the redacted message of err, or "" for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Message(err.Error())
}

// MaskEmail hides most of the local part of an address: ab***@example.com.
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return "***"
	}
	local, domain := addr[:at], addr[at:]
	keep := 2
	if len(local) <= keep {
		keep = 1
	}
	if len(local) == 0 {
		keep = 0
	}
	return local[:keep] + "***" + domain
}

// MaskEmails masks every address in the list.
func MaskEmails(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = MaskEmail(a)
	}
	return out
}

var recipientPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether addr looks like a deliverable address.
func ValidEmail(addr string) bool {
	return recipientPattern.MatchString(addr)
}
