package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextStripsMarkupAndControlChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Hello world", "Hello world"},
		{"tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"script", "before<script>alert('x')</script>after", "beforeafter"},
		{"entities", "Fish &amp; chips", "Fish & chips"},
		{"escaped tags", "&lt;b&gt;bold&lt;/b&gt; text", "bold text"},
		{"escaped script", "&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"control chars", "line\x00one\x07\nline two", "lineone line two"},
		{"whitespace", "  lots \t of\n\n  space  ", "lots of space"},
		{"stray bracket", "a < b and c > d", "a b and c d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.input))
		})
	}
}

func TestTextIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"Simple headline about Malaysia",
		"<div class=\"x\"><p>Para &amp; more</p><style>p{}</style></div>",
		"&amp;amp;lt;b&amp;gt; nested entities",
		"AT&T &copy; 2024 ​ zero width",
		"<<script>>weird<</script>> nesting",
		"\x1b[31mansi\x1b[0m",
	}

	for _, in := range inputs {
		once := Text(in)
		assert.Equal(t, once, Text(once), "input %q", in)
	}
}

func TestHTMLRemovesUnsafeMarkup(t *testing.T) {
	out := HTML(`<h2>Top</h2><p onclick="x()">Body <a href="https://example.com">link</a></p><script>bad()</script><iframe src="x"></iframe>`)

	assert.Contains(t, out, "<h2")
	assert.Contains(t, out, "<p>Body")
	assert.Contains(t, out, "nofollow")
	assert.Contains(t, out, `target="_blank"`)
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "iframe")
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "word word word", StripTags("<p>word word word</p>"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hel", Truncate("hello", 3))
	assert.Equal(t, "", Truncate("hello", 0))
	assert.Equal(t, "Kuala", Truncate("Kuala Lumpur", 5))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}

func TestMessageRedaction(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"url",
			"Get https://www.freemalaysiatoday.com/category/nation/ failed",
			"Get [URL] failed",
		},
		{
			"email",
			"send to alice@example.com rejected",
			"send to [EMAIL] rejected",
		},
		{
			"ip",
			"dial tcp 10.0.0.12:587: connection refused",
			"dial tcp [IP]: connection refused",
		},
		{
			"openai key",
			"invalid key sk-proj-abcdefghijklmnop",
			"invalid key [REDACTED]",
		},
		{
			"gemini key",
			"key AIzaSyA1234567890abcdefghijk rejected",
			"key [REDACTED] rejected",
		},
		{
			"long token",
			"session 0123456789abcdef0123456789abcdef0123 expired",
			"session [REDACTED] expired",
		},
		{
			"uuid kept",
			"digest 3f2b8c1e-9a4d-4e6f-8b21-0c5d7e9f1a23: invalid status transition",
			"digest 3f2b8c1e-9a4d-4e6f-8b21-0c5d7e9f1a23: invalid status transition",
		},
		{
			"hex token without dashes",
			"token 3f2b8c1e9a4d4e6f8b210c5d7e9f1a23 leaked",
			"token [REDACTED] leaked",
		},
		{
			"password assignment",
			"auth failed password=hunter2",
			"auth failed password=[REDACTED]",
		},
		{
			"ordinary words",
			"token count exceeded for 3 articles",
			"token count exceeded for 3 articles",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Message(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Message(got))
		})
	}
}

func TestError(t *testing.T) {
	assert.Equal(t, "", Error(nil))
	assert.Equal(t, "smtp [IP] said no to [EMAIL]", Error(errors.New("smtp 192.168.1.1 said no to bob@example.org")))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "al***@example.com", MaskEmail("alice@example.com"))
	assert.Equal(t, "a***@example.com", MaskEmail("ab@example.com"))
	assert.Equal(t, "***", MaskEmail("not-an-address"))

	masked := MaskEmails([]string{"alice@example.com", "bob@example.org"})
	assert.Equal(t, []string{"al***@example.com", "bo***@example.org"}, masked)
	for _, m := range masked {
		assert.False(t, strings.Contains(m, "alice") || strings.Contains(m, "bob@"))
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("user@example.com"))
	assert.False(t, ValidEmail("user@example"))
	assert.False(t, ValidEmail("user example@x.com"))
	assert.False(t, ValidEmail(""))
}
