package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeUsername(t *testing.T) {
	cases := map[string]string{
		"  Alice  ":                    "Alice",
		"<b>bob</b>":                   "bob",
		"<a href=\"http://x\">eve</a>": "eve",
		"<script>alert(1)</script>":    "",
		"   ":                          "",
		"<img src=x onerror=alert(1)>": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeUsername(in), "input %q", in)
	}
}

func TestSanitizeContentAllowList(t *testing.T) {
	assert.Equal(t, "<b>bold</b> <i>it</i> <em>em</em> <strong>s</strong>",
		SanitizeContent("<b>bold</b> <i>it</i> <em>em</em> <strong>s</strong>"))
	assert.Equal(t, `<a href="https://example.com">link</a>`,
		SanitizeContent(`<a href="https://example.com" onclick="x()">link</a>`))
	assert.Equal(t, "hi", SanitizeContent("<div>hi</div>"))
	assert.Equal(t, "", SanitizeContent("<script>alert(1)</script>"))
}

func TestSanitizeContentNewlinesAndTrim(t *testing.T) {
	assert.Equal(t, "line one<br />line two", SanitizeContent("\n  line one\nline two  \n"))
}

func TestSanitizeContentDropsJavascriptLinks(t *testing.T) {
	out := SanitizeContent(`<a href="javascript:alert(1)">x</a>`)
	assert.NotContains(t, out, "javascript")
	assert.Contains(t, out, "x")
}
