package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// usernames carry no markup at all
	strictPolicy = bluemonday.StrictPolicy()
	// comment bodies keep a handful of inline tags and plain links
	contentPolicy = newContentPolicy()
)

func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(false)
	return p
}

// SanitizeUsername strips every tag and surrounding whitespace.
func SanitizeUsername(input string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(input))
}

// SanitizeContent keeps b, i, em, strong and a[href], trims the result and turns newlines
// into <br /> so line breaks survive rendering.
func SanitizeContent(input string) string {
	cleaned := strings.TrimSpace(contentPolicy.Sanitize(input))
	return strings.ReplaceAll(cleaned, "\n", "<br />")
}
