package helpers

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	blankLines = regexp.MustCompile(`\n{3,}`)
	// elementTag matches real HTML open/close tags and comments only.
	elementTag = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9-]*(?:\s[^<>]*)?/?>|<!--`)
	// autolink matches markdown autolinks such as <https://...>, <tel:...>
	// and <name@example.org>.
	autolink = regexp.MustCompile(`<(?:[A-Za-z][A-Za-z0-9+.-]{1,31}:[^<>\s]*|[^<>\s@]+@[^<>\s]+)>`)
	bareLT   = regexp.MustCompile(`<([^A-Za-z/!]|$)`)
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every HTML
// element and attribute. Script and style bodies are dropped with their tags.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeReport turns a research report into plain markdown. HTML elements the
// research service passed through from crawled pages are removed and runs of
// blank lines are collapsed. Markdown autolinks and a literal '<' such as
// "ages <25" are kept as written. A report without element tags is not run
// through the HTML policy at all.
func SanitizeReport(s string) string {
	s = strings.TrimSpace(trimBOM(strings.TrimSpace(s)))
	if s == "" {
		return ""
	}
	if elementTag.MatchString(s) {
		s = html.UnescapeString(StrictHTMLPolicy().Sanitize(protectAngles(s)))
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// protectAngles escapes every '<' that does not open an element so the policy
// keeps it as text.
func protectAngles(s string) string {
	s = autolink.ReplaceAllStringFunc(s, func(m string) string {
		return "&lt;" + m[1:len(m)-1] + "&gt;"
	})
	return bareLT.ReplaceAllString(s, "&lt;$1")
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
