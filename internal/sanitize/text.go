package sanitize

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"mvdan.cc/xurls/v2"
)

var linkPattern = xurls.Strict()

// Text renders a plain-text body as HTML: everything is escaped, bare
// http(s) URLs become safe anchors, and newlines become <br>. Used when a
// message has no HTML body.
func (s *Sanitizer) Text(raw string) string {
	var b strings.Builder

	last := 0
	for _, loc := range linkPattern.FindAllStringIndex(raw, -1) {
		writeEscaped(&b, raw[last:loc[0]])
		link := raw[loc[0]:loc[1]]

		u := safeURL(link)
		if u != "" && (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			fmt.Fprintf(&b, `<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
				html.EscapeString(u), html.EscapeString(link))
		} else {
			writeEscaped(&b, link)
		}
		last = loc[1]
	}
	writeEscaped(&b, raw[last:])

	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	b.WriteString(strings.ReplaceAll(html.EscapeString(s), "\n", "<br>\n"))
}
