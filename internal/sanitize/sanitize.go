// Package sanitize strips untrusted email HTML down to a subset that is safe
// to inject into a host page. It never executes or fetches anything: active
// elements are removed wholesale, event handlers and script-scheme URLs are
// dropped, and CSS is rewritten so the message cannot restyle or escape its
// rendering container.
//
// Color-bearing CSS properties are stripped along with the dangerous ones so
// the rendered body inherits the host application's theme instead of
// carrying its own palette. Layout properties survive.
//
// Sanitizing is idempotent: output fed back through produces itself.
package sanitize

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Sanitizer rewrites untrusted HTML for rendering inside the element
// identified by ContainerID. The zero value works but skips selector
// scoping.
type Sanitizer struct {
	ContainerID string
}

// droppedSubtree elements are removed together with all their content.
var droppedSubtree = map[string]bool{
	"script":   true,
	"iframe":   true,
	"object":   true,
	"form":     true,
	"button":   true,
	"select":   true,
	"textarea": true,
	"option":   true,
	"svg":      true,
	"math":     true,
}

// droppedVoid elements have no content to skip; the tag itself is dropped.
var droppedVoid = map[string]bool{
	"input": true,
	"embed": true,
	"meta":  true,
	"base":  true,
	"link":  true,
}

var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"background": true,
	"poster":     true,
}

// legacyColorAttrs predate CSS and carry presentation color state.
var legacyColorAttrs = map[string]bool{
	"bgcolor": true,
	"color":   true,
	"text":    true,
	"link":    true,
	"vlink":   true,
	"alink":   true,
}

// HTML sanitizes an untrusted HTML fragment. The function is total: inputs
// the tokenizer cannot finish yield whatever was safely emitted up to that
// point.
func (s *Sanitizer) HTML(raw string) string {
	var b strings.Builder
	var styleBuf strings.Builder
	inStyle := false
	dropDepth := 0

	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if droppedSubtree[t.Data] {
				if tt == html.StartTagToken {
					dropDepth++
				}
				continue
			}
			if dropDepth > 0 || droppedVoid[t.Data] {
				continue
			}
			if t.Data == "style" {
				if tt == html.StartTagToken {
					inStyle = true
					styleBuf.Reset()
				}
				continue
			}
			s.writeTag(&b, t, tt == html.SelfClosingTagToken)

		case html.EndTagToken:
			t := z.Token()
			if droppedSubtree[t.Data] {
				if dropDepth > 0 {
					dropDepth--
				}
				continue
			}
			if dropDepth > 0 {
				continue
			}
			if t.Data == "style" {
				if inStyle {
					inStyle = false
					if rules := s.styleRules(styleBuf.String()); rules != "" {
						b.WriteString("<style>")
						b.WriteString(rules)
						b.WriteString("</style>")
					}
				}
				continue
			}
			fmt.Fprintf(&b, "</%s>", t.Data)

		case html.TextToken:
			if dropDepth > 0 {
				continue
			}
			if inStyle {
				styleBuf.Write(z.Raw())
				continue
			}
			b.Write(z.Raw())

			// Comments and doctypes are dropped.
		}
	}
	return b.String()
}

func (s *Sanitizer) writeTag(b *strings.Builder, t html.Token, selfClosing bool) {
	b.WriteByte('<')
	b.WriteString(t.Data)

	for _, attr := range t.Attr {
		if attr.Namespace != "" {
			continue
		}
		key := attr.Key
		if strings.HasPrefix(key, "on") {
			continue
		}
		if legacyColorAttrs[key] {
			continue
		}
		// Anchor target/rel are replaced with the canonical pair below.
		if t.Data == "a" && (key == "target" || key == "rel") {
			continue
		}

		switch {
		case key == "style":
			if decls := sanitizeDeclarations(attr.Val); decls != "" {
				fmt.Fprintf(b, ` style="%s"`, html.EscapeString(decls))
			}
		case urlAttrs[key]:
			if u := safeURL(attr.Val); u != "" {
				fmt.Fprintf(b, ` %s="%s"`, key, html.EscapeString(u))
			}
		default:
			fmt.Fprintf(b, ` %s="%s"`, key, html.EscapeString(attr.Val))
		}
	}

	if t.Data == "a" {
		b.WriteString(` target="_blank" rel="noopener noreferrer"`)
	}

	if selfClosing {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
}

// safeURL returns a normalized URL when the value's scheme is acceptable and
// empty string otherwise. Relative URLs, http(s), mailto, cid, and image
// data URIs pass; every other scheme (javascript and friends, non-image
// data) is rejected.
func safeURL(val string) string {
	u, err := url.Parse(strings.TrimSpace(val))
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto", "cid":
		return u.String()
	case "data":
		// SVG data URIs can carry script, so only non-SVG images pass.
		mime := strings.ToLower(u.Opaque)
		if strings.HasPrefix(mime, "image/") && !strings.HasPrefix(mime, "image/svg") {
			return u.String()
		}
	}
	return ""
}
