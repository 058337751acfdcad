package sanitize

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

func scanCSS(css string) []scanner.Token {
	s := scanner.New(css)
	var toks []scanner.Token
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			return toks
		}
		if tok.Type == scanner.TokenComment {
			continue
		}
		toks = append(toks, *tok)
	}
}

// colorProperty reports whether a CSS property carries color. Border and
// outline shorthands are included since their values may embed a color;
// border-*-width and border-*-style do not and stay.
func colorProperty(name string) bool {
	if strings.Contains(name, "color") ||
		strings.Contains(name, "background") ||
		strings.Contains(name, "shadow") {
		return true
	}
	switch name {
	case "border", "border-top", "border-right", "border-bottom", "border-left", "outline", "filter":
		return true
	}
	return false
}

// sanitizeDeclarations filters a declaration list (the contents of a style
// attribute or rule body). Declarations with url() values, expression()
// calls, or color-bearing properties are removed; the rest are re-emitted in
// canonical prop:value form.
func sanitizeDeclarations(css string) string {
	var out []string

	var prop string
	var value strings.Builder
	drop := false
	inValue := false

	flush := func() {
		if prop != "" && inValue && !drop && !colorProperty(prop) {
			v := strings.Join(strings.Fields(value.String()), " ")
			if v != "" {
				out = append(out, prop+":"+v)
			}
		}
		prop = ""
		value.Reset()
		drop = false
		inValue = false
	}

	for _, tok := range scanCSS(css) {
		switch {
		case tok.Type == scanner.TokenChar && tok.Value == ";":
			flush()
		case tok.Type == scanner.TokenChar && tok.Value == ":" && !inValue:
			inValue = true
		case !inValue:
			if tok.Type == scanner.TokenIdent {
				prop = strings.ToLower(tok.Value)
			}
		default:
			switch tok.Type {
			case scanner.TokenURI:
				drop = true
			case scanner.TokenFunction:
				if strings.HasPrefix(strings.ToLower(tok.Value), "expression") {
					drop = true
				}
				value.WriteString(tok.Value)
			case scanner.TokenS:
				value.WriteByte(' ')
			default:
				value.WriteString(tok.Value)
			}
		}
	}
	flush()

	return strings.Join(out, ";")
}

// styleRules rewrites a <style> block. Resource-fetching at-rules (@import,
// @font-face) and unrecognized at-rules are removed, @media recurses, and
// every rule selector is scoped under the container id.
func (s *Sanitizer) styleRules(css string) string {
	return s.filterRules(scanCSS(css))
}

func (s *Sanitizer) filterRules(toks []scanner.Token) string {
	var out []string

	i := 0
	for i < len(toks) {
		tok := toks[i]
		switch {
		case tok.Type == scanner.TokenS:
			i++
		case tok.Type == scanner.TokenAtKeyword:
			name := strings.ToLower(strings.TrimPrefix(tok.Value, "@"))
			if name == "media" {
				cond, body, next := splitBlock(toks, i+1)
				if inner := s.filterRules(body); inner != "" {
					out = append(out, "@media "+cond+"{"+inner+"}")
				}
				i = next
			} else {
				i = skipAtRule(toks, i+1)
			}
		default:
			selector, body, next := splitBlock(toks, i)
			decls := sanitizeDeclarations(joinTokens(body))
			if selector != "" && decls != "" {
				out = append(out, s.scopeSelectors(selector)+"{"+decls+"}")
			}
			i = next
		}
	}
	return strings.Join(out, "\n")
}

// splitBlock reads tokens up to the next '{' as a prelude, then the balanced
// block body. Returns the collapsed prelude text, the body tokens, and the
// index past the closing brace. Without a block the prelude runs to the end.
func splitBlock(toks []scanner.Token, i int) (prelude string, body []scanner.Token, next int) {
	var pre strings.Builder
	for i < len(toks) {
		tok := toks[i]
		if tok.Type == scanner.TokenChar && tok.Value == "{" {
			i++
			depth := 1
			start := i
			for i < len(toks) {
				tok = toks[i]
				if tok.Type == scanner.TokenChar {
					switch tok.Value {
					case "{":
						depth++
					case "}":
						depth--
						if depth == 0 {
							return collapse(pre.String()), toks[start:i], i + 1
						}
					}
				}
				i++
			}
			return collapse(pre.String()), toks[start:i], i
		}
		if tok.Type == scanner.TokenS {
			pre.WriteByte(' ')
		} else {
			pre.WriteString(tok.Value)
		}
		i++
	}
	return collapse(pre.String()), nil, i
}

// skipAtRule consumes a non-media at-rule: through its balanced block if it
// has one, otherwise through the terminating semicolon.
func skipAtRule(toks []scanner.Token, i int) int {
	depth := 0
	for i < len(toks) {
		tok := toks[i]
		if tok.Type == scanner.TokenChar {
			switch tok.Value {
			case "{":
				depth++
			case "}":
				depth--
				if depth <= 0 {
					return i + 1
				}
			case ";":
				if depth == 0 {
					return i + 1
				}
			}
		}
		i++
	}
	return i
}

func joinTokens(toks []scanner.Token) string {
	var b strings.Builder
	for _, tok := range toks {
		if tok.Type == scanner.TokenS {
			b.WriteByte(' ')
		} else {
			b.WriteString(tok.Value)
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// scopeSelectors prefixes each comma-separated selector with the container
// id. Selectors already scoped are left alone, which keeps re-sanitizing
// stable.
func (s *Sanitizer) scopeSelectors(selectors string) string {
	if s.ContainerID == "" {
		return selectors
	}
	scope := "#" + s.ContainerID

	parts := strings.Split(selectors, ",")
	for i, part := range parts {
		part = collapse(part)
		if part == scope || strings.HasPrefix(part, scope+" ") {
			parts[i] = part
			continue
		}
		parts[i] = scope + " " + part
	}
	return strings.Join(parts, ", ")
}
