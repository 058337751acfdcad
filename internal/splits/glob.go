package splits

import "strings"

// globMatch is fnmatch-style matching with `*` (any sequence) and `?` (any
// single char). Pattern and text are compared case-insensitively.
func globMatch(pattern, text string) bool {
	return globMatchBytes(strings.ToLower(pattern), strings.ToLower(text))
}

func globMatchBytes(pattern, text string) bool {
	pi, ti := 0, 0
	starPi, starTi := -1, 0

	for ti < len(text) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == text[ti]):
			pi++
			ti++
		case pi < len(pattern) && pattern[pi] == '*':
			starPi = pi
			starTi = ti
			pi++
		case starPi >= 0:
			pi = starPi + 1
			starTi++
			ti = starTi
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
