package sftp

import (
	"strings"
)

// Match reports whether name matches the wildcard pattern.
//
// The pattern syntax is deliberately small:
//
//	'*' matches any run of characters, including none
//	'?' matches exactly one character
//	any other byte matches itself only
//
// Matching is byte-wise, and the pattern must cover the whole name.
// A pattern that begins with a wildcard never matches a name that begins
// with a dot, following the shell convention for hidden files.
func Match(pattern, name string) bool {
	if strings.HasPrefix(name, ".") {
		if strings.HasPrefix(pattern, "*") || strings.HasPrefix(pattern, "?") {
			return false
		}
	}

	return match(pattern, name)
}

// match walks pattern and name together without the hidden-file rule.
//
// A '*' is first taken as the empty run.
// On a later mismatch, the walk backtracks to the most recent '*' and widens
// it by one character, so every possible expansion is eventually tried.
// Remembering only the most recent '*' suffices:
// widening an earlier one can never rescue a walk that this one cannot.
func match(pattern, name string) bool {
	var px, nx int
	var nextPx, nextNx int

	for px < len(pattern) || nx < len(name) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				nextPx = px
				nextNx = nx + 1
				px++
				continue

			case '?':
				if nx < len(name) {
					px++
					nx++
					continue
				}

			default:
				if nx < len(name) && name[nx] == c {
					px++
					nx++
					continue
				}
			}
		}

		if 0 < nextNx && nextNx <= len(name) {
			px = nextPx
			nx = nextNx
			continue
		}

		return false
	}

	return true
}
