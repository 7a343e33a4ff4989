// Package search holds small string-matching helpers shared by the
// storage layer's keyword search queries.
package search

import "strings"

// EscapeILIKE escapes keyword's backslash, percent, and underscore
// characters so it can be safely embedded in a PostgreSQL ILIKE
// pattern, then wraps it for a substring match.
func EscapeILIKE(keyword string) string {
	escaped := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
	).Replace(keyword)
	return "%" + escaped + "%"
}
