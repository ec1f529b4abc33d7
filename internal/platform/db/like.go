package db

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike quotes the LIKE wildcards in s for PostgreSQL's default
// backslash escape, so s matches literally inside a pattern.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ContainsPattern returns a LIKE pattern matching any value containing s.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}
