package database

import "strings"

// QuoteIdentifier safely quotes a SQL Server identifier (database, file
// or login name) by wrapping in brackets and doubling any internal
// closing brackets.
//
//	QuoteIdentifier("my]db") → "[my]]db]"
func QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// EscapeLiteral safely escapes a T-SQL string literal value by doubling
// single-quotes. The result should be placed inside N'...' quotes.
//
//	"WHERE name = N'" + EscapeLiteral(name) + "'"
func EscapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
