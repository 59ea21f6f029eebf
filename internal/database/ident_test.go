package database

import "testing"

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"mydb", "[mydb]"},
		{"my]db", "[my]]db]"},
		{"a]]b", "[a]]]]b]"},
		{"", "[]"},
		{"test-db", "[test-db]"},
		{"Test DB", "[Test DB]"},
		// Input: ]; DROP DATABASE foo; -- (contains one ] that gets doubled)
		{"]; DROP DATABASE foo; --", "[]]; DROP DATABASE foo; --]"},
	}
	for _, tt := range tests {
		got := QuoteIdentifier(tt.input)
		if got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEscapeLiteral(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"mydb", "mydb"},
		{"my'db", "my''db"},
		{"O'Brien", "O''Brien"},
		{"a''b", "a''''b"},
		{"'; DROP TABLE foo; --", "''; DROP TABLE foo; --"},
	}
	for _, tt := range tests {
		got := EscapeLiteral(tt.input)
		if got != tt.want {
			t.Errorf("EscapeLiteral(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
