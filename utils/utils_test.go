package utils

import "testing"

func TestContainsNonASCII(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "empty string", input: "", expected: false},
		{name: "pure ASCII", input: "hello world", expected: false},
		{name: "email address", input: "user@example.com", expected: false},
		{name: "umlaut", input: "müller", expected: true},
		{name: "CJK", input: "郵件", expected: true},
		{name: "mixed", input: "café@example.com", expected: true},
		{name: "high bit only at end", input: "plainÿ", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsNonASCII(tt.input); got != tt.expected {
				t.Errorf("ContainsNonASCII(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEqualFoldASCII(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"STARTTLS", "starttls", true},
		{"Content-Type", "content-type", true},
		{"AUTH", "AUTH", true},
		{"AUTH", "AUT", false},
		{"PLAIN", "LOGIN", false},
		{"", "", true},
	}

	for _, tt := range tests {
		if got := EqualFoldASCII(tt.a, tt.b); got != tt.expected {
			t.Errorf("EqualFoldASCII(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestLowerASCII(t *testing.T) {
	if got := LowerASCII("Example.COM"); got != "example.com" {
		t.Errorf("LowerASCII = %q, want %q", got, "example.com")
	}
	// Already lowercase input is returned unchanged.
	s := "already-lower"
	if got := LowerASCII(s); got != s {
		t.Errorf("LowerASCII = %q, want %q", got, s)
	}
}

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("expected unique IDs")
	}
}
