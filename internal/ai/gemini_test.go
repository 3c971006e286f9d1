package ai

import (
	"testing"

	"google.golang.org/genai"
)

func TestHistoryRoleMapping(t *testing.T) {
	cases := []struct {
		in   string
		want genai.Role
	}{
		{"character", genai.RoleModel},
		{"user", genai.RoleUser},
		{"narrator", genai.RoleUser},
		{"", genai.RoleUser},
	}
	for _, tc := range cases {
		var got genai.Role = historyRole(tc.in)
		if got != tc.want {
			t.Errorf("historyRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConfidenceForLength(t *testing.T) {
	if got := confidenceFor(""); got != 0 {
		t.Errorf("empty text confidence = %v, want 0", got)
	}
	if got := confidenceFor("corto"); got != 0.5 {
		t.Errorf("short text confidence = %v, want 0.5", got)
	}
	if got := confidenceFor("¡Qué emoción, vecinos! Esto hay que celebrarlo."); got != 0.9 {
		t.Errorf("full text confidence = %v, want 0.9", got)
	}
}
