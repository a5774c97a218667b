package phonetic_test

import (
	"testing"

	"github.com/MrWong99/salescopilot/internal/transcript/phonetic"
)

func TestMatcher_Contains(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"exact words", "Okay, let me check the rate for you.", true},
		{"misspelled word", "let me chek that", true},
		{"sound-alike word", "led me check on that", true},
		{"different words", "let us begin the call", false},
		{"too short", "let me", false},
		{"empty text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := m.Contains(tt.text, "let me check"); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatcher_ScoreExactIsOne(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	score, ok := m.Score("LET ME CHECK", "let me check")
	if !ok || score != 1 {
		t.Errorf("Score = (%f, %v), want (1, true)", score, ok)
	}
}

func TestMatcher_PrefersBestWindow(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	score, ok := m.Score("let me chek, actually let me check", "let me check")
	if !ok || score != 1 {
		t.Errorf("Score = (%f, %v), want the exact window to win", score, ok)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if m.Contains("let me chek", "let me check") {
		t.Fatal("near match accepted with thresholds at 0.99")
	}
}

func TestMatcher_EmptyPhrase(t *testing.T) {
	t.Parallel()

	if phonetic.New().Contains("anything at all", "  ") {
		t.Fatal("empty phrase matched")
	}
}
