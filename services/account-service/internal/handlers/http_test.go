package handlers

import (
	"strings"
	"testing"
)

func TestValidUsername(t *testing.T) {
	valid := []string{"jane", "jane-doe", "j4ne", "abc"}
	for _, s := range valid {
		if !validUsername(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}

	invalid := []string{"", "ab", "Jane", "jane_doe", "-jane", "jane-", "ja ne", strings.Repeat("a", 151)}
	for _, s := range invalid {
		if validUsername(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestEventTypeValidation(t *testing.T) {
	base := func() eventTypeRequest {
		return eventTypeRequest{
			Title:           "Intro Call",
			URL:             "intro-call",
			Description:     "A quick intro chat",
			DurationMinutes: 30,
		}
	}

	req := base()
	if msg := req.validate(); msg != "" {
		t.Fatalf("expected valid request, got %q", msg)
	}

	req = base()
	req.Title = "ab"
	if msg := req.validate(); msg == "" {
		t.Error("expected short title to be rejected")
	}

	req = base()
	req.URL = "Intro Call"
	if msg := req.validate(); msg == "" {
		t.Error("expected non-slug url to be rejected")
	}

	req = base()
	req.Description = "ab"
	if msg := req.validate(); msg == "" {
		t.Error("expected short description to be rejected")
	}

	req = base()
	req.Description = ""
	if msg := req.validate(); msg != "" {
		t.Errorf("empty description should be allowed, got %q", msg)
	}

	req = base()
	req.DurationMinutes = 0
	if msg := req.validate(); msg == "" {
		t.Error("expected zero duration to be rejected")
	}

	req = base()
	req.DurationMinutes = 101
	if msg := req.validate(); msg == "" {
		t.Error("expected duration over 100 to be rejected")
	}

	// URL is lowercased in place.
	req = base()
	req.URL = "intro-call"
	req.Title = "  Intro Call  "
	if msg := req.validate(); msg != "" {
		t.Fatalf("unexpected validation error: %q", msg)
	}
	if req.Title != "Intro Call" {
		t.Errorf("title not trimmed: %q", req.Title)
	}
}

func TestClockPattern(t *testing.T) {
	valid := []string{"00:00", "08:00", "18:30", "23:59"}
	for _, s := range valid {
		if !clockPattern.MatchString(s) {
			t.Errorf("expected %q to match", s)
		}
	}
	invalid := []string{"24:00", "8:00", "12:60", "noon", "12:5", ""}
	for _, s := range invalid {
		if clockPattern.MatchString(s) {
			t.Errorf("expected %q not to match", s)
		}
	}
}
