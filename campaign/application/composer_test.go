package application

import (
	"testing"

	audienceDomain "github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/campaign/domain"
)

func TestComposer_RoundRobinRotation(t *testing.T) {
	composer := NewComposer()
	campaign := &domain.Campaign{
		ID:       "camp-1",
		Variants: []string{"first", "second", "third"},
	}

	var got []string
	for i := 0; i < 7; i++ {
		_, body := composer.NextVariant(campaign)
		got = append(got, body)
	}

	want := []string{"first", "second", "third", "first", "second", "third", "first"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send %d picked %q, want %q (full sequence %v)", i, got[i], want[i], got)
		}
	}
}

func TestComposer_RotationCursorSurvivesReload(t *testing.T) {
	composer := NewComposer()
	campaign := &domain.Campaign{Variants: []string{"a", "b", "c"}}

	composer.NextVariant(campaign)
	composer.NextVariant(campaign)

	// Simulate a restart: a fresh campaign value carrying the persisted cursor.
	reloaded := &domain.Campaign{Variants: campaign.Variants, NextVariant: campaign.NextVariant}
	idx, body := composer.NextVariant(reloaded)
	if idx != 2 || body != "c" {
		t.Errorf("after reload got variant %d (%q), want 2 (c)", idx, body)
	}
}

func TestComposer_OutOfRangeCursorWraps(t *testing.T) {
	composer := NewComposer()

	// Variant list shrank after the cursor was persisted.
	campaign := &domain.Campaign{Variants: []string{"a", "b"}, NextVariant: 5}
	idx, body := composer.NextVariant(campaign)
	if idx != 1 || body != "b" {
		t.Errorf("got variant %d (%q), want 1 (b)", idx, body)
	}
}

func TestComposer_RenderPlaceholders(t *testing.T) {
	composer := NewComposer()
	campaign := &domain.Campaign{ID: "camp-1", PlaceholderFallback: "there"}
	contact := audienceDomain.Contact{
		Identity: "5511987654321",
		Fields:   map[string]string{"name": "Ana", "plan": "pro"},
	}

	cases := []struct {
		template string
		want     string
	}{
		{"Hi {name}, your {plan} plan awaits", "Hi Ana, your pro plan awaits"},
		{"Hi {nickname}!", "Hi there!"}, // missing field -> fallback
		{"No placeholders", "No placeholders"},
		{"{name}{name}", "AnaAna"},
	}

	for _, tc := range cases {
		if got := composer.Render(campaign, tc.template, contact); got != tc.want {
			t.Errorf("Render(%q) = %q, want %q", tc.template, got, tc.want)
		}
	}
}

func TestComposer_RenderEmptyFallback(t *testing.T) {
	composer := NewComposer()
	campaign := &domain.Campaign{ID: "camp-1"}
	contact := audienceDomain.Contact{Fields: nil}

	// No fallback configured: unresolved placeholders render as nothing,
	// never verbatim.
	if got := composer.Render(campaign, "Hello {name}", contact); got != "Hello " {
		t.Errorf("Render() = %q, want %q", got, "Hello ")
	}
}

func TestComposer_EmptyFieldUsesFallback(t *testing.T) {
	composer := NewComposer()
	campaign := &domain.Campaign{PlaceholderFallback: "friend"}
	contact := audienceDomain.Contact{Fields: map[string]string{"name": ""}}

	if got := composer.Render(campaign, "Hi {name}", contact); got != "Hi friend" {
		t.Errorf("Render() = %q, want %q", got, "Hi friend")
	}
}
