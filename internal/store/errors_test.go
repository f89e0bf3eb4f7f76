package store

import (
	"errors"
	"testing"

	"github.com/keydropio/keydrop/internal/model"
)

func TestUnavailable(t *testing.T) {
	if Unavailable("ping", nil) != nil {
		t.Error("Unavailable(nil) should be nil")
	}

	cause := errors.New("connection refused")
	err := Unavailable("consume key", cause)
	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected errors.Is(err, ErrUnavailable)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to stay in the chain")
	}
	if got, want := err.Error(), "consume key: store unavailable: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "%%"},
		{"Deploy", "%deploy%"},
		{"50%", "%50!%%"},
		{"a_b", "%a!_b%"},
		{"wow!", "%wow!!%"},
		{"[x]", "%![x]%"},
		{"ÄRGER", "%Ärger%"},
	}
	for _, tt := range tests {
		if got := LikePattern(tt.in); got != tt.want {
			t.Errorf("LikePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	k := &model.Key{Name: "Release Pipeline", Token: "FREE-abc123def0-00ff00ff"}
	tests := []struct {
		q    string
		want bool
	}{
		{"release", true},
		{"PIPE", true},
		{"abc123", true},
		{"free-", true},
		{"", true},
		{"staging", false},
	}
	for _, tt := range tests {
		if got := Matches(k, tt.q); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.q, got, tt.want)
		}
	}

	umlaut := &model.Key{Name: "ÄRGER Ölfeld", Token: "tok"}
	for q, want := range map[string]bool{"ärger": false, "ÄRGER": true, "Ärger": true, "ölfeld": false, "Ölfeld": true} {
		if got := Matches(umlaut, q); got != want {
			t.Errorf("Matches(%q) on non-ASCII name = %v, want %v", q, got, want)
		}
	}
}

func TestFoldASCII(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"already lower", "already lower"},
		{"MiXeD-123", "mixed-123"},
		{"ÄRGER", "Ärger"},
		{"ŒUVRE", "Œuvre"},
	}
	for _, tt := range tests {
		if got := FoldASCII(tt.in); got != tt.want {
			t.Errorf("FoldASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterString(t *testing.T) {
	if FilterAll.String() != "all" || FilterLive.String() != "live" {
		t.Errorf("unexpected filter names %q %q", FilterAll, FilterLive)
	}
}
