package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFormatValid(t *testing.T) {
	for _, f := range Formats {
		if !f.Valid() {
			t.Errorf("Format(%q).Valid() = false, want true", f)
		}
	}
	for _, f := range []Format{"", "base64", "UUID"} {
		if f.Valid() {
			t.Errorf("Format(%q).Valid() = true, want false", f)
		}
	}
}

func TestKeyStateHelpers(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	k := Key{
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
		MaxUses:   2,
	}

	tests := []struct {
		name      string
		used      int
		now       time.Time
		expired   bool
		exhausted bool
		live      bool
		remaining int
	}{
		{"fresh", 0, created, false, false, true, 2},
		{"one use left", 1, created.Add(time.Hour), false, false, true, 1},
		{"used up", 2, created.Add(time.Hour), false, true, false, 0},
		{"at expiry instant", 0, k.ExpiresAt, true, false, false, 2},
		{"just before expiry", 0, k.ExpiresAt.Add(-time.Millisecond), false, false, true, 2},
		{"expired and used up", 2, k.ExpiresAt.Add(time.Hour), true, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := k
			k.UsedCount = tt.used
			if got := k.IsExpiredAt(tt.now); got != tt.expired {
				t.Errorf("IsExpiredAt = %v, want %v", got, tt.expired)
			}
			if got := k.IsExhausted(); got != tt.exhausted {
				t.Errorf("IsExhausted = %v, want %v", got, tt.exhausted)
			}
			if got := k.IsLiveAt(tt.now); got != tt.live {
				t.Errorf("IsLiveAt = %v, want %v", got, tt.live)
			}
			if got := k.UsesRemaining(); got != tt.remaining {
				t.Errorf("UsesRemaining = %d, want %d", got, tt.remaining)
			}
		})
	}
}

func TestKeyJSON(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	k := Key{
		ID:        7,
		Name:      "deploy",
		Token:     "FREE-0123456789-abcdef01",
		Format:    FormatBash,
		Length:    24,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
		UsedCount: 0,
		MaxUses:   1,
	}

	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	for _, field := range []string{"id", "name", "key", "type", "length", "timestamp", "expiresAt", "used", "maxUses"} {
		if _, ok := m[field]; !ok {
			t.Errorf("expected %q in JSON output", field)
		}
	}
	if m["key"] != k.Token {
		t.Errorf("key = %v, want %q", m["key"], k.Token)
	}
	if m["type"] != "bash" {
		t.Errorf("type = %v, want bash", m["type"])
	}
}

func TestPublicDataOmitsToken(t *testing.T) {
	now := time.Now()
	k := Key{Name: "n", Token: "secret-token", Format: FormatHex, CreatedAt: now, ExpiresAt: now.Add(time.Hour), UsedCount: 1, MaxUses: 3}

	b, err := json.Marshal(k.PublicData())
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["key"]; ok {
		t.Error("public data must not include the token")
	}
	if m["usesRemaining"] != float64(2) {
		t.Errorf("usesRemaining = %v, want 2", m["usesRemaining"])
	}
}

func TestStatusMessage(t *testing.T) {
	tests := map[Status]string{
		StatusValid:     "Key is valid",
		StatusExpired:   "Key has expired",
		StatusExhausted: "Key has already been used",
		StatusNotFound:  "Key not found",
		Status("bogus"): "Unknown key status",
	}
	for s, want := range tests {
		if got := s.Message(); got != want {
			t.Errorf("%q.Message() = %q, want %q", s, got, want)
		}
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := ErrorResponse{Error: ErrorDetail{Code: 404, Message: "not found"}}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"error":{"code":404,"message":"not found"}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
