package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	auth := NewAdminAuth("test-secret-key-for-jwt")

	token, err := auth.IssueToken("ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if principal.Subject != "ops@example.com" {
		t.Errorf("Subject: got %q, want %q", principal.Subject, "ops@example.com")
	}
}

func TestAdminTokenExpired(t *testing.T) {
	auth := NewAdminAuth("test-secret-key-for-jwt")

	token, err := auth.IssueToken("ops", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := auth.ValidateToken(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAdminTokenInvalid(t *testing.T) {
	auth := NewAdminAuth("test-secret-key-for-jwt")

	if _, err := auth.ValidateToken("garbage.token.here"); err == nil {
		t.Fatal("expected error for invalid token")
	}

	other, _ := NewAdminAuth("a-different-secret").IssueToken("ops", time.Hour)
	if _, err := auth.ValidateToken(other); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestAdminTokenWrongScope(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt")
	claims := adminClaims{
		Scope: "keys:read",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewAdminAuth(string(secret)).ValidateToken(signed); err == nil {
		t.Fatal("expected error for token without admin scope")
	}
}

func TestAdminAuthDisabled(t *testing.T) {
	auth := NewAdminAuth("")
	if auth.Enabled() {
		t.Fatal("empty secret should disable admin auth")
	}
	if _, err := auth.IssueToken("ops", time.Hour); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("IssueToken err = %v, want ErrAuthDisabled", err)
	}
	if _, err := auth.ValidateToken("x"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("ValidateToken err = %v, want ErrAuthDisabled", err)
	}
	var nilAuth *AdminAuth
	if nilAuth.Enabled() {
		t.Error("nil AdminAuth should report disabled")
	}
}

func TestSecretMatches(t *testing.T) {
	tests := []struct {
		expected, presented string
		want                bool
	}{
		{"s3cret", "s3cret", true},
		{"s3cret", "s3cre", false},
		{"s3cret", "", false},
		{"", "", false},
		{"", "anything", false},
	}
	for _, tt := range tests {
		if got := SecretMatches(tt.expected, tt.presented); got != tt.want {
			t.Errorf("SecretMatches(%q, %q) = %v, want %v", tt.expected, tt.presented, got, tt.want)
		}
	}
}
