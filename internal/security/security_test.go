package security

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter2hunter2" {
		t.Fatalf("expected hashed output")
	}
	if !VerifyPassword(hash, "hunter2hunter2") {
		t.Fatalf("expected matching password to verify")
	}
	if VerifyPassword(hash, "wrong-password") {
		t.Fatalf("expected mismatched password to fail")
	}
}

func TestGenerateServiceToken(t *testing.T) {
	token, err := GenerateServiceToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if !strings.HasPrefix(token, "mdk-") {
		t.Fatalf("expected mdk- prefix, got %q", token)
	}

	other, err := GenerateServiceToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if token == other {
		t.Fatalf("expected unique tokens")
	}
}

func TestAdminTokenRoundTrip(t *testing.T) {
	token, err := MintAdminToken("test-secret", 7, "ops")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseAdminToken("test-secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AdminID != 7 || claims.Username != "ops" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := ParseAdminToken("other-secret", token); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
	if _, err := ParseAdminToken("test-secret", "not-a-token"); err == nil {
		t.Fatalf("expected malformed token to fail")
	}
}

func TestMintAdminToken_EmptySecret(t *testing.T) {
	if _, err := MintAdminToken("", 1, "ops"); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestTOTP(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("MODO Dispatch", "ops")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if secret == "" || !strings.Contains(url, "MODO") {
		t.Fatalf("unexpected secret/url %q %q", secret, url)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if !VerifyTOTP(secret, code) {
		t.Fatalf("expected valid code to verify")
	}
	if VerifyTOTP(secret, "000000") && code != "000000" {
		t.Fatalf("expected bogus code to fail")
	}
	if VerifyTOTP("", code) {
		t.Fatalf("expected empty secret to fail")
	}
}
