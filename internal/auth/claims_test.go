package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateAndParseServiceToken(t *testing.T) {
	token, err := GenerateServiceToken(testSecret, "devicehub", "svc-fallback", []Scope{ScopeRead}, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateServiceToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateServiceToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, "devicehub")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "svc-fallback" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "svc-fallback")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if !claims.Allows(ScopeRead) {
		t.Error("Allows(read) = false")
	}
	if claims.Allows(ScopeWrite) {
		t.Error("Allows(write) = true for a read-only token")
	}
}

func TestServiceClaims_WriteImpliesRead(t *testing.T) {
	c := &ServiceClaims{Scopes: []Scope{ScopeWrite}}
	if !c.Allows(ScopeRead) || !c.Allows(ScopeWrite) {
		t.Errorf("write token: read=%v write=%v", c.Allows(ScopeRead), c.Allows(ScopeWrite))
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateServiceToken("correct-secret", "", "svc", nil, 0)
	if err != nil {
		t.Fatalf("GenerateServiceToken() error = %v", err)
	}
	if _, err := ParseToken(token, "wrong-secret", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_WrongIssuer(t *testing.T) {
	token, err := GenerateServiceToken(testSecret, "someone-else", "svc", nil, 0)
	if err != nil {
		t.Fatalf("GenerateServiceToken() error = %v", err)
	}
	if _, err := ParseToken(token, testSecret, "devicehub"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := ParseToken(token, testSecret, ""); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseToken_Malformed(t *testing.T) {
	for _, tok := range []string{"", "abc.def", "not-a-valid-jwt"} {
		if _, err := ParseToken(tok, testSecret, ""); err == nil {
			t.Errorf("ParseToken(%q) should fail", tok)
		}
	}
}

func TestParseToken_MissingSubject(t *testing.T) {
	token, err := GenerateServiceToken(testSecret, "", "", nil, 0)
	if err != nil {
		t.Fatalf("GenerateServiceToken() error = %v", err)
	}
	if _, err := ParseToken(token, testSecret, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestGenerateServiceToken_Errors(t *testing.T) {
	if _, err := GenerateServiceToken("", "", "svc", nil, 0); !errors.Is(err, ErrNoSecret) {
		t.Errorf("empty secret error = %v, want ErrNoSecret", err)
	}
	if _, err := GenerateServiceToken(testSecret, "", "svc", []Scope{"devices:admin"}, 0); err == nil {
		t.Error("unknown scope should fail")
	}
}

func TestGenerateServiceToken_DefaultTTL(t *testing.T) {
	token, err := GenerateServiceToken(testSecret, "", "svc", nil, 0)
	if err != nil {
		t.Fatalf("GenerateServiceToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(60 * time.Minute))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~60 minutes, got expiry diff of %v", diff)
	}
}

func TestTokenSource_ReusesUntilNearExpiry(t *testing.T) {
	src := NewTokenSource(testSecret, "", "svc", []Scope{ScopeRead}, 10*time.Minute)
	now := time.Now()
	src.now = func() time.Time { return now }

	first, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	second, _ := src.Token()
	if first != second {
		t.Error("token re-minted before expiry")
	}

	// Inside the refresh margin a fresh token is minted.
	now = now.Add(9*time.Minute + 30*time.Second)
	third, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if third == first {
		t.Error("token not refreshed near expiry")
	}
}

func TestTokenSource_NoSecret(t *testing.T) {
	if _, err := NewTokenSource("", "", "svc", nil, 0).Token(); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Token() error = %v, want ErrNoSecret", err)
	}
}
