package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(testSecret, time.Hour)
	userID := uuid.New()

	raw, expiresAt, err := tokens.Issue(userID, models.RoleDelivery)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry should be in the future: %v", expiresAt)
	}

	principal, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if principal.UserID != userID || principal.Role != models.RoleDelivery {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	valid := NewTokens(testSecret, time.Hour)

	expired := NewTokens(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, err := expired.Issue(userID, models.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	otherSecret, _, err := NewTokens("ffffffffffffffffffffffffffffffff", time.Hour).Issue(userID, models.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Role: "owner",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, &claims{
		Role: models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expiredToken},
		{name: "wrong secret", token: otherSecret},
		{name: "unknown role", token: badRole},
		{name: "none algorithm", token: noneAlg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := valid.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatal("expected password to match")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Fatal("expected password mismatch")
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context should carry no principal")
	}
	want := Principal{UserID: uuid.New(), Role: models.RoleCustomer}
	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("PrincipalFromContext() = %+v, %v", got, ok)
	}
}
