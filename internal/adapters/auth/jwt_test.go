package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/VoiceCall/internal/domain"
)

func TestVerify(t *testing.T) {
	v := NewJWTVerifier("secret")
	good, err := v.Issue("u1", "Alice", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := v.Issue("u1", "Alice", -time.Minute)
	foreign, _ := NewJWTVerifier("other").Issue("u1", "Alice", time.Minute)
	noSub, _ := v.Issue("", "Nobody", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	id, err := v.Verify(context.Background(), good)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u1" || id.DisplayName != "Alice" {
		t.Fatalf("identity = %+v", id)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", foreign},
		{"no subject", noSub},
		{"alg none", none},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tt.token); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("want ErrUnauthorized, got %v", err)
			}
		})
	}
}
