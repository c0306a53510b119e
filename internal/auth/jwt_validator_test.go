package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func buildTestToken(t *testing.T, now time.Time, issuer string, nbfOffset, expOffset time.Duration) jwt.Token {
	t.Helper()
	token, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"aud"}).
		Subject("sub").
		IssuedAt(now).
		NotBefore(now.Add(nbfOffset)).
		Expiration(now.Add(expOffset)).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return token
}

func TestTokenValidatorClaims(t *testing.T) {
	now := time.Now()
	validator := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256}

	tests := []struct {
		name    string
		token   jwt.Token
		alg     jwa.SignatureAlgorithm
		wantErr bool
	}{
		{
			name:  "valid token",
			token: buildTestToken(t, now, "issuer", 0, time.Minute),
			alg:   jwa.HS256,
		},
		{
			name:    "wrong issuer",
			token:   buildTestToken(t, now, "other", 0, time.Minute),
			alg:     jwa.HS256,
			wantErr: true,
		},
		{
			name:    "expired",
			token:   buildTestToken(t, now, "issuer", -2*time.Hour, -time.Minute),
			alg:     jwa.HS256,
			wantErr: true,
		},
		{
			name:    "not yet valid",
			token:   buildTestToken(t, now, "issuer", 5*time.Minute, 10*time.Minute),
			alg:     jwa.HS256,
			wantErr: true,
		},
		{
			name:    "algorithm mismatch",
			token:   buildTestToken(t, now, "issuer", 0, time.Minute),
			alg:     jwa.RS256,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.token, tt.alg, now)
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestTokenValidatorNilToken(t *testing.T) {
	validator := TokenValidator{Algorithm: jwa.HS256}
	if err := validator.Validate(nil, jwa.HS256, time.Now()); err == nil {
		t.Fatal("expected error for nil token")
	}
}

func TestTokenValidatorMissingAlgorithm(t *testing.T) {
	now := time.Now()
	validator := TokenValidator{Algorithm: jwa.HS256}
	token := buildTestToken(t, now, "issuer", 0, time.Minute)
	if err := validator.Validate(token, "", now); err == nil {
		t.Fatal("expected error for missing algorithm")
	}
}
