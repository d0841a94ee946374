package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"import_tables/internal/platform/config"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	config.AppConfig = &config.Config{JWTKey: []byte("test-secret"), JWTExp: time.Hour}
	InitJWT()

	token, err := GenerateToken("ops@example.com", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	decoded, err := TokenAuth.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	claims, err := decoded.AsMap(t.Context())
	if err != nil {
		t.Fatalf("AsMap: %v", err)
	}

	sub, err := GetSubjectFromClaims(jwt.MapClaims(claims))
	if err != nil || sub != "ops@example.com" {
		t.Fatalf("subject = %q, %v", sub, err)
	}
	role, err := GetRoleFromClaims(jwt.MapClaims(claims))
	if err != nil || role != "admin" {
		t.Fatalf("role = %q, %v", role, err)
	}
}

func TestClaimsMissing(t *testing.T) {
	if _, err := GetSubjectFromClaims(jwt.MapClaims{}); err == nil {
		t.Fatal("expected an error for a missing sub")
	}
	if _, err := GetRoleFromClaims(jwt.MapClaims{"role": 7}); err == nil {
		t.Fatal("expected an error for a non-string role")
	}
}
