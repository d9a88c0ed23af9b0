package auth

import (
	"context"
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	t.Setenv("MAXCRM_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-1", "acme", []string{"Manager", "manager", ""}, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Tenant != "acme" {
		t.Fatalf("unexpected tenant: %s", claims.Tenant)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "manager" {
		t.Fatalf("roles not deduplicated/normalized: %v", claims.Roles)
	}
}

func TestGenerateTokenRequiresTenant(t *testing.T) {
	t.Setenv("MAXCRM_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := GenerateToken("user-1", "  ", []string{"admin"}, time.Minute); err == nil {
		t.Fatal("expected error for blank tenant")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	t.Setenv("MAXCRM_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-1", "acme", []string{"admin"}, time.Millisecond)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("MAXCRM_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidate("not.a.token"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("empty context should carry no identity")
	}

	id := Identity{UserID: "u1", Tenant: "acme", Roles: []string{"manager"}}
	ctx = ContextWithIdentity(ctx, id)

	got, ok := IdentityFromContext(ctx)
	if !ok {
		t.Fatal("identity missing from context")
	}
	if got.Tenant != "acme" || !got.HasRole("manager") {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.HasRole("admin") {
		t.Fatal("HasRole must not report roles the identity lacks")
	}
}
