package handlers

import (
	"testing"

	"github.com/schedulux/schedulux/services/auth-service/internal/storage"
)

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestIssueJWTCarriesUserClaims(t *testing.T) {
	signer := NewHS256Signer("test-secret")
	user := storage.User{
		ID:    "user-1",
		Email: "host@example.com",
		Role:  "host",
	}
	token, err := issueJWT(user, signer)
	if err != nil {
		t.Fatalf("issueJWT failed: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Sub != user.ID {
		t.Fatalf("expected sub %q, got %q", user.ID, claims.Sub)
	}
	if claims.Email != user.Email {
		t.Fatalf("expected email %q, got %q", user.Email, claims.Email)
	}
	if claims.Role != "host" {
		t.Fatalf("expected role host, got %q", claims.Role)
	}
}
