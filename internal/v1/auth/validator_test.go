package auth

import (
	"testing"
	"time"

	"github.com/lairchat/server/internal/v1/types"
)

func TestIssueAndValidateTokenRoundTrip(t *testing.T) {
	v, err := NewValidator("test-secret", "lairchat")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	now := time.Now()
	userID := types.NewUserID()
	sessionID := types.NewSessionID()
	token, err := v.IssueToken(userID, sessionID, "alice", types.RoleUser, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Subject != string(userID) {
		t.Fatalf("subject mismatch: got %s want %s", claims.Subject, userID)
	}
	if claims.SessionID != string(sessionID) {
		t.Fatalf("session id mismatch: got %s want %s", claims.SessionID, sessionID)
	}
	if claims.Username != "alice" || claims.Role != string(types.RoleUser) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	v, err := NewValidator("test-secret", "lairchat")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	now := time.Now()
	token, err := v.IssueToken(types.NewUserID(), types.NewSessionID(), "bob", types.RoleUser, now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := v.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer, err := NewValidator("secret-a", "lairchat")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	verifier, err := NewValidator("secret-b", "lairchat")
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	now := time.Now()
	token, err := issuer.IssueToken(types.NewUserID(), types.NewSessionID(), "carol", types.RoleUser, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected token signed with a different secret to fail validation")
	}
}

func TestNewValidatorRejectsEmptySecret(t *testing.T) {
	if _, err := NewValidator("", "lairchat"); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}
