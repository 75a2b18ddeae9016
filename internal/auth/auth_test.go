package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if id := FromContext(ctx); id != nil {
		t.Fatalf("expected nil, got %+v", id)
	}

	userID := uuid.New()
	identity := &Identity{
		UserID: userID,
		Email:  "test@example.com",
		Method: MethodOIDC,
	}
	ctx = NewContext(ctx, identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.UserID != userID {
		t.Errorf("UserID = %q, want %q", got.UserID, userID)
	}
	if got.Method != MethodOIDC {
		t.Errorf("Method = %q, want %q", got.Method, MethodOIDC)
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	sm, err := NewSessionManager("0123456789abcdef0123456789abcdef", 0)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	userID := uuid.New()
	token, err := sm.IssueToken(SessionClaims{
		Subject: userID.String(),
		Email:   "user@example.com",
		Method:  "local",
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != userID.String() {
		t.Errorf("Subject = %q, want %q", claims.Subject, userID.String())
	}
}
