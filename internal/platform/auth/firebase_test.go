package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/ordercore/internal/platform/config"
)

type recordingTokenClient struct {
	plain    int
	revoked  int
	deadline bool
}

func (c *recordingTokenClient) VerifyIDToken(ctx context.Context, _ string) (*firebaseauth.Token, error) {
	c.plain++
	_, c.deadline = ctx.Deadline()
	return &firebaseauth.Token{UID: "u1"}, nil
}

func (c *recordingTokenClient) VerifyIDTokenAndCheckRevoked(ctx context.Context, _ string) (*firebaseauth.Token, error) {
	c.revoked++
	_, c.deadline = ctx.Deadline()
	return &firebaseauth.Token{UID: "u1"}, nil
}

func TestFirebaseVerifierRequiresProject(t *testing.T) {
	_, err := NewFirebaseVerifier(context.Background(), config.FirebaseConfig{})
	if !errors.Is(err, ErrFirebaseNotConfigured) {
		t.Fatalf("expected ErrFirebaseNotConfigured, got %v", err)
	}
}

func TestFirebaseVerifierRevocationCheck(t *testing.T) {
	client := &recordingTokenClient{}

	plain := newFirebaseVerifier(client, WithFirebaseTimeout(time.Second))
	if _, err := plain.VerifyIDToken(context.Background(), "tok"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if client.plain != 1 || client.revoked != 0 || !client.deadline {
		t.Fatalf("expected bounded plain verification, got %+v", client)
	}

	strict := newFirebaseVerifier(client, WithRevocationCheck(true))
	if _, err := strict.VerifyIDToken(context.Background(), "tok"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if client.revoked != 1 {
		t.Fatalf("expected revocation-checked verification, got %+v", client)
	}
}

func TestFirebaseVerifierNilIsRejected(t *testing.T) {
	var v *FirebaseVerifier
	if _, err := v.VerifyIDToken(context.Background(), "tok"); err == nil {
		t.Fatalf("expected error from nil verifier")
	}
}
