package token_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/propgate/propgate/internal/token"
)

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec("test-signing-secret")
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	signed, issued, err := c.Issue(10, "cs_test_123", 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := c.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Credits != 10 {
		t.Errorf("Verify().Credits = %d, want 10", claims.Credits)
	}
	if claims.SessionID != "cs_test_123" {
		t.Errorf("Verify().SessionID = %q, want %q", claims.SessionID, "cs_test_123")
	}
	if !claims.ExpiresAt.Equal(issued.ExpiresAt.Time) {
		t.Errorf("Verify().ExpiresAt = %v, want %v", claims.ExpiresAt, issued.ExpiresAt)
	}
}

func TestCodecRejectsTamperedSignature(t *testing.T) {
	c := newTestCodec(t)

	signed, _, err := c.Issue(5, "cs_test_tamper", 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Flip one character in the signature segment.
	idx := strings.LastIndex(signed, ".") + 1
	mutated := []byte(signed)
	if mutated[idx] == 'A' {
		mutated[idx] = 'B'
	} else {
		mutated[idx] = 'A'
	}

	if _, err := c.Verify(string(mutated)); !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("Verify(tampered) error = %v, want ErrInvalidToken", err)
	}
}

func TestCodecRejectsExpired(t *testing.T) {
	c := newTestCodec(t)

	signed, _, err := c.Issue(5, "cs_test_expired", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := c.Verify(signed); !errors.Is(err, token.ErrTokenExpired) {
		t.Errorf("Verify(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	c := newTestCodec(t)

	for _, tok := range []string{"", "not-a-token", "a.b", "a.b.c.d", "e30.e30."} {
		if _, err := c.Verify(tok); !errors.Is(err, token.ErrInvalidToken) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestCodecRejectsWrongKey(t *testing.T) {
	c := newTestCodec(t)
	other, err := token.NewCodec("a-different-secret")
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	signed, _, err := other.Issue(5, "cs_test_key", 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := c.Verify(signed); !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("Verify(wrong key) error = %v, want ErrInvalidToken", err)
	}
}
