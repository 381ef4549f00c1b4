package verify

import (
	"testing"
	"time"
)

func TestAttestationRoundTrip(t *testing.T) {
	signer, err := NewAttestationSigner([]byte("test-secret"), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	token, err := signer.Sign("s-1", "anon-a", true, 0.87)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID != "s-1" || claims.AnonID != "anon-a" {
		t.Errorf("claims lost: %+v", claims)
	}
	if !claims.Verified || claims.Confidence != 0.87 {
		t.Errorf("outcome lost: %+v", claims)
	}
}

func TestAttestationExpires(t *testing.T) {
	now := time.Now()
	clock := now
	signer, err := NewAttestationSigner([]byte("test-secret"), 30*time.Second,
		func() time.Time { return clock })
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	token, err := signer.Sign("s-1", "anon-a", true, 1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	clock = now.Add(10 * time.Second)
	if _, err := signer.Verify(token); err != nil {
		t.Errorf("token should still be valid at 10s: %v", err)
	}

	clock = now.Add(31 * time.Second)
	if _, err := signer.Verify(token); err == nil {
		t.Error("token must expire after the TTL")
	}
}

func TestAttestationRejectsWrongSecret(t *testing.T) {
	signer, _ := NewAttestationSigner([]byte("secret-one"), 30*time.Second, nil)
	other, _ := NewAttestationSigner([]byte("secret-two"), 30*time.Second, nil)

	token, err := signer.Sign("s-1", "anon-a", true, 1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := other.Verify(token); err == nil {
		t.Error("token signed with another secret must not verify")
	}
}

func TestAttestationRejectsTamperedToken(t *testing.T) {
	signer, _ := NewAttestationSigner([]byte("test-secret"), 30*time.Second, nil)

	token, err := signer.Sign("s-1", "anon-a", false, 0.1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := token[:len(token)-4] + "AAAA"
	if _, err := signer.Verify(tampered); err == nil {
		t.Error("tampered token must not verify")
	}
}

func TestNewAttestationSignerRequiresSecret(t *testing.T) {
	if _, err := NewAttestationSigner(nil, 30*time.Second, nil); err == nil {
		t.Error("empty secret must be rejected")
	}
}
