package security

import (
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"

	"github.com/arklim/credential-engine/internal/core/port"
)

func cheapParams() port.Argon2Params {
	return port.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2Hasher_HashAndVerify(t *testing.T) {
	hasher, err := NewArgon2Hasher(cheapParams())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}

	encoded, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %s", encoded)
	}

	ok, err := hasher.Verify("correct horse battery staple", encoded)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch for wrong password")
	}
}

func TestArgon2Hasher_SaltsDiffer(t *testing.T) {
	hasher, _ := NewArgon2Hasher(cheapParams())

	a, _ := hasher.Hash("same-password")
	b, _ := hasher.Hash("same-password")
	if a == b {
		t.Fatalf("expected different salts to produce different hashes")
	}
}

func TestArgon2Hasher_VerifyLegacyFormat(t *testing.T) {
	hasher, _ := NewArgon2Hasher(cheapParams())

	password := "correct horse battery staple"
	salt := make([]byte, 16)
	for i := range salt {
		salt[i] = byte(i)
	}
	legacy := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	encoded := base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(legacy)

	ok, err := hasher.Verify(password, encoded)
	if err != nil {
		t.Fatalf("Verify failed to parse legacy format: %v", err)
	}
	if !ok {
		t.Fatal("Verify did not validate legacy hash")
	}
	if !hasher.NeedsRehash(encoded) {
		t.Fatal("expected legacy hash to need a rehash")
	}
}

func TestArgon2Hasher_ConfigureKeepsOldHashesVerifiable(t *testing.T) {
	hasher, _ := NewArgon2Hasher(cheapParams())
	old, _ := hasher.Hash("change-me")

	next := port.Argon2Params{Memory: 16 * 1024, Iterations: 2, Parallelism: 2, SaltLength: 24, KeyLength: 48}
	if err := hasher.Configure(next); err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}

	encoded, _ := hasher.Hash("change-me")
	parts := strings.Split(encoded, "$")
	if parts[2] != "m=16384,t=2,p=2" {
		t.Fatalf("encoded hash does not reflect configured parameters: %s", parts[2])
	}

	ok, err := hasher.Verify("change-me", old)
	if err != nil || !ok {
		t.Fatalf("expected old hash to verify after reconfigure, ok=%v err=%v", ok, err)
	}
	if !hasher.NeedsRehash(old) {
		t.Fatalf("expected old hash to need a rehash")
	}
	if hasher.NeedsRehash(encoded) {
		t.Fatalf("expected fresh hash to be current")
	}
}

func TestArgon2Hasher_RejectsInvalidInput(t *testing.T) {
	if _, err := NewArgon2Hasher(port.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatalf("expected error for low memory")
	}

	hasher, _ := NewArgon2Hasher(cheapParams())
	if _, err := hasher.Verify("pw", "argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA"); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
	if _, err := hasher.Verify("pw", "garbage"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
	if ok, err := hasher.Verify("", "anything"); ok || err != nil {
		t.Fatalf("expected empty password to fail quietly, ok=%v err=%v", ok, err)
	}
}
