package crypto

import (
	"strings"
	"testing"
)

const testSecret = "a-master-secret-at-least-32-bytes"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte(testSecret), "platform-credentials")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}

	original := "hunter2-subscription-password"
	stored, err := fe.Encrypt(original)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if stored == original {
		t.Fatal("ciphertext must differ from plaintext")
	}
	if !IsEncrypted(stored) {
		t.Fatalf("expected encryption prefix, got %q", stored)
	}
	if strings.Contains(stored, original) {
		t.Fatal("plaintext leaked into stored value")
	}

	decrypted, err := fe.Decrypt(stored)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != original {
		t.Fatalf("round-trip mismatch: got %q, want %q", decrypted, original)
	}
}

func TestDecryptPassesThroughPlaintext(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte(testSecret), "platform-credentials")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}

	legacy := "stored-before-encryption-was-on"
	got, err := fe.Decrypt(legacy)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != legacy {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestPurposesAreIsolated(t *testing.T) {
	feA, err := DeriveFieldEncryptor([]byte(testSecret), "platform-credentials")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}
	feB, err := DeriveFieldEncryptor([]byte(testSecret), "api-keys")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}

	stored, err := feA.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := feB.Decrypt(stored); err == nil {
		t.Fatal("expected cross-purpose decryption to fail")
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte(testSecret), "platform-credentials")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}

	first, err := fe.Encrypt("same-input")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := fe.Encrypt("same-input")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if first == second {
		t.Fatal("expected random nonce to vary ciphertext")
	}
}

func TestDecryptRejectsCorruptCiphertext(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte(testSecret), "platform-credentials")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}

	if _, err := fe.Decrypt("enc:v1:not-base64!!!"); err == nil {
		t.Fatal("expected malformed base64 to fail")
	}
	if _, err := fe.Decrypt("enc:v1:AAAA"); err == nil {
		t.Fatal("expected short ciphertext to fail")
	}
}
