package vault

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	enc, err := v.Encrypt("super-secret-value")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if enc == "super-secret-value" {
		t.Fatal("ciphertext must not equal plaintext")
	}

	dec, err := v.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if dec != "super-secret-value" {
		t.Fatalf("got %q, want %q", dec, "super-secret-value")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	v1, _ := New(key1)
	v2, _ := New(key2)

	enc, err := v1.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := v2.Decrypt(enc); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestEncryptMapRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	v, _ := New(key)

	plain := map[string]string{"API_TOKEN": "abc123", "DB_PASSWORD": "hunter2"}
	enc, err := v.EncryptMap(plain)
	if err != nil {
		t.Fatalf("EncryptMap: %v", err)
	}

	dec, err := v.DecryptMap(enc)
	if err != nil {
		t.Fatalf("DecryptMap: %v", err)
	}

	for k, want := range plain {
		if dec[k] != want {
			t.Errorf("key %q: got %q, want %q", k, dec[k], want)
		}
	}
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	if _, err := New([]byte("too-short")); err == nil {
		t.Fatal("expected error for undersized key")
	}
}
