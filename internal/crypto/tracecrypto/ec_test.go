package tracecrypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestCompressPublicKey_Roundtrip(t *testing.T) {
	t.Parallel()
	for i := 0; i < 8; i++ {
		priv, err := GenerateKeyPair(rand.Reader)
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		c := CompressPublicKey(priv.PublicKey())
		if len(c) != CompressedKeyLen || (c[0] != 0x02 && c[0] != 0x03) {
			t.Fatalf("bad compressed prefix/len: %x", c[:1])
		}
		pub, err := ParsePublicKey(c)
		if err != nil {
			t.Fatalf("ParsePublicKey: %v", err)
		}
		if !pub.Equal(priv.PublicKey()) {
			t.Fatalf("decompressed key differs")
		}
	}
}

func TestParsePublicKey_Rejects(t *testing.T) {
	t.Parallel()
	if _, err := ParsePublicKey(make([]byte, 10)); err == nil {
		t.Fatalf("short input must fail")
	}
	bad := make([]byte, CompressedKeyLen)
	bad[0] = 0x05
	if _, err := ParsePublicKey(bad); err == nil {
		t.Fatalf("bad prefix must fail")
	}
	priv, _ := GenerateKeyPair(rand.Reader)
	raw := priv.PublicKey().Bytes()
	raw[0] = 0x07
	if _, err := ParsePublicKey(raw); err == nil {
		t.Fatalf("bad uncompressed prefix must fail")
	}
}

func TestSharedSecret_Symmetric(t *testing.T) {
	t.Parallel()
	a, _ := GenerateKeyPair(rand.Reader)
	b, _ := GenerateKeyPair(rand.Reader)
	s1, err := SharedSecret(a, b.PublicKey())
	if err != nil {
		t.Fatalf("ecdh: %v", err)
	}
	s2, _ := SharedSecret(b, a.PublicKey())
	if !bytes.Equal(s1, s2) || len(s1) != 32 {
		t.Fatalf("shared secrets differ")
	}

	restored, err := ParsePrivateKey(a.Bytes())
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	s3, _ := SharedSecret(restored, b.PublicKey())
	if !bytes.Equal(s1, s3) {
		t.Fatalf("restored key must agree")
	}
}

func TestSignVerify(t *testing.T) {
	t.Parallel()
	key, err := GenerateSigningKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	msg := []byte("daily key 7")
	sig, err := Sign(rand.Reader, key, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(&key.PublicKey, msg, sig) {
		t.Fatalf("signature must verify")
	}
	if Verify(&key.PublicKey, []byte("daily key 8"), sig) {
		t.Fatalf("signature over other message must fail")
	}
	if Verify(nil, msg, sig) {
		t.Fatalf("nil key must fail")
	}
}

func TestSigningKeyEncodings(t *testing.T) {
	t.Parallel()
	key, _ := GenerateSigningKey(rand.Reader)

	der, err := MarshalSigningKey(key)
	if err != nil {
		t.Fatalf("MarshalSigningKey: %v", err)
	}
	back, err := ParseSigningKey(der)
	if err != nil {
		t.Fatalf("ParseSigningKey: %v", err)
	}
	if !back.Equal(key) {
		t.Fatalf("pkcs8 roundtrip mismatch")
	}

	raw, err := MarshalSigningPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalSigningPublicKey: %v", err)
	}
	if len(raw) != UncompressedKeyLen {
		t.Fatalf("len=%d", len(raw))
	}
	pub, err := ParseSigningPublicKey(raw)
	if err != nil || !pub.Equal(&key.PublicKey) {
		t.Fatalf("uncompressed parse: %v", err)
	}

	ek, _ := key.PublicKey.ECDH()
	pub2, err := ParseSigningPublicKey(CompressPublicKey(ek))
	if err != nil || !pub2.Equal(&key.PublicKey) {
		t.Fatalf("compressed parse: %v", err)
	}
}
