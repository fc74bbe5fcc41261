package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

// testAESKey is a fixed 43-character EncodingAESKey (base64 of 32 bytes,
// trailing pad stripped) used across the crypto tests.
const (
	testToken  = "callback-token"
	testCorpID = "ww1234567890abcdef"
	testAESKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

func newTestCrypto(t *testing.T) *Crypto {
	t.Helper()
	c, err := NewCrypto(testToken, testAESKey, testCorpID)
	if err != nil {
		t.Fatalf("NewCrypto: %v", err)
	}
	return c
}

// encryptFor builds a ciphertext the way the platform does: random prefix,
// big-endian length, message, corp id, PKCS#7 padding, AES-256-CBC.
func encryptFor(t *testing.T, c *Crypto, msg, corpID string) string {
	t.Helper()

	prefix := make([]byte, 16)
	if _, err := rand.Read(prefix); err != nil {
		t.Fatalf("rand: %v", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(msg)))

	plain := append(prefix, lenBuf[:]...)
	plain = append(plain, msg...)
	plain = append(plain, corpID...)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	for i := 0; i < pad; i++ {
		plain = append(plain, byte(pad))
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, c.aesKey[:aes.BlockSize]).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out)
}

func TestNewCrypto_RejectsWrongKeyLength(t *testing.T) {
	if _, err := NewCrypto("t", "dG9vc2hvcnQ", "corp"); err == nil {
		t.Fatalf("expected error for short EncodingAESKey")
	}
	if _, err := NewCrypto("t", "not base64 at all!!!", "corp"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestDecryptMessage_RoundTrip(t *testing.T) {
	c := newTestCrypto(t)
	const msg = "<xml><Event>change_external_chat</Event></xml>"

	enc := encryptFor(t, c, msg, testCorpID)
	sig := c.Signature("1700000000", "nonce1", enc)

	got, err := c.DecryptMessage(sig, "1700000000", "nonce1", enc)
	if err != nil {
		t.Fatalf("DecryptMessage: %v", err)
	}
	if string(got) != msg {
		t.Fatalf("round-trip mismatch: %q", got)
	}
}

func TestDecryptMessage_BadSignature(t *testing.T) {
	c := newTestCrypto(t)
	enc := encryptFor(t, c, "hello", testCorpID)

	_, err := c.DecryptMessage("deadbeef", "1700000000", "n", enc)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestDecryptMessage_CorpIDMismatch(t *testing.T) {
	c := newTestCrypto(t)
	enc := encryptFor(t, c, "hello", "ww_other_corp")
	sig := c.Signature("ts", "n", enc)

	_, err := c.DecryptMessage(sig, "ts", "n", enc)
	if !errors.Is(err, ErrCorpIDMismatch) {
		t.Fatalf("expected ErrCorpIDMismatch, got %v", err)
	}
}

func TestDecryptMessage_MalformedCiphertext(t *testing.T) {
	c := newTestCrypto(t)
	for _, enc := range []string{
		"%%%not-base64%%%",
		base64.StdEncoding.EncodeToString([]byte("short")), // not block-aligned
		"",
	} {
		sig := c.Signature("ts", "n", enc)
		if _, err := c.DecryptMessage(sig, "ts", "n", enc); !errors.Is(err, ErrInvalidCiphertext) {
			t.Fatalf("enc=%q: expected ErrInvalidCiphertext, got %v", enc, err)
		}
	}
}

func TestVerifyURL_EchoHandshake(t *testing.T) {
	c := newTestCrypto(t)
	const echo = "3804518097357236"

	enc := encryptFor(t, c, echo, testCorpID)
	sig := c.Signature("1700000001", "n2", enc)

	got, err := c.VerifyURL(sig, "1700000001", "n2", enc)
	if err != nil {
		t.Fatalf("VerifyURL: %v", err)
	}
	if got != echo {
		t.Fatalf("expected echo %q, got %q", echo, got)
	}

	if _, err := c.VerifyURL("wrong", "1700000001", "n2", enc); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestSignature_OrderIndependent(t *testing.T) {
	c := newTestCrypto(t)
	// The digest sorts its inputs, so it only depends on the set of values.
	a := c.Signature("111", "zzz", "payload")
	if len(a) != 40 || strings.ToLower(a) != a {
		t.Fatalf("signature should be lowercase hex sha1, got %q", a)
	}
	if a != c.Signature("111", "zzz", "payload") {
		t.Fatalf("signature not deterministic")
	}
}
