// Package wecom integrates with the WeCom (企业微信) platform: callback
// signature verification and AES decryption, event XML parsing, and a JSON
// API client with a TTL-cached access token.
//
// This file implements the callback crypto scheme. Inbound callbacks carry a
// base64 AES-256-CBC ciphertext plus a SHA1 signature computed over the
// shared token, a timestamp, a nonce, and the ciphertext (dictionary-sorted).
// The decrypted plaintext is laid out as:
//
//	16 random bytes | 4-byte big-endian message length | message | corp id
//
// The trailing corp id must match the receiver or the payload is rejected.
package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidSignature indicates the msg_signature did not match the
	// locally computed digest. The request must be rejected unprocessed.
	ErrInvalidSignature = errors.New("wecom: invalid callback signature")

	// ErrCorpIDMismatch indicates the decrypted payload was encrypted for a
	// different corp than this receiver.
	ErrCorpIDMismatch = errors.New("wecom: receiver corp id mismatch")

	// ErrInvalidCiphertext indicates the ciphertext or its padding is malformed.
	ErrInvalidCiphertext = errors.New("wecom: malformed ciphertext")
)

// Crypto verifies and decrypts WeCom callback payloads for one corp.
// It is immutable after construction and safe for concurrent use.
type Crypto struct {
	token  string
	corpID string
	aesKey []byte // 32 bytes; IV is the first block
}

// NewCrypto builds a Crypto from the callback token, the 43-character
// EncodingAESKey, and the corp id. The AES key is the base64 decoding of
// the EncodingAESKey with one pad character appended.
func NewCrypto(token, encodingAESKey, corpID string) (*Crypto, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("wecom: decode EncodingAESKey: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("wecom: EncodingAESKey must decode to 32 bytes, got %d", len(key))
	}
	return &Crypto{token: token, corpID: corpID, aesKey: key}, nil
}

// Signature computes the callback digest: SHA1 over the dictionary-sorted
// concatenation of token, timestamp, nonce, and the encrypted payload.
func (c *Crypto) Signature(timestamp, nonce, encrypted string) string {
	parts := []string{c.token, timestamp, nonce, encrypted}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifyURL handles the GET echo handshake. It checks the signature over the
// encrypted echostr and returns the decrypted echo plaintext to be written
// back verbatim.
func (c *Crypto) VerifyURL(msgSignature, timestamp, nonce, echostr string) (string, error) {
	if c.Signature(timestamp, nonce, echostr) != msgSignature {
		return "", ErrInvalidSignature
	}
	msg, err := c.decrypt(echostr)
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

// DecryptMessage verifies the signature over the given ciphertext and returns
// the decrypted message body (the event XML).
func (c *Crypto) DecryptMessage(msgSignature, timestamp, nonce, encrypted string) ([]byte, error) {
	if c.Signature(timestamp, nonce, encrypted) != msgSignature {
		return nil, ErrInvalidSignature
	}
	return c.decrypt(encrypted)
}

// decrypt base64-decodes and AES-CBC-decrypts the ciphertext, strips PKCS#7
// padding and the random prefix, and checks the trailing corp id.
func (c *Crypto) decrypt(encrypted string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.aesKey[:aes.BlockSize]).CryptBlocks(plain, raw)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, err
	}
	// 16 random bytes + 4-byte length prefix.
	if len(plain) < 20 {
		return nil, ErrInvalidCiphertext
	}
	msgLen := binary.BigEndian.Uint32(plain[16:20])
	if int(20+msgLen) > len(plain) {
		return nil, ErrInvalidCiphertext
	}
	msg := plain[20 : 20+msgLen]
	receiver := string(plain[20+msgLen:])
	if receiver != c.corpID {
		return nil, ErrCorpIDMismatch
	}
	return msg, nil
}

// pkcs7Unpad removes PKCS#7 padding from a decrypted block sequence.
func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrInvalidCiphertext
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize*2 || n > len(b) {
		return nil, ErrInvalidCiphertext
	}
	return b[:len(b)-n], nil
}
