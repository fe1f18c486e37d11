// Package cryptoutil provides the AES primitives the pairing state
// machine and control stream need: AES-128-GCM for the control
// stream and AES-128-ECB (padding disabled) for pairing.
//
// Adapted from moonlight-common-go/crypto, which only covered the
// client's GCM/CBC needs; ECB is new because pairing (host-side) has
// no client-side equivalent to port from.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

var (
	// ErrInvalidKeySize indicates a key that isn't 16 bytes (AES-128).
	ErrInvalidKeySize = errors.New("cryptoutil: key must be 16 bytes")
	// ErrDecryptionFailed indicates a GCM tag mismatch.
	ErrDecryptionFailed = errors.New("cryptoutil: decryption failed")
	// ErrNotBlockAligned indicates ECB input that isn't a multiple of the block size.
	ErrNotBlockAligned = errors.New("cryptoutil: input must be a multiple of the AES block size")
)

// GCMContext holds an AES-128-GCM cipher bound to one key, used by the
// control stream (§4.2) to decrypt encrypted envelopes.
type GCMContext struct {
	aead cipher.AEAD
}

// NewGCMContext builds a GCM context from a 16-byte AES key.
func NewGCMContext(key []byte) (*GCMContext, error) {
	if len(key) != 16 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	// The control stream's encrypted envelope carries a 16-byte IV
	// (spec §4.2), not AES-GCM's default 12-byte nonce.
	aead, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, err
	}
	return &GCMContext{aead: aead}, nil
}

// Seal encrypts plaintext under iv, returning ciphertext and detached tag.
func (c *GCMContext) Seal(plaintext, iv []byte) (ciphertext, tag []byte, err error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, nil, errors.New("cryptoutil: invalid IV size")
	}
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - c.aead.Overhead()
	return sealed[:tagStart], sealed[tagStart:], nil
}

// Open decrypts ciphertext+tag under iv.
func (c *GCMContext) Open(ciphertext, iv, tag []byte) ([]byte, error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, errors.New("cryptoutil: invalid IV size")
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ControlIV builds the 16-byte IV the control stream uses to decrypt
// an encrypted envelope: first byte is sequence mod 256, rest zero
// (spec §4.2).
func ControlIV(sequenceNumber uint32) []byte {
	iv := make([]byte, 16)
	iv[0] = byte(sequenceNumber)
	return iv
}

// ECBEncrypt encrypts plaintext with AES-128-ECB and no padding. The
// caller must supply a plaintext whose length is a multiple of the
// AES block size — the pairing protocol always deals in 16-byte
// challenge/secret quantities, so no padding scheme is involved.
func ECBEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := newECBBlock(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, ErrNotBlockAligned
	}
	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], plaintext[i:i+block.BlockSize()])
	}
	return out, nil
}

// ECBDecrypt decrypts ciphertext with AES-128-ECB and no padding.
func ECBDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := newECBBlock(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrNotBlockAligned
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], ciphertext[i:i+block.BlockSize()])
	}
	return out, nil
}

func newECBBlock(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, ErrInvalidKeySize
	}
	return aes.NewCipher(key)
}
