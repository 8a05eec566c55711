package envelope

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaChaDelegate wraps ChaCha20-Poly1305 (RFC 7539). Poly1305's tag is
// produced as part of the AEAD seal, so Authenticate/Verify are no-ops here:
// the tag travels inline in the ciphertext rather than as a separate
// Frame.AuthTag component, so AuthTagLen reports 0.
type ChaChaDelegate struct {
	sharedSecret []byte
	aead         interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewChaChaDelegate returns a Delegate keyed from sharedSecret.
func NewChaChaDelegate(sharedSecret []byte) *ChaChaDelegate {
	return &ChaChaDelegate{sharedSecret: sharedSecret}
}

func (c *ChaChaDelegate) Handshake(isInitiator bool, firstFrameClear []byte) error {
	key := deriveKey(append(append([]byte{}, c.sharedSecret...), firstFrameClear...), chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	c.aead = aead
	return nil
}

func (c *ChaChaDelegate) Authenticate(body []byte) ([]byte, error) { return nil, nil }

func (c *ChaChaDelegate) Verify(body, tag []byte) error { return nil }

func (c *ChaChaDelegate) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *ChaChaDelegate) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, errAuthMismatch
	}
	nonce, body := ciphertext[:ns], ciphertext[ns:]
	pt, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errAuthMismatch
	}
	return pt, nil
}

func (c *ChaChaDelegate) AuthTagLen() int { return 0 }
