package envelope

import (
	"crypto/sha256"
	"crypto/subtle"
)

// xorTagLen is the fixed size of the demonstration MAC below.
const xorTagLen = 32

// XORDelegate is the demonstration-only cipher primitive: a repeating-key
// XOR stream plus a SHA-256 tag over the session key (derived from the
// shared secret at handshake) and the body. It is
// not cryptographically sound and exists only to exercise the envelope
// pipeline without pulling in a real cipher.
type XORDelegate struct {
	sharedSecret []byte
	key          []byte
}

// NewXORDelegate returns a Delegate keyed from sharedSecret, established out
// of band (e.g. a bootstrap argument), with handshake deriving the session
// stream key.
func NewXORDelegate(sharedSecret []byte) *XORDelegate {
	return &XORDelegate{sharedSecret: sharedSecret}
}

func (x *XORDelegate) Handshake(isInitiator bool, firstFrameClear []byte) error {
	x.key = deriveKey(append(append([]byte{}, x.sharedSecret...), firstFrameClear...), 32)
	return nil
}

func (x *XORDelegate) Authenticate(body []byte) ([]byte, error) {
	h := sha256.New()
	h.Write(x.key)
	h.Write(body)
	return h.Sum(nil), nil
}

func (x *XORDelegate) Verify(body, tag []byte) error {
	want, _ := x.Authenticate(body)
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return errAuthMismatch
	}
	return nil
}

func (x *XORDelegate) Encrypt(plaintext []byte) ([]byte, error) {
	return x.xorStream(plaintext), nil
}

func (x *XORDelegate) Decrypt(ciphertext []byte) ([]byte, error) {
	return x.xorStream(ciphertext), nil
}

func (x *XORDelegate) xorStream(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ x.key[i%len(x.key)]
	}
	return out
}

func (x *XORDelegate) AuthTagLen() int { return xorTagLen }
