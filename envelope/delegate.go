// Package envelope implements the security envelope wrapped around every
// frame before it reaches a Port: a handshake that derives a session key,
// then per-frame authenticate+encrypt on the way out and decrypt+verify on
// the way in.
package envelope

import (
	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/wire"
)

// AuthTagLen reports how many trailing bytes a Delegate appends as an auth
// tag, so callers can size wire.Unmarshal's authTagLen parameter before a
// session key has even been established (fixed per delegate kind).
type Delegate interface {
	// Handshake derives and stores the session key from the first frame of
	// a connection. isInitiator distinguishes the side that originates the
	// handshake payload from the side that responds to it.
	Handshake(isInitiator bool, firstFrameClear []byte) error

	// Authenticate computes a tag over body under the session key.
	Authenticate(body []byte) ([]byte, error)
	// Verify checks a tag against body, returning AUTH_FAILED on mismatch.
	Verify(body, tag []byte) error

	// Encrypt transforms plaintext component bytes into ciphertext.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt is the inverse of Encrypt.
	Decrypt(ciphertext []byte) ([]byte, error)

	// AuthTagLen is the fixed length of the tag Authenticate produces.
	AuthTagLen() int
}

// Seal encrypts every component of a non-clear frame f and then computes
// the auth tag over the resulting ciphertext, leaving f.AuthTag set
// (encrypt-then-authenticate: the tag does not cover the plaintext). Clear
// frames (handshake, ACKs) pass through untouched.
func Seal(d Delegate, f *wire.Frame) error {
	if f.IsClear() {
		return nil
	}
	for i, c := range f.Components {
		ct, err := d.Encrypt(c.Bytes)
		if err != nil {
			return dcerr.Wrap(dcerr.KindAuthFailed, err, "encrypt component %d", i)
		}
		f.Components[i].Bytes = ct
	}
	tag, err := d.Authenticate(concatComponents(f))
	if err != nil {
		return dcerr.Wrap(dcerr.KindAuthFailed, err, "authenticate frame")
	}
	f.AuthTag = tag
	return nil
}

// Open applies a Delegate's verify-then-decrypt pipeline to f in place.
func Open(d Delegate, f *wire.Frame) error {
	if f.IsClear() {
		return nil
	}
	if err := d.Verify(concatComponents(f), f.AuthTag); err != nil {
		return dcerr.Wrap(dcerr.KindAuthFailed, err, "frame failed authentication")
	}
	for i, c := range f.Components {
		pt, err := d.Decrypt(c.Bytes)
		if err != nil {
			return dcerr.Wrap(dcerr.KindAuthFailed, err, "decrypt component %d", i)
		}
		f.Components[i].Bytes = pt
	}
	return nil
}

func concatComponents(f *wire.Frame) []byte {
	var out []byte
	for _, c := range f.Components {
		out = append(out, c.Bytes...)
	}
	return out
}
