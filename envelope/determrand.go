package envelope

// Deterministic crypto.Reader, used to derive stream-cipher/demo-XOR key
// material from a shared secret. Half the hash output is fed back as state,
// half is emitted, so the stream cannot be inverted to recover the seed.
// overview: [a|...] -> sha512(a) -> [b|output] -> sha512(b)

import (
	"crypto/sha512"
	"io"
)

// determRandIter is how many times the seed is re-hashed before the first
// byte is emitted, so related seeds (e.g. a counter) don't produce
// observably related initial state.
const determRandIter = 2048

// newDetermRand returns an io.Reader producing a pseudo-random byte stream
// deterministic in seed.
func newDetermRand(seed []byte) io.Reader {
	next := seed
	for i := 0; i < determRandIter; i++ {
		next, _ = hashSplit(next)
	}
	return &determRand{next: next}
}

type determRand struct {
	next []byte
}

func (d *determRand) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		next, out := hashSplit(d.next)
		n += copy(b[n:], out)
		d.next = next
	}
	return n, nil
}

func hashSplit(input []byte) (next, output []byte) {
	sum := sha512.Sum512(input)
	return sum[:sha512.Size/2], sum[sha512.Size/2:]
}

// deriveKey stretches a shared secret into n bytes of key material.
func deriveKey(secret []byte, n int) []byte {
	out := make([]byte, n)
	io.ReadFull(newDetermRand(secret), out)
	return out
}
