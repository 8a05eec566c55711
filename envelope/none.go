package envelope

// NoneDelegate is the passthrough security primitive: no encryption, no
// authentication. Used for loopback connections and tests.
type NoneDelegate struct{}

func (NoneDelegate) Handshake(isInitiator bool, firstFrameClear []byte) error { return nil }

func (NoneDelegate) Authenticate(body []byte) ([]byte, error) { return nil, nil }

func (NoneDelegate) Verify(body, tag []byte) error { return nil }

func (NoneDelegate) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (NoneDelegate) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

func (NoneDelegate) AuthTagLen() int { return 0 }
