package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
)

const (
	aesKeyLen = 16
	aesTagLen = sha256.Size
)

// AESDelegate is the AES-128-CBC primitive with an HMAC-SHA256 tag, used
// encrypt-then-authenticate by Seal (the MAC covers the ciphertext, so Open
// runs Verify before Decrypt).
type AESDelegate struct {
	sharedSecret []byte
	encKey       []byte
	macKey       []byte
}

// NewAESDelegate returns a Delegate keyed from sharedSecret.
func NewAESDelegate(sharedSecret []byte) *AESDelegate {
	return &AESDelegate{sharedSecret: sharedSecret}
}

func (a *AESDelegate) Handshake(isInitiator bool, firstFrameClear []byte) error {
	material := deriveKey(append(append([]byte{}, a.sharedSecret...), firstFrameClear...), aesKeyLen*2)
	a.encKey = material[:aesKeyLen]
	a.macKey = material[aesKeyLen:]
	return nil
}

func (a *AESDelegate) Authenticate(body []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, a.macKey)
	mac.Write(body)
	return mac.Sum(nil), nil
}

func (a *AESDelegate) Verify(body, tag []byte) error {
	want, _ := a.Authenticate(body)
	if !hmac.Equal(want, tag) {
		return errAuthMismatch
	}
	return nil
}

// Encrypt prepends a random IV to the CBC ciphertext. Input is PKCS#7
// padded to the block size.
func (a *AESDelegate) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(a.encKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, block.BlockSize()+len(padded))
	iv := out[:block.BlockSize()]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[block.BlockSize():], padded)
	return out, nil
}

func (a *AESDelegate) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(a.encKey)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ciphertext) < bs || (len(ciphertext)-bs)%bs != 0 {
		return nil, errAuthMismatch
	}
	iv, body := ciphertext[:bs], ciphertext[bs:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return pkcs7Unpad(out)
}

func (a *AESDelegate) AuthTagLen() int { return aesTagLen }

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errAuthMismatch
	}
	n := int(b[len(b)-1])
	if n == 0 || n > len(b) {
		return nil, errAuthMismatch
	}
	return b[:len(b)-n], nil
}
