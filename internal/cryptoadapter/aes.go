package cryptoadapter

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// zeroIV is the fixed initialization vector this protocol specifies. It is
// not a security recommendation; it is the server's wire contract and must
// not be "fixed" unilaterally (see DESIGN.md open questions).
var zeroIV = make([]byte, aes.BlockSize)

// EncryptAES encrypts plaintext with AES-CBC under key, zero IV, PKCS#7
// padded to the block size. Key length is whatever the server delivered
// (conventionally 16 bytes).
func EncryptAES(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new AES cipher: %v", ErrCrypto, err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, zeroIV)
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}
