// Package cryptoadapter is a thin facade over the primitive crypto
// operations the session engine needs: RSA-1024 keypair generation and
// decryption, AES-CBC encryption with a zero IV, and the base64/hex
// transforms the identity store persists. Primitive cryptography is
// treated as an external library by the protocol this client speaks; this
// package is that library, built on the Go standard library.
package cryptoadapter

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"fmt"
)

// RSAKeyBits is the key size the wire protocol's 160-byte public-key field
// requires: a 1024-bit RSA public key DER-encodes to exactly 160 bytes via
// PKIX/SubjectPublicKeyInfo.
const RSAKeyBits = 1024

// ErrCrypto wraps every failure this package returns, per spec §4.3/§7.
var ErrCrypto = errors.New("cryptoadapter: crypto error")

// KeyPair holds a generated RSA key pair in both wire and persistent forms.
type KeyPair struct {
	// PrivatePKCS1 is the PKCS#1 DER encoding of the private key, the form
	// persisted to priv.key/me.info (base64-encoded by the caller).
	PrivatePKCS1 []byte
	// PublicKeyWire is the exact 160-byte public key payload sent in
	// SEND_PUBLIC_KEY.
	PublicKeyWire []byte

	priv *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSA-1024 key pair.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: generate key: %v", ErrCrypto, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: marshal public key: %v", ErrCrypto, err)
	}
	if len(pubDER) != 160 {
		// Extremely unlikely for a 1024-bit modulus, but the wire format is
		// a fixed 160 bytes; fail loudly rather than send a malformed field.
		return KeyPair{}, fmt.Errorf("%w: marshaled public key is %d bytes, want 160", ErrCrypto, len(pubDER))
	}
	return KeyPair{
		PrivatePKCS1:  x509.MarshalPKCS1PrivateKey(priv),
		PublicKeyWire: pubDER,
		priv:          priv,
	}, nil
}

// ParsePrivateKey reconstructs a private key from its PKCS#1 DER bytes, as
// loaded back from priv.key on a reconnect.
func ParsePrivateKey(pkcs1 []byte) (*rsa.PrivateKey, error) {
	priv, err := x509.ParsePKCS1PrivateKey(pkcs1)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrCrypto, err)
	}
	return priv, nil
}

// DecryptAESKey unwraps the server's RSA-wrapped AES key using OAEP with
// SHA-1, the scheme compatible with this protocol's RSA wrapper.
func DecryptAESKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	plain, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt AES key: %v", ErrCrypto, err)
	}
	return plain, nil
}
