package cryptoadapter

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeBase64 / DecodeBase64 are the identity store's transport for
// persisting private keys to text files.
func EncodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func DecodeBase64(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrCrypto, err)
	}
	return out, nil
}

// EncodeHexLines lowercase-hex-encodes b with a newline inserted every 16
// decoded bytes (32 hex characters), per spec §4.2/§6.
func EncodeHexLines(b []byte) string {
	full := hex.EncodeToString(b)
	var sb strings.Builder
	for i := 0; i < len(full); i += 32 {
		end := i + 32
		if end > len(full) {
			end = len(full)
		}
		sb.WriteString(full[i:end])
		if end%32 == 0 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// DecodeHexLines reverses EncodeHexLines, tolerating embedded whitespace
// (newlines, spaces) and failing on genuinely non-hex input.
func DecodeHexLines(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	out, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: hex decode: %v", ErrCrypto, err)
	}
	return out, nil
}
