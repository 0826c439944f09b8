// Package chunker loads a file into memory, encrypts it once with the
// session AES key, and exposes a forward iterator over fixed-size
// ciphertext slices for the SEND_FILE loop (spec §4.5).
package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/coinstash/fileup/internal/cryptoadapter"
)

// ChunkSize is the fixed slice width every packet (except possibly the
// last) carries (spec §6).
const ChunkSize = 4096

// Chunker iterates a single file's AES ciphertext in ChunkSize slices.
//
// TotalChunks is deliberately `len/ChunkSize + 1`, even when len is an
// exact multiple of ChunkSize: this preserves the off-by-one the original
// client relies on (spec §4.5/§9) so the server's expectations are not
// silently "fixed".
type Chunker struct {
	fileName       string
	originalSize   int
	ciphertextSize int
	ciphertext     []byte
	totalChunks    int
	next           int

	limiter *rate.Limiter
}

// Option configures New.
type Option func(*Chunker)

// WithRateLimit bounds chunk emission to bytesPerSec, grounded on the
// teacher's internal/filetransfer/ratelimit.go. A non-positive value
// disables limiting (the default).
func WithRateLimit(bytesPerSec int) Option {
	return func(c *Chunker) {
		if bytesPerSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), ChunkSize)
		}
	}
}

// New loads path into memory and encrypts it once with key, returning a
// Chunker ready to iterate its ciphertext.
func New(path string, key []byte, opts ...Option) (*Chunker, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: read %s: %w", path, err)
	}

	ciphertext, err := cryptoadapter.EncryptAES(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("chunker: encrypt %s: %w", path, err)
	}

	c := &Chunker{
		fileName:       filepath.Base(path),
		originalSize:   len(plaintext),
		ciphertextSize: len(ciphertext),
		ciphertext:     ciphertext,
		totalChunks:    len(ciphertext)/ChunkSize + 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FileName is the basename only; path separators are stripped (spec §4.5).
func (c *Chunker) FileName() string { return c.fileName }

// OriginalSize is the plaintext length before encryption.
func (c *Chunker) OriginalSize() int { return c.originalSize }

// CiphertextSize is the AES-CBC-padded ciphertext length.
func (c *Chunker) CiphertextSize() int { return c.ciphertextSize }

// TotalChunks is floor(ciphertextSize/ChunkSize) + 1, including the
// deliberate extra empty final packet when ciphertextSize is an exact
// multiple of ChunkSize (spec §4.5/§9).
func (c *Chunker) TotalChunks() int { return c.totalChunks }

// Finished reports whether every chunk has been produced.
func (c *Chunker) Finished() bool { return c.next >= c.totalChunks }

// Reset rewinds the iterator to the first chunk, used when the SEND_FILE
// loop must re-transmit the whole file after a CRC mismatch (spec §4.8).
func (c *Chunker) Reset() { c.next = 0 }

// NextChunk returns the next ChunkSize-or-smaller slice of ciphertext and
// advances the iterator. It blocks on the optional rate limiter. Calling
// NextChunk after Finished reports true returns an error.
func (c *Chunker) NextChunk(ctx context.Context) ([]byte, error) {
	if c.Finished() {
		return nil, fmt.Errorf("chunker: no more chunks (total %d)", c.totalChunks)
	}

	start := c.next * ChunkSize
	end := start + ChunkSize
	if end > len(c.ciphertext) {
		end = len(c.ciphertext)
	}
	if start > len(c.ciphertext) {
		start = len(c.ciphertext)
	}
	chunk := c.ciphertext[start:end]
	c.next++

	if c.limiter != nil {
		if err := c.limiter.WaitN(ctx, max(len(chunk), 1)); err != nil {
			return nil, fmt.Errorf("chunker: rate limit wait: %w", err)
		}
	}

	return chunk, nil
}
