// Package hash fingerprints file content at session open and close.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	// partialChunkSize is the window read at the head, middle and tail
	// of files too large to hash in full.
	partialChunkSize = 64 * 1024

	openRetries   = 3
	openRetryBase = 200 * time.Millisecond
)

// Calculator hashes files with SHA-256. Files above MaxFullSize get a
// partial hash over three windows plus the file size, which is cheap
// and still catches real edits. Office keeps files locked during
// saves, so opening retries briefly before giving up.
type Calculator struct {
	// MaxFullSize is the full-hash ceiling in bytes. Zero means hash
	// everything in full.
	MaxFullSize int64
}

func NewCalculator(maxFullSize int64) *Calculator {
	return &Calculator{MaxFullSize: maxFullSize}
}

// Hash returns the hex digest for the file, or "" with an error when
// the file stays unreadable after retries.
func (c *Calculator) Hash(ctx context.Context, path string) (string, error) {
	var digest string

	backoff := retry.WithMaxRetries(openRetries, retry.NewExponential(openRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := c.hashOnce(path)
		if err != nil {
			if os.IsNotExist(err) {
				return err
			}
			// Sharing violations and transient locks are retryable.
			return retry.RetryableError(err)
		}
		digest = d
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, nil
}

// TryHash is Hash with errors reduced to an empty string. Hashing is
// best-effort context for sessions, never a reason to drop an event.
func (c *Calculator) TryHash(ctx context.Context, path string) string {
	digest, err := c.Hash(ctx, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("hash unavailable")
		return ""
	}
	return digest
}

func (c *Calculator) hashOnce(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	if c.MaxFullSize > 0 && info.Size() > c.MaxFullSize {
		return partialHash(f, info.Size())
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// partialHash digests the file size plus head, middle and tail
// windows.
func partialHash(f *os.File, size int64) (string, error) {
	h := sha256.New()

	var sizeBytes [8]byte
	binary.BigEndian.PutUint64(sizeBytes[:], uint64(size))
	h.Write(sizeBytes[:])

	offsets := []int64{0, size/2 - partialChunkSize/2, size - partialChunkSize}
	buf := make([]byte, partialChunkSize)
	for _, off := range offsets {
		if off < 0 {
			off = 0
		}
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return "", err
		}
		h.Write(buf[:n])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
