package hash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestHash(t *testing.T) {
	ctx := context.Background()

	t.Run("full hash matches sha256 of the content", func(t *testing.T) {
		content := []byte("quarterly numbers, draft three")
		path := writeTemp(t, "report.docx", content)

		c := NewCalculator(0)
		digest, err := c.Hash(ctx, path)
		require.NoError(t, err)

		sum := sha256.Sum256(content)
		assert.Equal(t, hex.EncodeToString(sum[:]), digest)
	})

	t.Run("same content hashes the same, different content differs", func(t *testing.T) {
		c := NewCalculator(0)

		a, err := c.Hash(ctx, writeTemp(t, "a.docx", []byte("same")))
		require.NoError(t, err)
		b, err := c.Hash(ctx, writeTemp(t, "b.docx", []byte("same")))
		require.NoError(t, err)
		other, err := c.Hash(ctx, writeTemp(t, "c.docx", []byte("changed")))
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.NotEqual(t, a, other)
	})

	t.Run("oversized files get a partial hash sensitive to edits", func(t *testing.T) {
		big := bytes.Repeat([]byte("abcdefgh"), 64) // 512 bytes
		c := NewCalculator(256)

		path := writeTemp(t, "big.docx", big)
		digest, err := c.Hash(ctx, path)
		require.NoError(t, err)
		assert.NotEmpty(t, digest)

		full, err := NewCalculator(0).Hash(ctx, path)
		require.NoError(t, err)
		assert.NotEqual(t, full, digest, "partial and full digests must not collide")

		edited := append([]byte{}, big...)
		edited[len(edited)/2] = 'X'
		editedDigest, err := c.Hash(ctx, writeTemp(t, "edited.docx", edited))
		require.NoError(t, err)
		assert.NotEqual(t, digest, editedDigest)
	})

	t.Run("partial hash is stable for identical content", func(t *testing.T) {
		big := bytes.Repeat([]byte("abcdefgh"), 64)
		c := NewCalculator(256)

		a, err := c.Hash(ctx, writeTemp(t, "a.docx", big))
		require.NoError(t, err)
		b, err := c.Hash(ctx, writeTemp(t, "b.docx", big))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("missing file is an error, not a retry loop", func(t *testing.T) {
		c := NewCalculator(0)
		_, err := c.Hash(ctx, filepath.Join(t.TempDir(), "gone.docx"))
		assert.Error(t, err)
	})
}

func TestTryHash(t *testing.T) {
	ctx := context.Background()
	c := NewCalculator(0)

	assert.Empty(t, c.TryHash(ctx, filepath.Join(t.TempDir(), "gone.docx")))
	assert.NotEmpty(t, c.TryHash(ctx, writeTemp(t, "report.docx", []byte("content here"))))
}
