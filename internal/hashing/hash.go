package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"momento/internal/filesystem"
	"momento/internal/metrics"
)

// ChunkSize is the read buffer size; files are never loaded whole.
const ChunkSize = 8 * 1024

// File returns the lowercase hex SHA-256 digest of the file at path.
// It fails without a digest if the file cannot be fully read or ctx ends.
func File(ctx context.Context, path string) (string, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	digest, err := Reader(ctx, f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, nil
}

// Reader hashes r in ChunkSize reads, checking ctx between chunks.
func Reader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	metrics.IngestBytesHashed.Add(float64(total))
	return hex.EncodeToString(h.Sum(nil)), nil
}
