package util

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashFileSHA256 computes the lowercase hex SHA256 of a file in a streaming fashion
// using a 1 MiB buffer, and reports how many bytes were read. It stops early when ctx
// is cancelled.
func HashFileSHA256(ctx context.Context, path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()
	return HashReaderSHA256(ctx, f)
}

// HashReaderSHA256 is HashFileSHA256 over an io.Reader.
func HashReaderSHA256(ctx context.Context, r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, 1<<20) // 1 MiB
	n, err := io.CopyBuffer(h, ctxReader{ctx: ctx, r: r}, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
