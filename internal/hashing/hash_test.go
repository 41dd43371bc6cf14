package hashing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileKnownDigest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{"empty", nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", []byte("abc"), "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "f.bin")
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := File(context.Background(), path)
			if err != nil {
				t.Fatalf("File() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("File() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFileLargerThanChunk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	content := bytes.Repeat([]byte("momento"), ChunkSize)

	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "renamed.mov")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ha, err := File(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := File(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("same bytes hashed differently: %s vs %s", ha, hb)
	}

	c := filepath.Join(dir, "c.mp4")
	if err := os.WriteFile(c, append(content, '!'), 0o644); err != nil {
		t.Fatal(err)
	}
	hc, err := File(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if hc == ha {
		t.Error("different bytes produced the same digest")
	}
}

func TestFileMissing(t *testing.T) {
	t.Parallel()
	_, err := File(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("File() error = %v, want ErrNotExist", err)
	}
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.after--
	return copy(p, strings.Repeat("x", len(p))), nil
}

func TestReaderErrorYieldsNoDigest(t *testing.T) {
	t.Parallel()
	got, err := Reader(context.Background(), &failingReader{after: 2})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Reader() error = %v, want ErrUnexpectedEOF", err)
	}
	if got != "" {
		t.Errorf("Reader() digest = %q on error, want empty", got)
	}
}

func TestReaderCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Reader(ctx, strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Errorf("Reader() error = %v, want context.Canceled", err)
	}
}
