// Package blob stores uploaded files behind a small key/value interface.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is implemented by DiskStore and MinioStore. Delete of a missing
// key succeeds.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// sniffLen matches the mimetype default read limit.
const sniffLen = 3072

// NewKey builds "{year}/{month}/{uuid}/{filename}" so that equal
// filenames never collide.
func NewKey(now time.Time, filename string) string {
	return fmt.Sprintf("%04d/%02d/%s/%s", now.Year(), int(now.Month()), uuid.NewString(), SafeFilename(filename))
}

// NewInlineKey is NewKey under the inline/ prefix used for editor images.
func NewInlineKey(now time.Time, filename string) string {
	return "inline/" + NewKey(now, filename)
}

// SafeFilename strips directories and characters that are awkward in
// object keys and Content-Disposition headers.
func SafeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7f:
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "file"
	}
	return cleaned
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Sniff detects the content type from the leading bytes of r. The returned
// reader yields the full content, sniffed bytes included.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

// IsImage reports whether a sniffed content type is an image type.
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
