// Package checksum computes and verifies SHA-256 digests of files.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrMismatch = errors.New("checksum mismatch")

// FileSHA256 returns the lowercase hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize strips an optional "sha256:" prefix and lowercases the digest.
func Normalize(digest string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(digest), "sha256:"))
}

// Verify hashes path and checks the result against the accepted digests.
// An empty accepted list only computes the digest.
func Verify(path string, accepted ...string) (string, error) {
	actual, err := FileSHA256(path)
	if err != nil {
		return "", err
	}
	if len(accepted) == 0 {
		return actual, nil
	}
	for _, want := range accepted {
		if want != "" && Normalize(want) == actual {
			return actual, nil
		}
	}
	return actual, fmt.Errorf("%w for %s: got %s", ErrMismatch, path, actual)
}

// ParseSumFile extracts the digest from "<hex>  <filename>" content as
// published next to release archives.
func ParseSumFile(content string) (string, error) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	digest := Normalize(fields[0])
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed sha256 digest %q", fields[0])
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("malformed sha256 digest %q: %w", fields[0], err)
	}
	return digest, nil
}
