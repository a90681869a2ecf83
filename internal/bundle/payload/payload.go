// Package payload defines how an application payload is attached to the
// launcher executable and how the launcher finds it again.
//
// A bundle is laid out as [stub][payload tar.gz][trailer]. The trailer is a
// fixed 64-byte little-endian record:
//
//	magic    [8]byte  "BNDLRPLD"
//	version  uint32
//	reserved uint32
//	offset   uint64   start of the payload
//	length   uint64   payload size in bytes
//	sha256   [32]byte digest of the payload
//
// This package is compiled into the launcher and must only import the
// standard library.
package payload

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	Magic         = "BNDLRPLD"
	FormatVersion = 1
	TrailerSize   = 64
	// ScanWindow is the read size used when searching for the payload
	// without a trailer.
	ScanWindow = 64 * 1024
)

var (
	ErrNoPayload = errors.New("no payload found")
	ErrCorrupt   = errors.New("payload is corrupt")
)

var gzipMagic = []byte{0x1f, 0x8b, 0x08}

// Trailer locates the payload inside a bundle.
type Trailer struct {
	Version uint32
	Offset  uint64
	Length  uint64
	SHA256  [32]byte
}

// Digest returns the payload digest as lowercase hex.
func (t Trailer) Digest() string {
	return hex.EncodeToString(t.SHA256[:])
}

// MarshalBinary encodes the trailer in its on-disk form.
func (t Trailer) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TrailerSize)
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint32(buf[8:12], t.Version)
	binary.LittleEndian.PutUint64(buf[16:24], t.Offset)
	binary.LittleEndian.PutUint64(buf[24:32], t.Length)
	copy(buf[32:64], t.SHA256[:])
	return buf, nil
}

// UnmarshalBinary decodes an on-disk trailer.
func (t *Trailer) UnmarshalBinary(b []byte) error {
	if len(b) != TrailerSize {
		return fmt.Errorf("%w: trailer is %d bytes", ErrCorrupt, len(b))
	}
	if string(b[0:8]) != Magic {
		return fmt.Errorf("%w: bad trailer magic", ErrNoPayload)
	}
	t.Version = binary.LittleEndian.Uint32(b[8:12])
	if t.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported trailer version %d", ErrCorrupt, t.Version)
	}
	t.Offset = binary.LittleEndian.Uint64(b[16:24])
	t.Length = binary.LittleEndian.Uint64(b[24:32])
	copy(t.SHA256[:], b[32:64])
	return nil
}

// Append writes the payload read from r to the end of bundlePath followed
// by its trailer.
func Append(bundlePath string, r io.Reader) (Trailer, error) {
	f, err := os.OpenFile(bundlePath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return Trailer{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Trailer{}, err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		f.Close()
		return Trailer{}, fmt.Errorf("writing payload: %w", err)
	}
	t := Trailer{Version: FormatVersion, Offset: uint64(info.Size()), Length: uint64(n)}
	copy(t.SHA256[:], h.Sum(nil))

	b, _ := t.MarshalBinary()
	if _, err := f.Write(b); err != nil {
		f.Close()
		return Trailer{}, fmt.Errorf("writing trailer: %w", err)
	}
	return t, f.Close()
}

// ReadTrailer reads the trailer at the end of a bundle of the given size.
func ReadTrailer(r io.ReaderAt, size int64) (Trailer, error) {
	var t Trailer
	if size < TrailerSize {
		return t, ErrNoPayload
	}
	b := make([]byte, TrailerSize)
	if _, err := r.ReadAt(b, size-TrailerSize); err != nil {
		return t, fmt.Errorf("reading trailer: %w", err)
	}
	if err := t.UnmarshalBinary(b); err != nil {
		return t, err
	}
	if t.Offset+t.Length+TrailerSize != uint64(size) {
		return t, fmt.Errorf("%w: trailer does not match file size", ErrCorrupt)
	}
	return t, nil
}

// Locate returns the payload offset and length. The trailer is consulted
// first; without one the file is scanned for a gzip stream holding a tar
// archive.
func Locate(r io.ReaderAt, size int64) (offset, length int64, err error) {
	t, err := ReadTrailer(r, size)
	if err == nil {
		return int64(t.Offset), int64(t.Length), nil
	}
	if !errors.Is(err, ErrNoPayload) {
		return 0, 0, err
	}
	off, err := scan(r, size)
	if err != nil {
		return 0, 0, err
	}
	return off, size - off, nil
}

// scan walks the file in ScanWindow chunks looking for gzip magic bytes
// that start a readable tar stream.
func scan(r io.ReaderAt, size int64) (int64, error) {
	overlap := int64(len(gzipMagic) - 1)
	buf := make([]byte, ScanWindow)
	for start := int64(0); start < size; start += ScanWindow - overlap {
		n, err := r.ReadAt(buf, start)
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("scanning for payload: %w", err)
		}
		window := buf[:n]
		for i := 0; ; {
			j := bytes.Index(window[i:], gzipMagic)
			if j < 0 {
				break
			}
			off := start + int64(i+j)
			if isTarGz(io.NewSectionReader(r, off, size-off)) {
				return off, nil
			}
			i += j + 1
		}
		if int64(n) < ScanWindow {
			break
		}
	}
	return 0, ErrNoPayload
}

func isTarGz(r io.Reader) bool {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return false
	}
	defer gz.Close()
	_, err = tar.NewReader(gz).Next()
	return err == nil
}

// Verify checks the payload region against the trailer digest.
func Verify(r io.ReaderAt, t Trailer) error {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, int64(t.Offset), int64(t.Length))); err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), t.SHA256[:]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return nil
}

// ExtractTarGz unpacks a gzip-compressed tar stream into dest, dropping the
// first strip path components of every entry.
func ExtractTarGz(r io.Reader, dest string, strip int) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		target, ok, err := entryPath(dest, hdr.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("%w: absolute symlink %s", ErrCorrupt, hdr.Name)
			}
			if !within(dest, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
				return fmt.Errorf("%w: symlink %s -> %s escapes destination", ErrCorrupt, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func entryPath(dest, name string, strip int) (string, bool, error) {
	parts := strings.Split(strings.Trim(filepath.ToSlash(name), "/"), "/")
	clean := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			clean = append(clean, p)
		}
	}
	if len(clean) <= strip {
		return "", false, nil
	}
	rel := filepath.Join(clean[strip:]...)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false, fmt.Errorf("%w: entry %s escapes destination", ErrCorrupt, name)
	}
	return filepath.Join(dest, rel), true, nil
}

// within reports whether p stays inside dest.
func within(dest, p string) bool {
	rel, err := filepath.Rel(dest, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
