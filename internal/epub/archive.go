package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// MimetypeContent is the required content of the EPUB mimetype entry.
const MimetypeContent = "application/epub+zip"

// maxEntrySize is the maximum allowed decompressed size for a single
// archive entry. This guards against zip bomb attacks.
const maxEntrySize int64 = 256 * 1024 * 1024

var (
	ErrDuplicateEntry = errors.New("duplicate archive entry path")
	ErrEntryNotFound  = errors.New("archive entry not found")
)

// Compression is the storage method of an archive entry.
type Compression uint16

const (
	Store   Compression = Compression(zip.Store)
	Deflate Compression = Compression(zip.Deflate)
)

// Entry is a single file (or directory marker) inside an EPUB archive.
// Entries are immutable once constructed; rewriting content produces a
// new Entry rather than mutating bytes shared with the source archive.
type Entry struct {
	Path        string
	Data        []byte
	Compression Compression
	Dir         bool
}

// Archive is an ordered collection of entries. Order is load/insertion
// order and is preserved on write.
type Archive struct {
	entries []*Entry
	index   map[string]*Entry
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{index: make(map[string]*Entry)}
}

// Open reads an EPUB archive from a file on disk.
func Open(filename string) (*Archive, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return Load(data)
}

// Load reads an EPUB archive from raw zip bytes, preserving the zip's
// entry order and per-entry compression method.
func Load(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	a := NewArchive()
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			if err := a.Add(&Entry{Path: normalizePath(f.Name), Dir: true, Compression: Store}); err != nil {
				return nil, err
			}
			continue
		}
		content, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		entry := &Entry{
			Path:        normalizePath(f.Name),
			Data:        content,
			Compression: normalizeMethod(f.Method),
		}
		if err := a.Add(entry); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Add appends an entry, rejecting duplicate paths.
func (a *Archive) Add(e *Entry) error {
	if _, ok := a.index[e.Path]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Path)
	}
	a.entries = append(a.entries, e)
	a.index[e.Path] = e
	return nil
}

// Entries returns all entries in archive order, directory markers included.
func (a *Archive) Entries() []*Entry {
	return a.entries
}

// Files returns all non-directory entries in archive order.
func (a *Archive) Files() []*Entry {
	files := make([]*Entry, 0, len(a.entries))
	for _, e := range a.entries {
		if !e.Dir {
			files = append(files, e)
		}
	}
	return files
}

// File looks up a non-directory entry by normalized path.
func (a *Archive) File(p string) (*Entry, bool) {
	e, ok := a.index[normalizePath(p)]
	if !ok || e.Dir {
		return nil, false
	}
	return e, true
}

// ReadFile returns the contents of the entry at path.
func (a *Archive) ReadFile(p string) ([]byte, error) {
	e, ok := a.File(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, p)
	}
	return e.Data, nil
}

// WriteTo serializes the archive as a zip stream. The mimetype entry, if
// present, is always emitted first and uncompressed regardless of its
// position or stored method; all other entries keep archive order and
// their own compression method.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	if mt, ok := a.File("mimetype"); ok {
		if err := writeZipEntry(zw, "mimetype", mt.Data, Store); err != nil {
			return cw.n, err
		}
	}

	for _, e := range a.entries {
		if e.Path == "mimetype" {
			continue
		}
		if e.Dir {
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: e.Path + "/", Method: zip.Store}); err != nil {
				return cw.n, fmt.Errorf("failed to write directory entry %s: %w", e.Path, err)
			}
			continue
		}
		if err := writeZipEntry(zw, e.Path, e.Data, e.Compression); err != nil {
			return cw.n, err
		}
	}

	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return cw.n, nil
}

// WriteFile serializes the archive to a file on disk.
func (a *Archive) WriteFile(filename string) error {
	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(filename, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte, method Compression) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: uint16(method)})
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write zip entry %s: %w", name, err)
	}
	return nil
}

// normalizeMethod maps a zip method to a writable Compression. Methods
// other than Store and Deflate (bzip2, lzma, ...) cannot be re-emitted
// by archive/zip, so entries carrying one are rewritten as Deflate.
func normalizeMethod(m uint16) Compression {
	if m == zip.Store {
		return Store
	}
	return Deflate
}

// readZipEntry reads the full contents of a zip entry, enforcing
// maxEntrySize even when the declared size is forged.
func readZipEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > uint64(maxEntrySize) {
		return nil, fmt.Errorf("zip entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxEntrySize {
		return nil, fmt.Errorf("zip entry %s exceeds size limit", f.Name)
	}
	return data, nil
}

// normalizePath converts an archive path to a clean POSIX-style path
// without a leading "./".
func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimSuffix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return strings.TrimPrefix(cleaned, "./")
}

// isSafePath checks whether p stays within the archive root (no
// absolute paths, no traversal above root).
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
