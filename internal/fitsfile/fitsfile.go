// Package fitsfile reads and writes the FITS files exchanged with the
// science tools. Files are loaded fully into memory; a missing path falls
// back to a gzip-compressed sibling (<path>.gz).
package fitsfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
)

// GzipExt is the suffix of compressed variants.
const GzipExt = ".gz"

// ErrNotFound is returned when neither path nor its .gz variant exists.
var ErrNotFound = errors.New("fitsfile: file not found")

// Resolve returns path if it exists, otherwise path.gz if that exists.
func Resolve(path string) (string, error) {
	for _, candidate := range []string{path, path + GzipExt} {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("fitsfile: stat %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Reader is an opened FITS file.
type Reader struct {
	path    string
	file    *fitsio.File
	closers []io.Closer
}

// Open opens path (or path.gz).
func Open(path string) (*Reader, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("fitsfile: open %s: %w", resolved, err)
	}
	closers := []io.Closer{f}
	var src io.Reader = f
	if strings.HasSuffix(resolved, GzipExt) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("fitsfile: gunzip %s: %w", resolved, err)
		}
		closers = append([]io.Closer{gz}, closers...)
		src = gz
	}
	fits, err := fitsio.Open(src)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("fitsfile: decode %s: %w", resolved, err)
	}
	return &Reader{path: resolved, file: fits, closers: closers}, nil
}

// Path returns the file actually opened.
func (r *Reader) Path() string {
	return r.path
}

// Len returns the number of HDUs.
func (r *Reader) Len() int {
	return len(r.file.HDUs())
}

// HDU returns the i-th HDU.
func (r *Reader) HDU(i int) (fitsio.HDU, error) {
	if i < 0 || i >= r.Len() {
		return nil, fmt.Errorf("fitsfile: %s has no HDU %d", r.path, i)
	}
	return r.file.HDU(i), nil
}

// HDUs returns every HDU in file order.
func (r *Reader) HDUs() []fitsio.HDU {
	return append([]fitsio.HDU(nil), r.file.HDUs()...)
}

// Lookup returns the HDU whose EXTNAME is name.
func (r *Reader) Lookup(name string) (fitsio.HDU, bool) {
	if !r.file.Has(name) {
		return nil, false
	}
	return r.file.Get(name), true
}

// Close releases the file.
func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	err := r.file.Close()
	if cerr := closeAll(r.closers); err == nil {
		err = cerr
	}
	return err
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
