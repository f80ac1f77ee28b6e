package fitsfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"

	"github.com/kingrea/gtpipe/internal/hpx"
)

// Writer accumulates HDUs in memory and writes them out on Flush. Image
// HDUs are cloned on entry; other HDUs stay bound to the Reader they came
// from, which the Writer keeps open until Close.
type Writer struct {
	path    string
	hdus    []fitsio.HDU
	names   map[string]bool
	readers []*Reader
}

// NewWriter starts an empty file at path.
func NewWriter(path string) *Writer {
	return &Writer{path: path, names: map[string]bool{}}
}

// OpenWriter loads the existing file at path so more HDUs can be appended.
func OpenWriter(path string) (*Writer, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(path)
	w.Keep(r)
	for i, hdu := range r.HDUs() {
		if i == 0 {
			err = w.SetPrimary(hdu)
		} else {
			err = w.Append(hdu)
		}
		if err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

// Path returns the output path.
func (w *Writer) Path() string {
	return w.path
}

// Len returns the number of HDUs held, primary included.
func (w *Writer) Len() int {
	return len(w.hdus)
}

// Has reports whether an extension named name is already held.
func (w *Writer) Has(name string) bool {
	return w.names[strings.ToUpper(name)]
}

// Keep ties r to the writer's lifetime.
func (w *Writer) Keep(r *Reader) {
	w.readers = append(w.readers, r)
}

// SetPrimary installs hdu (cloned) as the primary HDU. A nil hdu installs an
// empty primary.
func (w *Writer) SetPrimary(hdu fitsio.HDU) error {
	var primary fitsio.HDU
	var err error
	switch {
	case hdu == nil:
		primary, err = fitsio.NewPrimaryHDU(nil)
	case hdu.Type() == fitsio.IMAGE_HDU:
		primary, err = Clone(hdu, true)
	default:
		err = fmt.Errorf("fitsfile: primary HDU must be an image, got %s", hdu.Name())
	}
	if err != nil {
		return err
	}
	if len(w.hdus) == 0 {
		w.hdus = append(w.hdus, primary)
	} else {
		w.hdus[0] = primary
	}
	return nil
}

// Append adds an extension. An empty primary is created first if needed.
func (w *Writer) Append(hdu fitsio.HDU) error {
	if len(w.hdus) == 0 {
		if err := w.SetPrimary(nil); err != nil {
			return err
		}
	}
	ext := hdu
	if hdu.Type() == fitsio.IMAGE_HDU {
		cloned, err := Clone(hdu, false)
		if err != nil {
			return err
		}
		ext = cloned
	}
	w.add(ext)
	return nil
}

// AppendAs adds an image extension under a new EXTNAME.
func (w *Writer) AppendAs(hdu fitsio.HDU, name string) error {
	if len(w.hdus) == 0 {
		if err := w.SetPrimary(nil); err != nil {
			return err
		}
	}
	renamed, err := Rename(hdu, name)
	if err != nil {
		return err
	}
	w.add(renamed)
	return nil
}

// AppendMap adds a HEALPix map extension.
func (w *Writer) AppendMap(name string, m *hpx.Map, template fitsio.HDU) error {
	if len(w.hdus) == 0 {
		if err := w.SetPrimary(nil); err != nil {
			return err
		}
	}
	img, err := NewMapHDU(name, m, template)
	if err != nil {
		return err
	}
	w.add(img)
	return nil
}

func (w *Writer) add(hdu fitsio.HDU) {
	w.hdus = append(w.hdus, hdu)
	if name := hdu.Name(); name != "" {
		w.names[strings.ToUpper(name)] = true
	}
}

// Flush writes every held HDU to a temporary file and renames it over the
// output path.
func (w *Writer) Flush() error {
	if len(w.hdus) == 0 {
		if err := w.SetPrimary(nil); err != nil {
			return err
		}
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fitsfile: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("fitsfile: create temp for %s: %w", w.path, err)
	}
	defer os.Remove(tmp.Name())
	if err := encode(tmp, w.hdus); err != nil {
		tmp.Close()
		return fmt.Errorf("fitsfile: write %s: %w", w.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fitsfile: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("fitsfile: rename to %s: %w", w.path, err)
	}
	return nil
}

// Close releases the readers kept by the writer. It does not flush.
func (w *Writer) Close() error {
	var first error
	for _, r := range w.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.readers = nil
	return first
}

func encode(out io.Writer, hdus []fitsio.HDU) error {
	f, err := fitsio.Create(out)
	if err != nil {
		return err
	}
	for _, hdu := range hdus {
		if err := f.Write(hdu); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", hdu.Name(), err)
		}
	}
	return f.Close()
}

// CopyFile copies src (or src.gz, decompressed) to dst.
func CopyFile(src, dst string) error {
	resolved, err := Resolve(src)
	if err != nil {
		return err
	}
	in, err := os.Open(resolved)
	if err != nil {
		return fmt.Errorf("fitsfile: open %s: %w", resolved, err)
	}
	defer in.Close()
	var r io.Reader = in
	if strings.HasSuffix(resolved, GzipExt) {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("fitsfile: gunzip %s: %w", resolved, err)
		}
		defer gz.Close()
		r = gz
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fitsfile: create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fitsfile: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("fitsfile: copy %s: %w", resolved, err)
	}
	return out.Close()
}
