package fitsfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/gtpipe/internal/hpx"
)

func testMap(order, planes int) *hpx.Map {
	m := hpx.New(order, hpx.Nested, planes)
	for p := range m.Data {
		for i := range m.Data[p] {
			m.Data[p][i] = float64(p*1000 + i)
		}
	}
	return m
}

func writeMapFile(t *testing.T, path string, names ...string) {
	t.Helper()
	w := NewWriter(path)
	for _, name := range names {
		require.NoError(t, w.AppendMap(name, testMap(1, 2), nil))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
}

func gzipFile(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out, err := os.Create(path + GzipExt)
	require.NoError(t, err)
	gz := gzip.NewWriter(out)
	_, err = gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())
	require.NoError(t, os.Remove(path))
}

func TestMapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srcmap.fits")
	writeMapFile(t, path, "GALDIFF", "SRC_A")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 3, r.Len())

	hdu, ok := r.Lookup("SRC_A")
	require.True(t, ok)
	order, err := Order(hdu)
	require.NoError(t, err)
	assert.Equal(t, 1, order)

	m, err := ReadMap(hdu)
	require.NoError(t, err)
	assert.Equal(t, hpx.Nested, m.Ordering)
	require.Equal(t, 2, m.Planes())
	assert.Equal(t, testMap(1, 2).Data, m.Data)

	_, ok = r.Lookup("MISSING")
	assert.False(t, ok)
}

func TestOpenFallsBackToGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccube.fits")
	writeMapFile(t, path, "SKYMAP")
	gzipFile(t, path)

	resolved, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, path+GzipExt, resolved)

	r, err := Open(path)
	require.NoError(t, err)
	_, ok := r.Lookup("SKYMAP")
	assert.True(t, ok)
	require.NoError(t, r.Close())

	copied := filepath.Join(dir, "out", "ccube_00.fits")
	require.NoError(t, CopyFile(path, copied))
	r, err = Open(copied)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, copied, r.Path())
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.fits"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpenWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srcmap.fits")
	writeMapFile(t, path, "SRC_A")

	w, err := OpenWriter(path)
	require.NoError(t, err)
	assert.True(t, w.Has("src_a"))
	src, err := Open(path)
	require.NoError(t, err)
	hdu, ok := src.Lookup("SRC_A")
	require.True(t, ok)
	require.NoError(t, w.AppendAs(hdu, "SRC_B"))
	require.NoError(t, src.Close())
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 3, r.Len())
	hdu, ok = r.Lookup("SRC_B")
	require.True(t, ok)
	m, err := ReadMap(hdu)
	require.NoError(t, err)
	assert.Equal(t, testMap(1, 2).Data, m.Data)
}

func TestNewMapHDURejectsInvalidMap(t *testing.T) {
	_, err := NewMapHDU("X", &hpx.Map{Order: 1, Ordering: hpx.Nested}, nil)
	assert.Error(t, err)
}

func TestIntegerImageReadAndCopy(t *testing.T) {
	npix := hpx.NPix(1)
	img := fitsio.NewImage(16, []int{npix, 2})
	require.NoError(t, img.Header().Append(
		fitsio.Card{Name: KeyExtName, Value: "COUNTS"},
		fitsio.Card{Name: KeyOrder, Value: 1},
		fitsio.Card{Name: KeyOrdering, Value: "NESTED"},
	))
	data := make([]int16, 2*npix)
	for i := range data {
		data[i] = int16(i)
	}
	require.NoError(t, img.Write(&data))

	path := filepath.Join(t.TempDir(), "counts.fits")
	w := NewWriter(path)
	require.NoError(t, w.Append(img))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// Reopen so the pixels come back from disk and are cloned again.
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	hdu, ok := r.Lookup("COUNTS")
	require.True(t, ok)
	assert.Equal(t, 16, hdu.Header().Bitpix())
	m, err := ReadMap(hdu)
	require.NoError(t, err)
	require.Equal(t, 2, m.Planes())
	assert.Equal(t, 0.0, m.Data[0][0])
	assert.Equal(t, float64(npix-1), m.Data[0][npix-1])
	assert.Equal(t, float64(2*npix-1), m.Data[1][npix-1])
}

func TestNewMapHDUDropsTemplateScaling(t *testing.T) {
	template := fitsio.NewImage(16, []int{hpx.NPix(1)})
	require.NoError(t, template.Header().Append(
		fitsio.Card{Name: "BSCALE", Value: 2.0},
		fitsio.Card{Name: "BZERO", Value: 32768.0},
		fitsio.Card{Name: "BLANK", Value: -1},
		fitsio.Card{Name: "TELESCOP", Value: "GLAST"},
		fitsio.Card{Name: KeyOrder, Value: 3},
	))

	img, err := NewMapHDU("SRC_A", testMap(1, 1), template)
	require.NoError(t, err)
	hdr := img.Header()
	assert.Nil(t, hdr.Get("BSCALE"))
	assert.Nil(t, hdr.Get("BZERO"))
	assert.Nil(t, hdr.Get("BLANK"))
	telescop, ok := HeaderString(hdr, "TELESCOP")
	assert.True(t, ok)
	assert.Equal(t, "GLAST", telescop)
	order, err := HeaderInt(hdr, KeyOrder)
	require.NoError(t, err)
	assert.Equal(t, 1, order)
}
