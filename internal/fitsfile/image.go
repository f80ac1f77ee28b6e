package fitsfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/kingrea/gtpipe/internal/hpx"
)

// Header keywords of a HEALPix image extension.
const (
	KeyOrder    = "ORDER"
	KeyNSide    = "NSIDE"
	KeyOrdering = "ORDERING"
	KeyPixType  = "PIXTYPE"
	KeyExtName  = "EXTNAME"
	KeyFirstPix = "FIRSTPIX"
	KeyLastPix  = "LASTPIX"
	KeyIndxSchm = "INDXSCHM"
	pixTypeHPX  = "HEALPIX"
)

// structural keywords are written by the encoder itself.
var structural = map[string]bool{
	"SIMPLE": true, "XTENSION": true, "BITPIX": true, "NAXIS": true,
	"EXTEND": true, "PCOUNT": true, "GCOUNT": true, "END": true,
	"COMMENT": true, "HISTORY": true, "": true,
}

func isStructural(name string) bool {
	if structural[name] {
		return true
	}
	if strings.HasPrefix(name, "NAXIS") {
		_, err := strconv.Atoi(strings.TrimPrefix(name, "NAXIS"))
		return err == nil
	}
	return false
}

// HeaderInt reads an integer keyword.
func HeaderInt(hdr *fitsio.Header, key string) (int, error) {
	card := hdr.Get(key)
	if card == nil {
		return 0, fmt.Errorf("fitsfile: header has no %s", key)
	}
	switch v := card.Value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("fitsfile: %s=%q is not an integer", key, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("fitsfile: %s has unsupported type %T", key, card.Value)
}

// HeaderString reads a string keyword.
func HeaderString(hdr *fitsio.Header, key string) (string, bool) {
	card := hdr.Get(key)
	if card == nil {
		return "", false
	}
	s, ok := card.Value.(string)
	return strings.TrimSpace(s), ok
}

// Order returns the HEALPix order of an HDU from ORDER, or from NSIDE when
// ORDER is absent.
func Order(hdu fitsio.HDU) (int, error) {
	hdr := hdu.Header()
	if order, err := HeaderInt(hdr, KeyOrder); err == nil {
		return order, nil
	}
	nside, err := HeaderInt(hdr, KeyNSide)
	if err != nil {
		return 0, fmt.Errorf("fitsfile: %s has neither ORDER nor NSIDE", hdu.Name())
	}
	return hpx.OrderForNSide(nside)
}

// ReadMap decodes a HEALPix image extension laid out as [npix, planes].
func ReadMap(hdu fitsio.HDU) (*hpx.Map, error) {
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("fitsfile: %s is not an image", hdu.Name())
	}
	order, err := Order(hdu)
	if err != nil {
		return nil, err
	}
	ordering := hpx.Nested
	if raw, ok := HeaderString(hdu.Header(), KeyOrdering); ok {
		if ordering, err = hpx.ParseOrdering(raw); err != nil {
			return nil, err
		}
	}
	axes := hdu.Header().Axes()
	if len(axes) == 0 || len(axes) > 2 {
		return nil, fmt.Errorf("fitsfile: %s has %d axes, want 1 or 2", hdu.Name(), len(axes))
	}
	npix, planes := axes[0], 1
	if len(axes) == 2 {
		planes = axes[1]
	}
	if npix != hpx.NPix(order) {
		return nil, fmt.Errorf("fitsfile: %s has %d pixels, order %d needs %d", hdu.Name(), npix, order, hpx.NPix(order))
	}
	values, err := readFloats(img)
	if err != nil {
		return nil, fmt.Errorf("fitsfile: read %s: %w", hdu.Name(), err)
	}
	if len(values) != npix*planes {
		return nil, fmt.Errorf("fitsfile: %s holds %d values, want %d", hdu.Name(), len(values), npix*planes)
	}
	m := &hpx.Map{Order: order, Ordering: ordering, Data: make([][]float64, planes)}
	for p := 0; p < planes; p++ {
		m.Data[p] = values[p*npix : (p+1)*npix : (p+1)*npix]
	}
	return m, nil
}

// scaling keywords describe the template's stored pixel encoding, not the
// float32 data written here.
var scaling = map[string]bool{"BSCALE": true, "BZERO": true, "BLANK": true}

// NewMapHDU encodes m as a float32 image extension named name. Keywords of
// template (if any) are carried over, except the HEALPix geometry which is
// rewritten for m and the pixel scaling keywords which are dropped.
func NewMapHDU(name string, m *hpx.Map, template fitsio.HDU) (fitsio.Image, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Planes() == 0 {
		return nil, fmt.Errorf("fitsfile: map %s has no planes", name)
	}
	npix := hpx.NPix(m.Order)
	axes := []int{npix}
	if m.Planes() > 1 {
		axes = append(axes, m.Planes())
	}
	img := fitsio.NewImage(-32, axes)
	override := map[string]any{
		KeyExtName:  name,
		KeyPixType:  pixTypeHPX,
		KeyOrdering: string(m.Ordering),
		KeyOrder:    m.Order,
		KeyNSide:    hpx.NSide(m.Order),
		KeyFirstPix: 0,
		KeyLastPix:  npix - 1,
		KeyIndxSchm: "IMPLICIT",
	}
	cards := []fitsio.Card{}
	if template != nil {
		for _, card := range copyableCards(template.Header()) {
			if _, replaced := override[card.Name]; replaced || scaling[card.Name] {
				continue
			}
			cards = append(cards, card)
		}
	}
	for _, key := range []string{KeyExtName, KeyPixType, KeyOrdering, KeyOrder, KeyNSide, KeyFirstPix, KeyLastPix, KeyIndxSchm} {
		cards = append(cards, fitsio.Card{Name: key, Value: override[key]})
	}
	if err := img.Header().Append(cards...); err != nil {
		return nil, fmt.Errorf("fitsfile: header for %s: %w", name, err)
	}
	data := make([]float32, 0, npix*m.Planes())
	for _, plane := range m.Data {
		for _, v := range plane {
			data = append(data, float32(v))
		}
	}
	if err := img.Write(&data); err != nil {
		return nil, fmt.Errorf("fitsfile: write %s: %w", name, err)
	}
	return img, nil
}

// Clone copies an image HDU (header and data) into a new, independent HDU.
// The first HDU of a file is cloned as a primary HDU.
func Clone(hdu fitsio.HDU, primary bool) (fitsio.HDU, error) {
	return cloneImage(hdu, primary, "")
}

// Rename returns a clone of an image extension carrying EXTNAME name.
func Rename(hdu fitsio.HDU, name string) (fitsio.HDU, error) {
	return cloneImage(hdu, false, name)
}

func cloneImage(hdu fitsio.HDU, primary bool, extname string) (fitsio.HDU, error) {
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("fitsfile: %s is not an image", hdu.Name())
	}
	hdr := hdu.Header()
	cards := copyableCards(hdr)
	if extname != "" {
		renamed := false
		for i := range cards {
			if cards[i].Name == KeyExtName {
				cards[i].Value = extname
				renamed = true
			}
		}
		if !renamed {
			cards = append(cards, fitsio.Card{Name: KeyExtName, Value: extname})
		}
	}
	var out fitsio.Image
	if primary {
		p, err := fitsio.NewPrimaryHDU(fitsio.NewHeader(cards, fitsio.IMAGE_HDU, hdr.Bitpix(), hdr.Axes()))
		if err != nil {
			return nil, fmt.Errorf("fitsfile: primary header: %w", err)
		}
		out = p
	} else {
		out = fitsio.NewImage(hdr.Bitpix(), hdr.Axes())
		if err := out.Header().Append(cards...); err != nil {
			return nil, fmt.Errorf("fitsfile: header for %s: %w", hdu.Name(), err)
		}
	}
	if len(hdr.Axes()) == 0 {
		return out, nil
	}
	if err := copyPixels(img, out, hdr.Bitpix()); err != nil {
		return nil, fmt.Errorf("fitsfile: copy %s: %w", hdu.Name(), err)
	}
	return out, nil
}

func copyableCards(hdr *fitsio.Header) []fitsio.Card {
	var cards []fitsio.Card
	for _, key := range hdr.Keys() {
		if isStructural(key) {
			continue
		}
		if card := hdr.Get(key); card != nil {
			cards = append(cards, *card)
		}
	}
	return cards
}

func readFloats(img fitsio.Image) ([]float64, error) {
	switch img.Header().Bitpix() {
	case 8:
		return readWidened[uint8](img)
	case 16:
		return readWidened[int16](img)
	case 32:
		return readWidened[int32](img)
	case 64:
		return readWidened[int64](img)
	case -32:
		return readWidened[float32](img)
	case -64:
		return readPixels[float64](img)
	}
	return nil, fmt.Errorf("unsupported BITPIX %d", img.Header().Bitpix())
}

func copyPixels(src, dst fitsio.Image, bitpix int) error {
	switch bitpix {
	case 8:
		return copyAs[uint8](src, dst)
	case 16:
		return copyAs[int16](src, dst)
	case 32:
		return copyAs[int32](src, dst)
	case 64:
		return copyAs[int64](src, dst)
	case -32:
		return copyAs[float32](src, dst)
	case -64:
		return copyAs[float64](src, dst)
	}
	return fmt.Errorf("unsupported BITPIX %d", bitpix)
}

// pixelCount is the product of the image axes (0 without axes).
func pixelCount(hdr *fitsio.Header) int {
	axes := hdr.Axes()
	if len(axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range axes {
		n *= a
	}
	return n
}

// readPixels reads the whole image. Image.Read only resizes within the
// capacity it is given, so the buffer is allocated up front.
func readPixels[T any](img fitsio.Image) ([]T, error) {
	raw := make([]T, pixelCount(img.Header()))
	if err := img.Read(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func readWidened[T number](img fitsio.Image) ([]float64, error) {
	raw, err := readPixels[T](img)
	if err != nil {
		return nil, err
	}
	return widen(raw), nil
}

func copyAs[T any](src, dst fitsio.Image) error {
	raw, err := readPixels[T](src)
	if err != nil {
		return err
	}
	return dst.Write(&raw)
}

type number interface {
	~uint8 | ~int16 | ~int32 | ~int64 | ~float32
}

func widen[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
