// Package hpx holds all-sky HEALPix maps with one plane per energy bin and
// re-grades them between resolutions in NESTED ordering.
package hpx

import (
	"errors"
	"fmt"
	"strings"
)

// Ordering is the HEALPix pixel numbering scheme.
type Ordering string

const (
	Nested Ordering = "NESTED"
	Ring   Ordering = "RING"
)

// MaxOrder is the deepest supported resolution.
const MaxOrder = 29

// ErrUnsupportedOrdering is returned when re-grading a RING map.
var ErrUnsupportedOrdering = errors.New("hpx: re-grading requires NESTED ordering")

// ParseOrdering normalizes an ORDERING header value.
func ParseOrdering(raw string) (Ordering, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NESTED", "NEST":
		return Nested, nil
	case "RING":
		return Ring, nil
	}
	return "", fmt.Errorf("hpx: unknown ordering %q", raw)
}

// NSide returns the resolution parameter for order.
func NSide(order int) int {
	return 1 << order
}

// NPix returns the number of pixels of an all-sky map at order.
func NPix(order int) int {
	return 12 << (2 * order)
}

// OrderForNSide returns the order of nside, or an error when nside is not a
// power of two.
func OrderForNSide(nside int) (int, error) {
	for order := 0; order <= MaxOrder; order++ {
		if NSide(order) == nside {
			return order, nil
		}
	}
	return 0, fmt.Errorf("hpx: nside %d is not a power of two", nside)
}

// Map is an all-sky HEALPix cube: Data[plane][pixel].
type Map struct {
	Order    int
	Ordering Ordering
	Data     [][]float64
}

// New allocates a zero map with the given number of planes.
func New(order int, ordering Ordering, planes int) *Map {
	data := make([][]float64, planes)
	for i := range data {
		data[i] = make([]float64, NPix(order))
	}
	return &Map{Order: order, Ordering: ordering, Data: data}
}

// Validate checks the order and every plane length.
func (m *Map) Validate() error {
	if m.Order < 0 || m.Order > MaxOrder {
		return fmt.Errorf("hpx: order %d out of range", m.Order)
	}
	want := NPix(m.Order)
	for i, plane := range m.Data {
		if len(plane) != want {
			return fmt.Errorf("hpx: plane %d has %d pixels, want %d", i, len(plane), want)
		}
	}
	return nil
}

// Planes returns the number of energy planes.
func (m *Map) Planes() int {
	return len(m.Data)
}

// Total sums every pixel of every plane.
func (m *Map) Total() float64 {
	var sum float64
	for _, plane := range m.Data {
		for _, v := range plane {
			sum += v
		}
	}
	return sum
}

// Regrade returns a copy of m at order. With preserveCounts the map total is
// unchanged (children are summed on down-grade and split on up-grade);
// otherwise values are treated as intensities (averaged or replicated).
func (m *Map) Regrade(order int, preserveCounts bool) (*Map, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if order < 0 || order > MaxOrder {
		return nil, fmt.Errorf("hpx: target order %d out of range", order)
	}
	if m.Ordering != Nested {
		return nil, ErrUnsupportedOrdering
	}
	out := New(order, m.Ordering, m.Planes())
	switch {
	case order == m.Order:
		for i, plane := range m.Data {
			copy(out.Data[i], plane)
		}
	case order < m.Order:
		shift := uint(2 * (m.Order - order))
		factor := float64(int(1) << shift)
		for i, plane := range m.Data {
			dst := out.Data[i]
			for pix, v := range plane {
				dst[pix>>shift] += v
			}
			if !preserveCounts {
				for pix := range dst {
					dst[pix] /= factor
				}
			}
		}
	default:
		shift := uint(2 * (order - m.Order))
		factor := float64(int(1) << shift)
		for i, plane := range m.Data {
			dst := out.Data[i]
			for pix := range dst {
				v := plane[pix>>shift]
				if preserveCounts {
					v /= factor
				}
				dst[pix] = v
			}
		}
	}
	return out, nil
}
