package hpx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(order, planes int) *Map {
	m := New(order, Nested, planes)
	for p := range m.Data {
		for i := range m.Data[p] {
			m.Data[p][i] = float64((i%7)+p) + 0.5
		}
	}
	return m
}

func TestNPixAndNSide(t *testing.T) {
	assert.Equal(t, 12, NPix(0))
	assert.Equal(t, 49152, NPix(6))
	assert.Equal(t, 64, NSide(6))
	order, err := OrderForNSide(256)
	require.NoError(t, err)
	assert.Equal(t, 8, order)
	_, err = OrderForNSide(100)
	assert.Error(t, err)
}

func TestDowngradePreservesCounts(t *testing.T) {
	m := filled(6, 3)
	out, err := m.Regrade(4, true)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Order)
	assert.Len(t, out.Data[0], NPix(4))
	assert.InDelta(t, m.Total(), out.Total(), 1e-6)

	var children float64
	for i := 0; i < 16; i++ {
		children += m.Data[1][i]
	}
	assert.InDelta(t, children, out.Data[1][0], 1e-9)
}

func TestDowngradeIntensityAverages(t *testing.T) {
	m := New(1, Nested, 1)
	for i := range m.Data[0] {
		m.Data[0][i] = 2
	}
	out, err := m.Regrade(0, false)
	require.NoError(t, err)
	for _, v := range out.Data[0] {
		assert.Equal(t, 2.0, v)
	}
}

func TestUpgradeSplitsCounts(t *testing.T) {
	m := filled(2, 2)
	out, err := m.Regrade(3, true)
	require.NoError(t, err)
	assert.InDelta(t, m.Total(), out.Total(), 1e-9)
	assert.Equal(t, m.Data[0][5]/4, out.Data[0][5*4+3])

	rep, err := m.Regrade(3, false)
	require.NoError(t, err)
	assert.Equal(t, m.Data[0][5], rep.Data[0][5*4+3])
}

func TestRegradeRejectsRing(t *testing.T) {
	m := New(2, Ring, 1)
	_, err := m.Regrade(1, true)
	assert.ErrorIs(t, err, ErrUnsupportedOrdering)
}

func TestValidateRejectsShortPlane(t *testing.T) {
	m := &Map{Order: 1, Ordering: Nested, Data: [][]float64{make([]float64, 10)}}
	assert.Error(t, m.Validate())
}

func TestParseOrdering(t *testing.T) {
	o, err := ParseOrdering(" nest ")
	require.NoError(t, err)
	assert.Equal(t, Nested, o)
	_, err = ParseOrdering("SPIRAL")
	assert.Error(t, err)
}
