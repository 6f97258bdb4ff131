package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenRaggedPreservesOrderAndOffsets(t *testing.T) {
	rows := [][]float64{{1, 2, 3}, {}, {4}}
	flat, offsets := flattenRagged(rows)

	assert.Equal(t, []float64{1, 2, 3, 4}, flat)
	require.Len(t, offsets, 3)
	assert.Equal(t, uint64(0), offsets[0])
	assert.Equal(t, uint64(3*8), offsets[1])
	assert.Equal(t, uint64(3*8), offsets[2])
}

func TestTiledbDatatypeKnownAndUnknown(t *testing.T) {
	for _, dt := range []string{"int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64", "float32", "float64"} {
		_, err := tiledbDatatype(dt)
		assert.NoError(t, err, "dtype %s should be supported", dt)
	}

	_, err := tiledbDatatype("not-a-type")
	assert.ErrorIs(t, err, ErrSchema)
}

func TestColumnIsVar(t *testing.T) {
	scalar := Column{Values: []float64{1, 2, 3}}
	assert.False(t, scalar.isVar())

	ragged := Column{Var: [][]float64{{1}, {2, 3}}}
	assert.True(t, ragged.isVar())
}

func TestScalarBufferRoutesByDtype(t *testing.T) {
	buf, err := scalarBuffer(CountDtype, []float64{3, 7, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7, 1}, buf)

	buf, err = scalarBuffer("float32", []float64{1.5, 2.5})
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2.5}, buf)

	buf, err = scalarBuffer("float64", []float64{1.5, 2.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, buf)

	_, err = scalarBuffer("not-a-type", []float64{1})
	assert.ErrorIs(t, err, ErrSchema)
}
