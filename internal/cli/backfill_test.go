package cli

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEachChunk_SplitsRange(t *testing.T) {
	var got [][]uint64
	err := eachChunk(10, 16, 3, func(heights []uint64) error {
		got = append(got, heights)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{10, 11, 12}, {13, 14, 15}, {16}}, got)
}

func TestEachChunk_SingleHeight(t *testing.T) {
	calls := 0
	require.NoError(t, eachChunk(7, 7, 100, func(heights []uint64) error {
		calls++
		assert.Equal(t, []uint64{7}, heights)
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestEachChunk_EndsAtMaxHeight(t *testing.T) {
	var got [][]uint64
	err := eachChunk(math.MaxUint64-4, math.MaxUint64, 2, func(heights []uint64) error {
		got = append(got, heights)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{math.MaxUint64}, got[2])
}

func TestEachChunk_StopsOnError(t *testing.T) {
	calls := 0
	err := eachChunk(1, 100, 10, func(heights []uint64) error {
		calls++
		return errors.New("store unavailable")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
