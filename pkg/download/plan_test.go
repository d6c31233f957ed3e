package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tc := []struct {
		name     string
		total    int64
		parts    int
		expected []Range
	}{
		{"single part", 10, 1, []Range{{0, 9}}},
		{"even split", 100, 4, []Range{{0, 24}, {25, 49}, {50, 74}, {75, 99}}},
		{"last absorbs remainder", 10, 3, []Range{{0, 2}, {3, 5}, {6, 9}}},
		{"one byte per part", 3, 3, []Range{{0, 0}, {1, 1}, {2, 2}}},
	}
	for _, tc := range tc {
		t.Run(tc.name, func(t *testing.T) {
			ranges, err := Plan(tc.total, tc.parts)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ranges)
		})
	}
}

func TestPlanCoversTotalWithoutOverlap(t *testing.T) {
	for _, total := range []int64{1, 7, 1000, 1_000_000, 50_000_000, 50_000_001} {
		for _, parts := range []int{1, 2, 3, 7, 8, 16} {
			if int64(parts) > total {
				continue
			}
			ranges, err := Plan(total, parts)
			require.NoError(t, err)
			require.Len(t, ranges, parts)

			var next, sum int64
			for _, r := range ranges {
				assert.Equal(t, next, r.Start, "ranges must be contiguous")
				assert.GreaterOrEqual(t, r.End, r.Start)
				next = r.End + 1
				sum += r.Len()
			}
			assert.Equal(t, total, sum)
			assert.Equal(t, total-1, ranges[len(ranges)-1].End)
		}
	}
}

func TestPlanInvalid(t *testing.T) {
	tc := []struct {
		name  string
		total int64
		parts int
	}{
		{"zero total", 0, 4},
		{"negative total", -1, 4},
		{"zero parts", 100, 0},
		{"negative parts", 100, -2},
		{"more parts than bytes", 3, 4},
	}
	for _, tc := range tc {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.total, tc.parts)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-99", Range{Start: 0, End: 99}.Header())
	assert.EqualValues(t, 100, Range{Start: 0, End: 99}.Len())
}
