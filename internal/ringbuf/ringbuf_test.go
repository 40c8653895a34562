package ringbuf

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/errs"
)

func at(i int) time.Time {
	return time.Unix(0, int64(i)*int64(time.Millisecond))
}

func TestNewRejectsInvalidDimensions(t *testing.T) {
	_, err := New(0, 1)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	_, err = New(10, 0)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestAddRejectsSizeMismatch(t *testing.T) {
	buf, err := New(4, 2)
	require.NoError(t, err)
	err = buf.Add([]float64{1}, at(0))
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	require.Equal(t, 0, buf.Count())
}

func TestWrapAroundEvictsOldest(t *testing.T) {
	buf, err := New(5, 1)
	require.NoError(t, err)

	for i := 1; i <= 7; i++ {
		require.NoError(t, buf.Add([]float64{float64(i)}, at(i)))
	}

	require.Equal(t, 5, buf.Count())
	require.Equal(t, uint64(2), buf.Overruns())

	window := buf.All()
	require.Equal(t, []float64{3, 4, 5, 6, 7}, window.Values[0])
	require.Len(t, window.Timestamps, 5)
	for i := 1; i < len(window.Timestamps); i++ {
		require.True(t, window.Timestamps[i].After(window.Timestamps[i-1]),
			"timestamps must be strictly increasing")
	}
}

func TestOverrunsCountEveryWriteAfterWrap(t *testing.T) {
	buf, err := New(3, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Add([]float64{0}, at(i)))
	}
	require.Equal(t, uint64(0), buf.Overruns())
	for k := 1; k <= 4; k++ {
		require.NoError(t, buf.Add([]float64{0}, at(3+k)))
		require.Equal(t, uint64(k), buf.Overruns())
	}
}

func TestLatestReturnsExactlyN(t *testing.T) {
	buf, err := New(8, 2)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, buf.Add([]float64{float64(i), float64(-i)}, at(i)))
	}

	window := buf.Latest(3)
	require.Equal(t, []float64{3, 4, 5}, window.Values[0])
	require.Equal(t, []float64{-3, -4, -5}, window.Values[1])
	require.Len(t, window.Timestamps, 3)

	// Requesting more than retained clamps to the retained count.
	window = buf.Latest(100)
	require.Len(t, window.Timestamps, 6)
}

func TestLatestSpansWrapBoundary(t *testing.T) {
	buf, err := New(4, 1)
	require.NoError(t, err)
	for i := 1; i <= 6; i++ {
		require.NoError(t, buf.Add([]float64{float64(i)}, at(i)))
	}
	window := buf.Latest(4)
	require.Equal(t, []float64{3, 4, 5, 6}, window.Values[0])
}

func TestWindowDoesNotAliasStorage(t *testing.T) {
	buf, err := New(4, 1)
	require.NoError(t, err)
	require.NoError(t, buf.Add([]float64{1}, at(1)))
	window := buf.All()
	window.Values[0][0] = 99
	require.Equal(t, []float64{1}, buf.All().Values[0])
}

func TestClearResetsEverythingButCapacity(t *testing.T) {
	buf, err := New(3, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Add([]float64{1}, at(i)))
	}
	buf.Clear()
	require.Equal(t, 0, buf.Count())
	require.Equal(t, uint64(0), buf.Overruns())
	require.Equal(t, 3, buf.Capacity())
	require.Empty(t, buf.All().Timestamps)
}

func TestStatsAggregates(t *testing.T) {
	buf, err := New(10, 2)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Add([]float64{float64(i), 10}, at(i)))
	}

	stats := buf.Stats()
	require.Equal(t, 10, stats.Capacity)
	require.Equal(t, 4, stats.Count)
	require.InDelta(t, 0.4, stats.Utilization, 1e-9)

	ch0 := stats.Channels[0]
	require.Equal(t, 1.0, ch0.Min)
	require.Equal(t, 4.0, ch0.Max)
	require.InDelta(t, 2.5, ch0.Mean, 1e-9)
	require.InDelta(t, math.Sqrt(1.25), ch0.StdDev, 1e-9)
	require.Equal(t, 4, ch0.Count)

	ch1 := stats.Channels[1]
	require.Equal(t, 10.0, ch1.Min)
	require.Equal(t, 10.0, ch1.Max)
	require.Equal(t, 0.0, ch1.StdDev)
}

func TestStatsSkipInvalidSamples(t *testing.T) {
	buf, err := New(5, 1)
	require.NoError(t, err)
	require.NoError(t, buf.Add([]float64{2}, at(1)))
	require.NoError(t, buf.Add([]float64{math.NaN()}, at(2)))
	require.NoError(t, buf.Add([]float64{4}, at(3)))

	stats := buf.Stats()
	require.Equal(t, 3, stats.Count)
	ch := stats.Channels[0]
	require.Equal(t, 2, ch.Count)
	require.Equal(t, 2.0, ch.Min)
	require.Equal(t, 4.0, ch.Max)
	require.InDelta(t, 3.0, ch.Mean, 1e-9)
}

func TestStatsEmptyBuffer(t *testing.T) {
	buf, err := New(5, 2)
	require.NoError(t, err)
	stats := buf.Stats()
	require.Equal(t, 0, stats.Count)
	require.Equal(t, 0.0, stats.Utilization)
	require.Len(t, stats.Channels, 2)
	require.Equal(t, ChannelStats{}, stats.Channels[0])
}
