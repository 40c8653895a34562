package export

import (
	"bufio"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/internal/acquisition"
	"github.com/benchsync/benchsync/internal/ringbuf"
)

func sampleSnapshot() acquisition.ExportSnapshot {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return acquisition.ExportSnapshot{
		AcquisitionID: "acq-1234",
		EquipmentID:   "scope-01",
		Format:        "jsonl",
		Channels:      []string{"CH1", "CH2"},
		Window: ringbuf.Window{
			Values: [][]float64{
				{1.0, 2.0, 3.0},
				{0.5, math.NaN(), 1.5},
			},
			Timestamps: []time.Time{
				base,
				base.Add(10 * time.Millisecond),
				base.Add(20 * time.Millisecond),
			},
		},
		Stats: acquisition.Stats{TotalSamples: 3},
	}
}

func TestExportWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewJSONLines(dir)
	require.NoError(t, err)

	snap := sampleSnapshot()
	require.NoError(t, exporter.Export(context.Background(), snap))

	f, err := os.Open(filepath.Join(dir, "acq-1234.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var head header
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &head))
	require.Equal(t, "acq-1234", head.AcquisitionID)
	require.Equal(t, []string{"CH1", "CH2"}, head.Channels)
	require.Equal(t, 3, head.Samples)
	require.Equal(t, uint64(3), head.Stats.TotalSamples)

	var rows []record
	for scanner.Scan() {
		var row record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, rows, 3)

	require.NotNil(t, rows[0].Values["CH1"])
	require.InDelta(t, 1.0, *rows[0].Values["CH1"], 1e-9)
	require.InDelta(t, 0.5, *rows[0].Values["CH2"], 1e-9)

	// The failed CH2 read in the second sample round-trips as null.
	require.Nil(t, rows[1].Values["CH2"])
	require.NotNil(t, rows[1].Values["CH1"])

	require.True(t, rows[1].Timestamp.After(rows[0].Timestamp))
}

func TestExportHonorsPerSessionPathOverride(t *testing.T) {
	root := t.TempDir()
	exporter, err := NewJSONLines(root)
	require.NoError(t, err)

	snap := sampleSnapshot()
	snap.Path = filepath.Join(root, "override", "nested")
	require.NoError(t, exporter.Export(context.Background(), snap))

	_, err = os.Stat(filepath.Join(snap.Path, "acq-1234.jsonl"))
	require.NoError(t, err)
}

func TestExportLeavesNoPartialFileOnCancel(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewJSONLines(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, exporter.Export(ctx, sampleSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestNewJSONLinesRequiresDirectory(t *testing.T) {
	_, err := NewJSONLines("   ")
	require.Error(t, err)
}
