// Package export serializes stopped-session buffer snapshots for external
// consumers. The engine hands it complete snapshots; format and layout are
// decided here.
package export

import (
	"bufio"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/acquisition"
	"github.com/benchsync/benchsync/internal/observability"
)

const flushEvery = 256

// JSONLines writes one snapshot per file: a header line with identity and
// statistics, then one line per retained sample. Invalid samples (NaN in the
// buffer) are emitted as JSON null.
type JSONLines struct {
	dir string
}

// NewJSONLines constructs an exporter rooted at dir, creating it if needed.
func NewJSONLines(dir string) (*JSONLines, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("export directory required"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New("", errs.CodeUnavailable,
			errs.WithMessage("cannot create export directory"), errs.WithCause(err))
	}
	return &JSONLines{dir: dir}, nil
}

type header struct {
	AcquisitionID string            `json:"acquisitionId"`
	EquipmentID   string            `json:"equipmentId"`
	Channels      []string          `json:"channels"`
	Samples       int               `json:"samples"`
	Stats         acquisition.Stats `json:"stats"`
	ExportedAt    time.Time         `json:"exportedAt"`
}

type record struct {
	Timestamp time.Time           `json:"timestamp"`
	Values    map[string]*float64 `json:"values"`
}

// Export implements acquisition.Exporter.
func (e *JSONLines) Export(ctx context.Context, snap acquisition.ExportSnapshot) error {
	path := e.targetPath(snap)
	tmp := path + ".tmp"

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.New(snap.EquipmentID, errs.CodeUnavailable,
			errs.WithMessage("cannot create export directory"), errs.WithCause(err))
	}
	f, err := os.Create(tmp)
	if err != nil {
		return errs.New(snap.EquipmentID, errs.CodeUnavailable,
			errs.WithMessage("cannot create export file"), errs.WithCause(err))
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	if err := enc.Encode(header{
		AcquisitionID: snap.AcquisitionID,
		EquipmentID:   snap.EquipmentID,
		Channels:      snap.Channels,
		Samples:       len(snap.Window.Timestamps),
		Stats:         snap.Stats,
		ExportedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	for i, ts := range snap.Window.Timestamps {
		if i%flushEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row := record{
			Timestamp: ts,
			Values:    make(map[string]*float64, len(snap.Channels)),
		}
		for ch, name := range snap.Channels {
			v := snap.Window.Values[ch][i]
			if math.IsNaN(v) {
				row.Values[name] = nil
				continue
			}
			value := v
			row.Values[name] = &value
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	observability.Log().Info("exported acquisition",
		observability.F("acquisition_id", snap.AcquisitionID),
		observability.F("path", path),
		observability.F("samples", len(snap.Window.Timestamps)))
	return nil
}

// targetPath resolves the output file. A per-session path override names the
// target directory; otherwise the exporter's root directory is used.
func (e *JSONLines) targetPath(snap acquisition.ExportSnapshot) string {
	dir := e.dir
	if override := strings.TrimSpace(snap.Path); override != "" {
		dir = override
	}
	return filepath.Join(dir, snap.AcquisitionID+".jsonl")
}
