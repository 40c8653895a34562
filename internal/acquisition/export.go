package acquisition

import (
	"context"

	"github.com/benchsync/benchsync/internal/ringbuf"
)

// ExportSnapshot is the complete, consistent buffer view handed to an
// exporter when a session with an export request stops.
type ExportSnapshot struct {
	AcquisitionID string         `json:"acquisitionId"`
	EquipmentID   string         `json:"equipmentId"`
	Format        string         `json:"format"`
	Path          string         `json:"path,omitempty"`
	Channels      []string       `json:"channels"`
	Window        ringbuf.Window `json:"-"`
	Stats         Stats          `json:"stats"`
}

// Exporter serializes stopped-session buffer snapshots. Format selection and
// on-disk layout are entirely the exporter's concern; the engine only
// guarantees the snapshot is complete at stop time.
type Exporter interface {
	Export(ctx context.Context, snap ExportSnapshot) error
}
