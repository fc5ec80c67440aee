package refresh

import (
	"time"

	"github.com/google/uuid"
)

// Request is one batch over the grid Lats × Lons.
type Request struct {
	Lats        []float64
	Lons        []float64
	Start       time.Time
	End         time.Time
	ForceUpdate bool

	// RequestID is the caller's id for the request, echoed in the report.
	RequestID string
}

// Cells returns the number of grid cells in the request.
func (r Request) Cells() int {
	return len(r.Lats) * len(r.Lons)
}

// Cell identifies one grid point by its position in grid order (lats outer,
// lons inner).
type Cell struct {
	Index int     `json:"index"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Error string  `json:"error,omitempty"`
}

// Report summarises a batch run. Counters only describe committed work: a
// failed batch commits nothing, whatever the counters reached.
type Report struct {
	BatchID    uuid.UUID `json:"batch_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Cells      int       `json:"cells"`
	Skipped    int       `json:"skipped"`
	Fetched    int       `json:"fetched"`
	Rows       int64     `json:"rows"`
	Committed  bool      `json:"committed"`
	Failed     *Cell     `json:"failed,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the batch committed.
func (r *Report) Succeeded() bool {
	return r != nil && r.Committed
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
