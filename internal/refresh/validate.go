package refresh

import (
	"fmt"
	"time"

	"github.com/smukkama/climate-cache/internal/climate"
)

// Validate rejects a request that Run would refuse, without doing any I/O.
func (o *Orchestrator) Validate(req Request) error {
	if len(req.Lats) == 0 || len(req.Lons) == 0 {
		return fmt.Errorf("%w: empty grid (%d lats, %d lons)", climate.ErrValidation, len(req.Lats), len(req.Lons))
	}
	if cells := req.Cells(); cells > o.cfg.MaxCells {
		return fmt.Errorf("%w: %d cells exceeds the limit of %d", climate.ErrValidation, cells, o.cfg.MaxCells)
	}
	for _, lat := range req.Lats {
		if err := climate.ValidateCoordinates(lat, 0); err != nil {
			return err
		}
	}
	for _, lon := range req.Lons {
		if err := climate.ValidateCoordinates(0, lon); err != nil {
			return err
		}
	}
	return o.validateDates(req.Start, req.End)
}

func (o *Orchestrator) validateDates(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", climate.ErrValidation)
	}
	if start.After(end) {
		return fmt.Errorf("%w: start date %s is after end date %s", climate.ErrValidation,
			start.Format(climate.DateLayout), end.Format(climate.DateLayout))
	}
	if start.Before(o.cfg.MinDate) || end.After(o.cfg.MaxDate) {
		return fmt.Errorf("%w: dates must fall within %s and %s", climate.ErrValidation,
			o.cfg.MinDate.Format(climate.DateLayout), o.cfg.MaxDate.Format(climate.DateLayout))
	}
	return nil
}
