package analytics

import "errors"

var (
	// ErrInsufficientData is returned when a comparison group has fewer
	// sessions than the configured minimum. No comparison report is written.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnknownMetric is returned for a comparison metric name that is not registered.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrNoEvents is returned when the source yields no task results at all.
	ErrNoEvents = errors.New("no task results")

	// ErrExport is returned when the export endpoint refuses a page.
	ErrExport = errors.New("export failed")
)
