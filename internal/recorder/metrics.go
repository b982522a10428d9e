package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_recorder_rows_written_total",
		Help: "Quote rows appended to daily CSV files by venue",
	}, []string{"venue"})

	RowsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_recorder_rows_failed_total",
		Help: "Quote rows that could not be written",
	})
)
