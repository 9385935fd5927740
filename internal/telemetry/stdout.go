package telemetry

import (
	"github.com/rjboer/GoTRX/internal/logging"
)

// Reporter captures per-block telemetry.
type Reporter interface {
	Report(b BlockStats)
}

// StdoutReporter logs blocks through the structured logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter on the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger.With(logging.F("subsystem", "telemetry"))}
}

func (r StdoutReporter) Report(b BlockStats) {
	fields := []logging.Field{
		logging.F("timestamp", b.Timestamp),
		logging.F("samples", b.Samples),
	}
	if b.Samples > 0 {
		fields = append(fields,
			logging.F("peak_bin", b.PeakBin),
			logging.F("peak_hz", b.PeakHz),
			logging.F("peak_dbfs", b.PeakDBFS),
			logging.F("rms_dbfs", b.RMSDBFS),
		)
	}
	if b.WriteError != "" {
		fields = append(fields, logging.F("write_error", b.WriteError))
	}
	if b.Short() {
		r.logger.Warn("short rx block", append(fields, logging.F("requested", b.Requested))...)
		return
	}
	r.logger.Info("rx block", fields...)
}
