package metrics

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	gometrics "github.com/rcrowley/go-metrics"
)

// Reporter writes a JSON snapshot of a go-metrics registry to the log every
// tick, plus a final one when its context ends.
type Reporter struct {
	reg    gometrics.Registry
	tick   time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewReporter(reg gometrics.Registry, tick time.Duration, clock clockwork.Clock, logger *slog.Logger) *Reporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{reg: reg, tick: tick, clock: clock, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	if r.reg == nil || r.tick <= 0 {
		return
	}

	ticker := r.clock.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.WriteOnce()
			return
		case <-ticker.Chan():
			r.WriteOnce()
		}
	}
}

// WriteOnce logs the current snapshot.
func (r *Reporter) WriteOnce() {
	var buf bytes.Buffer
	gometrics.WriteJSONOnce(r.reg, &buf)
	r.logger.Info("metrics report", "metrics", string(bytes.TrimSpace(buf.Bytes())))
}
