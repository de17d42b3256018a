package recstore

import (
	"github.com/KevoDB/recstore/pkg/common/log"
	"github.com/KevoDB/recstore/pkg/stats"
	"github.com/KevoDB/recstore/pkg/telemetry"
)

type options struct {
	logger    log.Logger
	telemetry telemetry.Telemetry
	stats     stats.Collector
}

// Option configures a RecordStore
type Option func(*options)

// WithLogger sets the store logger. The default discards everything.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry routes store metrics and spans to tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = tel
	}
}

// WithStats sets the collector behind Stats(). A store creates its own
// collector when none is given.
func WithStats(collector stats.Collector) Option {
	return func(o *options) {
		o.stats = collector
	}
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.NewNopLogger()
	}
	if o.telemetry == nil {
		o.telemetry = telemetry.NewNoop()
	}
	if o.stats == nil {
		o.stats = stats.NewAtomicCollector()
	}
	return o
}
