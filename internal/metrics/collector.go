package metrics

import "time"

// Collector defines the interface for collecting sync-core metrics.
type Collector interface {
	RecordConnectAttempt(success bool, duration time.Duration)
	RecordReconnect(attempt int)
	RecordActionSent()
	RecordRoundTrip(duration time.Duration)
	RecordSnapshotApplied(blendRestarted bool)
	RecordCorrelationEvicted(count int)
}

// NoOpCollector is a no-op implementation for when metrics aren't needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordConnectAttempt(success bool, duration time.Duration) {}
func (NoOpCollector) RecordReconnect(attempt int)                               {}
func (NoOpCollector) RecordActionSent()                                         {}
func (NoOpCollector) RecordRoundTrip(duration time.Duration)                    {}
func (NoOpCollector) RecordSnapshotApplied(blendRestarted bool)                 {}
func (NoOpCollector) RecordCorrelationEvicted(count int)                        {}
