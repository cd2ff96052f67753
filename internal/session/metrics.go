package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribelabs/scribe-core/internal/transcribe"
)

// metrics collects session counters. Every method tolerates a nil receiver
// or failed instrument so telemetry never blocks the pipeline.
type metrics struct {
	meetingsStarted metric.Int64Counter
	segments        metric.Int64Counter
	failures        metric.Int64Counter
	costUSD         metric.Float64Counter
	audioSeconds    metric.Float64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/scribelabs/scribe-core/session")
	m := &metrics{}
	m.meetingsStarted, _ = meter.Int64Counter("scribe.meetings.started",
		metric.WithDescription("Meetings started"))
	m.segments, _ = meter.Int64Counter("scribe.segments.transcribed",
		metric.WithDescription("Chunks transcribed successfully"))
	m.failures, _ = meter.Int64Counter("scribe.segments.failed",
		metric.WithDescription("Chunks that exhausted transcription retries"))
	m.costUSD, _ = meter.Float64Counter("scribe.transcription.cost_usd",
		metric.WithDescription("Accrued transcription cost in USD"))
	m.audioSeconds, _ = meter.Float64Counter("scribe.audio.seconds",
		metric.WithDescription("Seconds of audio transcribed"))
	return m
}

func (m *metrics) recordStart(ctx context.Context) {
	if m == nil || m.meetingsStarted == nil {
		return
	}
	m.meetingsStarted.Add(ctx, 1)
}

func (m *metrics) recordSegment(ctx context.Context, seg transcribe.Segment) {
	if m == nil {
		return
	}
	if m.segments != nil {
		m.segments.Add(ctx, 1)
	}
	if m.costUSD != nil {
		m.costUSD.Add(ctx, seg.Cost)
	}
	if m.audioSeconds != nil {
		m.audioSeconds.Add(ctx, seg.Duration.Seconds())
	}
}

func (m *metrics) recordFailure(ctx context.Context) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1)
}
