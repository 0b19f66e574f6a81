// Package metrics instruments the Strategy-Performance Tracker and the
// Retrainer with OpenTelemetry counters (SPEC_FULL.md §11), grounded in
// the pack's otel/metric dependency (carried transitively by `cellorg`
// and `omni`, wired here directly).
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Recorder wraps the counters both components emit. A nil *Recorder is
// valid and records nothing, so callers that haven't wired a MeterProvider
// (unit tests, the CLI when it cannot build a Recorder) don't need a
// special case.
type Recorder struct {
	strategyAttempts metric.Int64Counter
	strategyCorrect  metric.Int64Counter
	retrainAccepted  metric.Int64Counter
	retrainRejected  metric.Int64Counter
	retrainFailed    metric.Int64Counter
}

// NewRecorder builds a Recorder from the given meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	strategyAttempts, err := meter.Int64Counter("fieldextract.strategy.attempts",
		metric.WithDescription("extraction attempts per template/field/strategy"))
	if err != nil {
		return nil, err
	}
	strategyCorrect, err := meter.Int64Counter("fieldextract.strategy.correct",
		metric.WithDescription("extraction attempts later confirmed correct by feedback"))
	if err != nil {
		return nil, err
	}
	retrainAccepted, err := meter.Int64Counter("fieldextract.retrain.accepted",
		metric.WithDescription("retrain attempts accepted"))
	if err != nil {
		return nil, err
	}
	retrainRejected, err := meter.Int64Counter("fieldextract.retrain.rejected",
		metric.WithDescription("retrain attempts rejected for an accuracy regression"))
	if err != nil {
		return nil, err
	}
	retrainFailed, err := meter.Int64Counter("fieldextract.retrain.failed",
		metric.WithDescription("retrain attempts that raised an exception"))
	if err != nil {
		return nil, err
	}
	return &Recorder{
		strategyAttempts: strategyAttempts,
		strategyCorrect:  strategyCorrect,
		retrainAccepted:  retrainAccepted,
		retrainRejected:  retrainRejected,
		retrainFailed:    retrainFailed,
	}, nil
}

// RecordAttempt records one strategy attempt and, if correct is true, one
// confirmed-correct outcome, tagged by template/field/strategy.
func (r *Recorder) RecordAttempt(ctx context.Context, templateID, fieldName, strategy string, correct bool) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attrString("template_id", templateID),
		attrString("field_name", fieldName),
		attrString("strategy", strategy),
	)
	r.strategyAttempts.Add(ctx, 1, attrs)
	if correct {
		r.strategyCorrect.Add(ctx, 1, attrs)
	}
}

// RecordRetrain records a retrain outcome for a template.
func (r *Recorder) RecordRetrain(ctx context.Context, templateID, status string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attrString("template_id", templateID))
	switch status {
	case "accepted":
		r.retrainAccepted.Add(ctx, 1, attrs)
	case "rejected":
		r.retrainRejected.Add(ctx, 1, attrs)
	case "failed":
		r.retrainFailed.Add(ctx, 1, attrs)
	}
}
