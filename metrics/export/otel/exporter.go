package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned by New when no meter is supplied.
	ErrNilMeter = errors.New("otel: nil meter")
	// ErrNilSource is returned by New when no snapshot source is supplied.
	ErrNilSource = errors.New("otel: nil metrics source")
)

// Source is what the exporter reads on each collection. *authcore.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// latencyInstruments carries one engine histogram. Buckets are a single
// gauge keyed by the "le" attribute rather than one instrument per bound.
type latencyInstruments struct {
	id      authcore.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableCounter
	bounds  []metric.ObserveOption
}

// Exporter observes an authcore engine through a caller-owned meter.
type Exporter struct {
	source       Source
	registration metric.Registration

	counters     map[authcore.MetricID]metric.Int64ObservableCounter
	latencies    []latencyInstruments
	auditDropped metric.Int64ObservableCounter
}

// New creates the instruments on meter and registers one callback that
// reads a single snapshot per collection.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	x := &Exporter{
		source:   source,
		counters: make(map[authcore.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		x.counters[def.ID] = c
		observables = append(observables, c)
	}

	for _, def := range internaldefs.HistogramDefs {
		l := latencyInstruments{id: def.ID, bounds: bucketLabels()}
		var err error
		l.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("otel: buckets %s: %w", def.Name, err)
		}
		l.count, err = meter.Int64ObservableCounter(def.Name+"_count",
			metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("otel: count %s: %w", def.Name, err)
		}
		x.latencies = append(x.latencies, l)
		observables = append(observables, l.buckets, l.count)
	}

	var err error
	x.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("otel: counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	observables = append(observables, x.auditDropped)

	x.registration, err = meter.RegisterCallback(x.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return x, nil
}

// observe reports nothing while the engine's metrics are disabled, same
// as the Prometheus collector.
func (x *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := x.source.MetricsSnapshot()
	dropped := x.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return nil
	}

	for id, c := range x.counters {
		o.ObserveInt64(c, int64(snapshot.Counters[id]))
	}
	for _, l := range x.latencies {
		raw, ok := snapshot.Histograms[l.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, opt := range l.bounds {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(x.auditDropped, int64(dropped))
	return nil
}

// Close unregisters the callback. The meter provider stays with the caller.
func (x *Exporter) Close() error {
	if x == nil || x.registration == nil {
		return nil
	}
	return x.registration.Unregister()
}

func bucketLabels() []metric.ObserveOption {
	opts := make([]metric.ObserveOption, 0, len(internaldefs.HistogramUpperBounds)+1)
	for _, bound := range internaldefs.HistogramUpperBounds {
		le := strconv.FormatFloat(bound, 'g', -1, 64)
		opts = append(opts, metric.WithAttributes(attribute.String("le", le)))
	}
	return append(opts, metric.WithAttributes(attribute.String("le", "+Inf")))
}
