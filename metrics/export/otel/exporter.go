package otel

import (
	"context"
	"errors"
	"fmt"

	farmauth "github.com/MrEthical07/farmauth"
	"github.com/MrEthical07/farmauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() farmauth.MetricsSnapshot
	AuditDropped() uint64
}

// series is one attribute combination of an instrument.
type series struct {
	id   farmauth.MetricID
	opts []metric.ObserveOption
}

type family struct {
	instrument metric.Int64ObservableCounter
	series     []series
}

type latency struct {
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	les     [8][]metric.ObserveOption
}

// OTelExporter publishes engine metrics as attributed OpenTelemetry instruments
// observed in a single callback.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []family
	latency      latency
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *farmauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Families)+3)

	for _, def := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(def.Name,
			metric.WithDescription(def.Help),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		f := family{instrument: ins, series: make([]series, 0, len(def.Members))}
		for _, m := range def.Members {
			s := series{id: m.ID}
			if def.Key != "" {
				s.opts = []metric.ObserveOption{
					metric.WithAttributeSet(attribute.NewSet(attribute.String(def.Key, m.Value))),
				}
			}
			f.series = append(f.series, s)
		}
		e.families = append(e.families, f)
		observables = append(observables, ins)
	}

	buckets, err := meter.Int64ObservableGauge("farmauth.backend.latency.buckets",
		metric.WithDescription("Cumulative count of auth backend calls at or below the le bound in seconds."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency buckets: %w", err)
	}
	count, err := meter.Int64ObservableGauge("farmauth.backend.latency.count",
		metric.WithDescription("Auth backend calls timed."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency count: %w", err)
	}
	e.latency = latency{buckets: buckets, count: count}
	for i, le := range internaldefs.BucketLabels() {
		e.latency.les[i] = []metric.ObserveOption{
			metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le))),
		}
	}
	observables = append(observables, buckets, count)

	e.auditDropped, err = meter.Int64ObservableCounter("farmauth.audit.dropped",
		metric.WithDescription("Audit events dropped because the dispatcher queue was full."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	snap := e.source.MetricsSnapshot()
	if len(snap.Counters) == 0 {
		// metrics disabled
		return nil
	}
	for _, f := range e.families {
		for _, s := range f.series {
			o.ObserveInt64(f.instrument, int64(snap.Counters[s.id]), s.opts...)
		}
	}

	raw, ok := snap.Histograms[farmauth.MetricBackendLatency]
	if !ok {
		return nil
	}
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	for i, v := range cumulative {
		o.ObserveInt64(e.latency.buckets, int64(v), e.latency.les[i]...)
	}
	o.ObserveInt64(e.latency.count, int64(cumulative[len(cumulative)-1]))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
