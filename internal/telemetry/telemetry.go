// Package telemetry wires OpenTelemetry metrics and traces for the intake
// pipeline. It installs no-op providers unless enabled in config.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/starford/wigen"

// Config selects exporters.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Stdout writes spans and metrics to stderr.
	Stdout bool `yaml:"stdout"`
}

// Init configures the global providers and returns a shutdown function that
// flushes them.
func Init(ctx context.Context, cfg Config, serviceName, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Stdout {
		texp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(texp))

		mexp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(mexp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Tracer returns the pipeline tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationScope)
}

// Counters holds the pipeline counters.
type Counters struct {
	MessagesScanned  metric.Int64Counter
	MessagesArchived metric.Int64Counter
	MessagesOrphaned metric.Int64Counter
	ItemsCreated     metric.Int64Counter
	LinksCreated     metric.Int64Counter
	LinkerProbes     metric.Int64Counter
	RemindersSent    metric.Int64Counter
}

var (
	countersOnce sync.Once
	counters     *Counters
)

// Instruments returns the process-wide counters. They are created against the
// global meter, which forwards to whatever provider Init installs later.
func Instruments() *Counters {
	countersOnce.Do(func() {
		m := otel.Meter(instrumentationScope)
		counters = &Counters{
			MessagesScanned:  counter(m, "wigen.messages.scanned", "Candidate messages fetched from the mailbox"),
			MessagesArchived: counter(m, "wigen.messages.archived", "Intake messages moved to the archive"),
			MessagesOrphaned: counter(m, "wigen.messages.orphaned", "Archived messages whose work items were not linked"),
			ItemsCreated:     counter(m, "wigen.items.created", "Work items created"),
			LinksCreated:     counter(m, "wigen.links.created", "Parent/child links created"),
			LinkerProbes:     counter(m, "wigen.linker.probes", "Item IDs probed by the linker"),
			RemindersSent:    counter(m, "wigen.reminders.sent", "Credential reminder emails sent"),
		}
	})
	return counters
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		// The API returns a usable no-op instrument alongside any error.
		otel.Handle(err)
	}
	return c
}
