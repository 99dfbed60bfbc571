package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/datachainlab/substrate-bridge-relayer/log"
)

const (
	meterName     = "github.com/datachainlab/substrate-bridge-relayer"
	namespaceRoot = "relayer"
)

var (
	meterProvider *metric.MeterProvider
	meter         api.Meter
)

type ExporterConfig interface {
	exporterType() string
}

type ExporterNull struct{}

func (e ExporterNull) exporterType() string { return "null" }

type ExporterProm struct {
	Addr string
}

func (e ExporterProm) exporterType() string { return "prometheus" }

func InitializeMetrics(exporterConf ExporterConfig) error {
	switch exporterConf := exporterConf.(type) {
	case ExporterNull:
		meterProvider = metric.NewMeterProvider()
	case ExporterProm:
		exporter, err := NewPrometheusExporter(exporterConf.Addr)
		if err != nil {
			return err
		}
		meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
	default:
		panic("unexpected exporter type")
	}

	meter = meterProvider.Meter(meterName)
	return nil
}

func ShutdownMetrics(ctx context.Context) error {
	if meterProvider == nil {
		return nil
	}
	if err := meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown the MeterProvider: %v", err)
	}
	return nil
}

// GetMeter falls back to a no-op meter so that instruments can be created
// before InitializeMetrics is called (e.g. in tests).
func GetMeter() api.Meter {
	if meter != nil {
		return meter
	}
	return noop.NewMeterProvider().Meter(meterName)
}

// InstrumentName prefixes the given suffix with the relayer namespace.
func InstrumentName(suffix string) string {
	return fmt.Sprintf("%s.%s", namespaceRoot, suffix)
}

func NewPrometheusExporter(addr string) (*prometheus.Exporter, error) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.GetLogger().Error("prometheus exporter server failed", err)
		}
	}()

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create the Prometheus Exporter: %v", err)
	}

	return exporter, nil
}
