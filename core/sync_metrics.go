package core

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/datachainlab/substrate-bridge-relayer/metrics"
)

// SyncLoopMetrics exposes the state of a finality sync loop. The using_same_fork
// gauge is the fork alarm: 0 means the target has recorded a header hash that
// does not match the source's canonical chain.
type SyncLoopMetrics struct {
	attrs []attribute.KeyValue

	bestSourceBlockNumber *metrics.Int64SyncGauge
	bestTargetBlockNumber *metrics.Int64SyncGauge
	usingSameFork         *metrics.Int64SyncGauge
	submittedHeaders      metric.Int64Counter

	sameFork atomic.Bool
}

func NewSyncLoopMetrics(sourceName, targetName string) (*SyncLoopMetrics, error) {
	meter := metrics.GetMeter()
	m := &SyncLoopMetrics{
		attrs: []attribute.KeyValue{
			attribute.Key("source_chain").String(sourceName),
			attribute.Key("target_chain").String(targetName),
		},
	}
	m.sameFork.Store(true)

	var err error
	if m.bestSourceBlockNumber, err = metrics.NewInt64SyncGauge(
		meter,
		metrics.InstrumentName("best_source_block_number"),
		metric.WithUnit("1"),
		metric.WithDescription("best finalized block number at the source chain"),
	); err != nil {
		return nil, err
	}
	if m.bestTargetBlockNumber, err = metrics.NewInt64SyncGauge(
		meter,
		metrics.InstrumentName("best_target_block_number"),
		metric.WithUnit("1"),
		metric.WithDescription("best finalized source block number known to the target chain"),
	); err != nil {
		return nil, err
	}
	if m.usingSameFork, err = metrics.NewInt64SyncGauge(
		meter,
		metrics.InstrumentName("using_same_fork"),
		metric.WithUnit("1"),
		metric.WithDescription("whether the source and target chains agree on the finalized fork"),
	); err != nil {
		return nil, err
	}
	if m.submittedHeaders, err = meter.Int64Counter(
		metrics.InstrumentName("submitted_headers"),
		metric.WithUnit("1"),
		metric.WithDescription("number of finality proofs submitted to the target chain"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SyncLoopMetrics) UpdateBestBlockNumberAtSource(number uint64) {
	m.bestSourceBlockNumber.Set(int64(number), m.attrs...)
}

func (m *SyncLoopMetrics) UpdateBestBlockNumberAtTarget(number uint64) {
	m.bestTargetBlockNumber.Set(int64(number), m.attrs...)
}

func (m *SyncLoopMetrics) UpdateUsingSameFork(sameFork bool) {
	m.sameFork.Store(sameFork)
	v := int64(0)
	if sameFork {
		v = 1
	}
	m.usingSameFork.Set(v, m.attrs...)
}

func (m *SyncLoopMetrics) IsUsingSameFork() bool {
	return m.sameFork.Load()
}

func (m *SyncLoopMetrics) NoteSubmittedHeader(ctx context.Context, number uint64) {
	m.submittedHeaders.Add(ctx, 1, metric.WithAttributes(m.attrs...))
}
