// Package metrics provides lock-free counters and latency histograms for
// engine observability.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically via [sync/atomic.AddUint64]. Histograms use 8 fixed buckets
// (≤5ms … +Inf). Both are allocation-free on the write path.
//
// # Architecture boundaries
//
// This package owns metric storage, snapshot creation and the exported
// series names. Exporters (Prometheus, OTel) live in metrics/export/ and
// read Snapshot values.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import arkana or any sibling package.
//   - Expose global metric registries.
package metrics
