package branchfs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordSnapshot is called after each snapshot creation.
	// duration is the total time taken, err is nil if successful.
	RecordSnapshot(duration time.Duration, err error)

	// RecordBranch is called after each branch fork.
	RecordBranch(duration time.Duration, err error)

	// RecordArchive is called after each snapshot export.
	RecordArchive(duration time.Duration, err error)

	// RecordRestore is called after each snapshot import.
	RecordRestore(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSnapshot(time.Duration, error) {}
func (NoopMetricsCollector) RecordBranch(time.Duration, error)   {}
func (NoopMetricsCollector) RecordArchive(time.Duration, error)  {}
func (NoopMetricsCollector) RecordRestore(time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	SnapshotTotalNanos atomic.Int64
	BranchCount        atomic.Int64
	BranchErrors       atomic.Int64
	ArchiveCount       atomic.Int64
	ArchiveErrors      atomic.Int64
	ArchiveTotalNanos  atomic.Int64
	RestoreCount       atomic.Int64
	RestoreErrors      atomic.Int64
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// RecordBranch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBranch(duration time.Duration, err error) {
	b.BranchCount.Add(1)
	if err != nil {
		b.BranchErrors.Add(1)
	}
}

// RecordArchive implements MetricsCollector.
func (b *BasicMetricsCollector) RecordArchive(duration time.Duration, err error) {
	b.ArchiveCount.Add(1)
	b.ArchiveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ArchiveErrors.Add(1)
	}
}

// RecordRestore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestore(duration time.Duration, err error) {
	b.RestoreCount.Add(1)
	if err != nil {
		b.RestoreErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SnapshotCount:    b.SnapshotCount.Load(),
		SnapshotErrors:   b.SnapshotErrors.Load(),
		SnapshotAvgNanos: avgNanos(b.SnapshotTotalNanos.Load(), b.SnapshotCount.Load()),
		BranchCount:      b.BranchCount.Load(),
		BranchErrors:     b.BranchErrors.Load(),
		ArchiveCount:     b.ArchiveCount.Load(),
		ArchiveErrors:    b.ArchiveErrors.Load(),
		ArchiveAvgNanos:  avgNanos(b.ArchiveTotalNanos.Load(), b.ArchiveCount.Load()),
		RestoreCount:     b.RestoreCount.Load(),
		RestoreErrors:    b.RestoreErrors.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SnapshotCount    int64
	SnapshotErrors   int64
	SnapshotAvgNanos int64
	BranchCount      int64
	BranchErrors     int64
	ArchiveCount     int64
	ArchiveErrors    int64
	ArchiveAvgNanos  int64
	RestoreCount     int64
	RestoreErrors    int64
}
