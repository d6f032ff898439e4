// Package metrics defines the observer hooks fired by libraries, models and
// profiles, plus in-memory and Prometheus implementations.
package metrics

import (
	"sync/atomic"
	"time"
)

// Observer receives storage and schema events.
// Implementations must be safe for concurrent use.
type Observer interface {
	// OnFetch is called after a library read.
	OnFetch(d time.Duration, format string, err error)
	// OnStore is called after a library write.
	OnStore(d time.Duration, format string, bytes int64, err error)
	// OnDelete is called after a library delete.
	OnDelete(d time.Duration, err error)
	// OnScan is called when a directory scan completes.
	OnScan(d time.Duration, items, warnings int)
	// OnFlush is called when a model flush completes.
	OnFlush(d time.Duration, stored, deleted, failed int)
	// OnMigration is called for every record migrated on decode.
	OnMigration(typeName string, from, to int, err error)
	// OnUpgrade is called when a profile-wide upgrade of one library ends.
	OnUpgrade(library string, d time.Duration, upgraded, failed int)
}

// NoopObserver is a no-op implementation of Observer.
type NoopObserver struct{}

func (NoopObserver) OnFetch(time.Duration, string, error)        {}
func (NoopObserver) OnStore(time.Duration, string, int64, error) {}
func (NoopObserver) OnDelete(time.Duration, error)               {}
func (NoopObserver) OnScan(time.Duration, int, int)              {}
func (NoopObserver) OnFlush(time.Duration, int, int, int)        {}
func (NoopObserver) OnMigration(string, int, int, error)         {}
func (NoopObserver) OnUpgrade(string, time.Duration, int, int)   {}

// OrNoop returns o, or a NoopObserver if o is nil.
func OrNoop(o Observer) Observer {
	if o == nil {
		return NoopObserver{}
	}
	return o
}

// BasicObserver keeps simple in-memory counters.
// Useful for tests and basic monitoring without external dependencies.
type BasicObserver struct {
	FetchCount      atomic.Int64
	FetchErrors     atomic.Int64
	FetchTotalNanos atomic.Int64
	StoreCount      atomic.Int64
	StoreErrors     atomic.Int64
	StoreBytes      atomic.Int64
	DeleteCount     atomic.Int64
	DeleteErrors    atomic.Int64
	ScanCount       atomic.Int64
	ScanItems       atomic.Int64
	ScanWarnings    atomic.Int64
	FlushCount      atomic.Int64
	FlushFailed     atomic.Int64
	Migrations      atomic.Int64
	MigrationErrors atomic.Int64
	Upgraded        atomic.Int64
	UpgradeFailed   atomic.Int64
}

// OnFetch implements Observer.
func (b *BasicObserver) OnFetch(d time.Duration, _ string, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// OnStore implements Observer.
func (b *BasicObserver) OnStore(_ time.Duration, _ string, bytes int64, err error) {
	b.StoreCount.Add(1)
	if err != nil {
		b.StoreErrors.Add(1)
		return
	}
	b.StoreBytes.Add(bytes)
}

// OnDelete implements Observer.
func (b *BasicObserver) OnDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// OnScan implements Observer.
func (b *BasicObserver) OnScan(_ time.Duration, items, warnings int) {
	b.ScanCount.Add(1)
	b.ScanItems.Add(int64(items))
	b.ScanWarnings.Add(int64(warnings))
}

// OnFlush implements Observer.
func (b *BasicObserver) OnFlush(_ time.Duration, _, _, failed int) {
	b.FlushCount.Add(1)
	b.FlushFailed.Add(int64(failed))
}

// OnMigration implements Observer.
func (b *BasicObserver) OnMigration(_ string, _, _ int, err error) {
	b.Migrations.Add(1)
	if err != nil {
		b.MigrationErrors.Add(1)
	}
}

// OnUpgrade implements Observer.
func (b *BasicObserver) OnUpgrade(_ string, _ time.Duration, upgraded, failed int) {
	b.Upgraded.Add(int64(upgraded))
	b.UpgradeFailed.Add(int64(failed))
}

// Stats returns a snapshot of the counters.
func (b *BasicObserver) Stats() Stats {
	s := Stats{
		FetchCount:      b.FetchCount.Load(),
		FetchErrors:     b.FetchErrors.Load(),
		StoreCount:      b.StoreCount.Load(),
		StoreErrors:     b.StoreErrors.Load(),
		StoreBytes:      b.StoreBytes.Load(),
		DeleteCount:     b.DeleteCount.Load(),
		DeleteErrors:    b.DeleteErrors.Load(),
		ScanCount:       b.ScanCount.Load(),
		ScanItems:       b.ScanItems.Load(),
		ScanWarnings:    b.ScanWarnings.Load(),
		FlushCount:      b.FlushCount.Load(),
		FlushFailed:     b.FlushFailed.Load(),
		Migrations:      b.Migrations.Load(),
		MigrationErrors: b.MigrationErrors.Load(),
		Upgraded:        b.Upgraded.Load(),
		UpgradeFailed:   b.UpgradeFailed.Load(),
	}
	if s.FetchCount > 0 {
		s.FetchAvgNanos = b.FetchTotalNanos.Load() / s.FetchCount
	}
	return s
}

// Stats is a snapshot of BasicObserver state.
type Stats struct {
	FetchCount      int64
	FetchErrors     int64
	FetchAvgNanos   int64
	StoreCount      int64
	StoreErrors     int64
	StoreBytes      int64
	DeleteCount     int64
	DeleteErrors    int64
	ScanCount       int64
	ScanItems       int64
	ScanWarnings    int64
	FlushCount      int64
	FlushFailed     int64
	Migrations      int64
	MigrationErrors int64
	Upgraded        int64
	UpgradeFailed   int64
}
