package model

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/library"
)

// FlushResult reports the outcome of one flush per item.
type FlushResult struct {
	Stored  []core.ID
	Deleted []core.ID
	Failed  map[core.ID]error
}

// Err returns a *FlushError if any item failed, otherwise nil.
func (r FlushResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &FlushError{Failed: r.Failed}
}

type flushJob struct {
	idx    uint32
	id     core.ID
	gen    uint64
	delete bool
	entity *Entity
	stored bool
}

// Flush writes every dirty entity at the current schema version and removes
// deleted ones. A failing item stays dirty and does not stop the others.
// Dirty flags are cleared only for items whose commit succeeded and that
// were not modified again while the flush ran.
func (m *Model) Flush(ctx context.Context) FlushResult {
	m.flushM.Lock()
	defer m.flushM.Unlock()
	start := time.Now()

	jobs := m.snapshotDirty()
	res := FlushResult{Failed: make(map[core.ID]error)}
	if len(jobs) == 0 {
		return res
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		if err := m.rc.AcquireWorker(ctx); err != nil {
			for j := i; j < len(jobs); j++ {
				errs[j] = err
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.rc.ReleaseWorker()
			errs[i] = m.commit(ctx, job)
		}()
	}
	wg.Wait()

	var events []Event
	m.mu.Lock()
	for i, job := range jobs {
		if err := errs[i]; err != nil {
			res.Failed[job.id] = err
			events = append(events, Event{Kind: FlushFailed, ID: job.id, Err: err})
			continue
		}
		s := m.slots[job.idx]
		if job.delete {
			res.Deleted = append(res.Deleted, job.id)
			if s.gen == job.gen {
				m.dirty.Remove(job.idx)
				delete(m.index, job.id)
			}
		} else {
			res.Stored = append(res.Stored, job.id)
			s.stored = true
			if s.state == stateDeleted {
				// Deleted while its first write was in flight; the file now
				// exists, so the deletion has to reach the library.
				m.index[job.id] = job.idx
				m.dirty.Add(job.idx)
			} else if s.gen == job.gen {
				m.dirty.Remove(job.idx)
				if s.entity != nil {
					s.entity.StoredVersion = s.entity.Version
				}
			}
		}
		events = append(events, Event{Kind: Flushed, ID: job.id})
	}
	m.mu.Unlock()

	slices.SortFunc(res.Stored, core.ID.Compare)
	slices.SortFunc(res.Deleted, core.ID.Compare)
	for id, err := range res.Failed {
		m.logger.Warn("flush failed", "identifier", id, "error", err)
	}
	m.logger.Info("flush completed",
		"stored", len(res.Stored),
		"deleted", len(res.Deleted),
		"failed", len(res.Failed),
		"duration", time.Since(start),
	)
	m.metrics.OnFlush(time.Since(start), len(res.Stored), len(res.Deleted), len(res.Failed))
	m.emit(events...)
	return res
}

func (m *Model) snapshotDirty() []flushJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]flushJob, 0, m.dirty.GetCardinality())
	it := m.dirty.Iterator()
	for it.HasNext() {
		idx := it.Next()
		s := m.slots[idx]
		job := flushJob{idx: idx, id: s.id, gen: s.gen, stored: s.stored}
		switch s.state {
		case stateDeleted:
			job.delete = true
		case stateLoaded:
			job.entity = s.entity.Clone()
		default:
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (m *Model) commit(ctx context.Context, job flushJob) error {
	if job.delete {
		return m.lib.Delete(ctx, job.id)
	}
	e := job.entity
	doc, err := m.reg.Encode(e.Type, e.Fields)
	if err != nil {
		return err
	}
	item := &core.DataItem{
		ID:            e.ID,
		Metadata:      doc,
		Payload:       e.Payload,
		SchemaVersion: e.Version,
	}
	opts := library.StoreOptions{}
	if !job.stored {
		opts.Format = m.format
	}
	return m.lib.Store(ctx, e.ID, item, opts)
}
