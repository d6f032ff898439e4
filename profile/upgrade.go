package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/schema"
)

// UpgradePolicy decides what happens to a library when some of its items
// fail to upgrade.
type UpgradePolicy uint8

const (
	// PolicyPerItem keeps every item that upgraded and reports the others.
	PolicyPerItem UpgradePolicy = iota
	// PolicyAllOrNothing stops at the first failure in a library and restores
	// the items already rewritten from copies taken before the upgrade.
	PolicyAllOrNothing
)

func (p UpgradePolicy) String() string {
	if p == PolicyAllOrNothing {
		return "all-or-nothing"
	}
	return "per-item"
}

// UpgradeOptions controls a profile-wide upgrade.
type UpgradeOptions struct {
	// Format converts every item to this container. FormatUnknown keeps the
	// current container of each item.
	Format core.Format
	Policy UpgradePolicy
}

// LibraryUpgrade is the outcome of one library's upgrade.
type LibraryUpgrade struct {
	Name     string
	Upgraded []core.ID
	Failed   map[core.ID]error
	// RolledBack is set when an all-or-nothing upgrade restored the library.
	RolledBack bool
	// RestoreFailed lists items that could not be restored after a rollback.
	RestoreFailed map[core.ID]error
	// Skipped is set when the model could not be flushed first. Failed then
	// holds the flush failures and no item of the library was touched.
	Skipped bool
}

// UpgradeReport collects the per-library outcomes of Upgrade.
type UpgradeReport struct {
	Libraries []LibraryUpgrade
}

// Err joins every failure of the report into one error, or returns nil.
func (r UpgradeReport) Err() error {
	var errs []error
	for _, lu := range r.Libraries {
		for id, err := range lu.Failed {
			errs = append(errs, fmt.Errorf("library %q: item %s: %w", lu.Name, id, err))
		}
		for id, err := range lu.RestoreFailed {
			errs = append(errs, fmt.Errorf("library %q: restore %s: %w", lu.Name, id, err))
		}
	}
	return errors.Join(errs...)
}

type original struct {
	item   *core.DataItem
	format core.Format
}

// Upgrade re-stores every item of every library at the current schema
// version, optionally converting the container format. Items already
// current in the requested format are left alone. Each model is flushed
// before and reloaded after its library is upgraded.
func (p *Profile) Upgrade(ctx context.Context, opts UpgradeOptions) (UpgradeReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return UpgradeReport{}, ErrClosed
	}

	var report UpgradeReport
	for _, ref := range p.settings.Libraries {
		m, ok := p.mounts[ref.Name]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if fr := m.model.Flush(ctx); len(fr.Failed) > 0 {
			report.Libraries = append(report.Libraries, LibraryUpgrade{Name: ref.Name, Failed: fr.Failed, Skipped: true})
			p.logger.Warn("library upgrade skipped", "library", ref.Name, "error", fr.Err())
			continue
		}

		start := time.Now()
		lu := p.upgradeLibrary(ctx, ref.Name, m.lib, opts)
		report.Libraries = append(report.Libraries, lu)
		p.metrics.OnUpgrade(ref.Name, time.Since(start), len(lu.Upgraded), len(lu.Failed))
		p.logger.Info("library upgraded",
			"library", ref.Name,
			"upgraded", len(lu.Upgraded),
			"failed", len(lu.Failed),
			"rolled_back", lu.RolledBack,
			"policy", opts.Policy,
		)

		reloaded, err := p.loadModel(ctx, ref, m.lib)
		if err != nil {
			return report, &LibraryError{Name: ref.Name, Root: m.lib.Root(), Err: err}
		}
		m.model = reloaded
	}
	return report, nil
}

func (p *Profile) upgradeLibrary(ctx context.Context, name string, lib *library.Library, opts UpgradeOptions) LibraryUpgrade {
	lu := LibraryUpgrade{Name: name, Failed: make(map[core.ID]error)}
	var saved []core.ID
	originals := make(map[core.ID]original)

	for _, e := range lib.Entries() {
		if ctx.Err() != nil {
			lu.Failed[e.ID] = ctx.Err()
			break
		}
		target := e.Format
		if opts.Format != core.FormatUnknown {
			target = opts.Format
		}
		if target == e.Format && e.Type != "" && p.reg.Compatibility(e.Type, e.Version) == schema.Current {
			continue
		}

		before, err := p.upgradeItem(ctx, lib, e, target)
		if err != nil {
			lu.Failed[e.ID] = err
			p.logger.Warn("item upgrade failed", "library", name, "identifier", e.ID, "path", e.Path, "error", err)
			if opts.Policy == PolicyAllOrNothing {
				break
			}
			continue
		}
		lu.Upgraded = append(lu.Upgraded, e.ID)
		if opts.Policy == PolicyAllOrNothing {
			saved = append(saved, e.ID)
			originals[e.ID] = original{item: before, format: e.Format}
		}
	}

	if opts.Policy == PolicyAllOrNothing && len(lu.Failed) > 0 {
		lu.RolledBack = true
		lu.Upgraded = nil
		for _, id := range saved {
			o := originals[id]
			err := lib.Store(ctx, id, o.item, library.StoreOptions{Format: o.format, Convert: true})
			if err != nil {
				if lu.RestoreFailed == nil {
					lu.RestoreFailed = make(map[core.ID]error)
				}
				lu.RestoreFailed[id] = err
				p.logger.Error("restore after failed upgrade", "library", name, "identifier", id, "error", err)
			}
		}
	}
	return lu
}

// upgradeItem migrates one item and stores it in target. It returns the
// item as it was before the upgrade.
func (p *Profile) upgradeItem(ctx context.Context, lib *library.Library, e library.Entry, target core.Format) (*core.DataItem, error) {
	item, err := lib.Fetch(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	rec, err := p.reg.Decode(item.Metadata)
	if err != nil {
		return nil, err
	}
	doc, err := p.reg.Encode(rec.Type, rec.Fields)
	if err != nil {
		return nil, err
	}
	next := &core.DataItem{
		ID:            e.ID,
		Metadata:      doc,
		Payload:       item.Payload,
		SchemaVersion: rec.Version,
	}
	if err := lib.Store(ctx, e.ID, next, library.StoreOptions{Format: target, Convert: target != e.Format}); err != nil {
		return nil, err
	}
	return item, nil
}
