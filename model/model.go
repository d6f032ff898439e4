package model

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/metadata"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/schema"
)

// Library is the item store a model reads from and flushes to.
// *library.Library implements it.
type Library interface {
	IDs() []core.ID
	Fetch(ctx context.Context, id core.ID) (*core.DataItem, error)
	Store(ctx context.Context, id core.ID, item *core.DataItem, opts library.StoreOptions) error
	Delete(ctx context.Context, id core.ID) error
}

// Entity is a snapshot of one typed record and its payload. Entities handed
// out by the model are copies; changes go through the model's setters.
type Entity struct {
	ID      core.ID
	Type    string
	Version int
	Fields  metadata.Document
	Payload *core.Array
	// StoredVersion is the schema version the record had on disk before
	// migration, or 0 for entities not yet stored.
	StoredVersion int
}

// Get returns a field value or null.
func (e *Entity) Get(field string) metadata.Value {
	return e.Fields.Get(field)
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = e.Fields.Clone()
	c.Payload = e.Payload.Clone()
	return &c
}

type slotState uint8

const (
	stateUnloaded slotState = iota
	stateLoaded
	stateFailed
	stateDeleted
)

type slot struct {
	id     core.ID
	state  slotState
	entity *Entity
	err    error
	// gen counts mutations; a flush clears dirty only if it is unchanged.
	gen uint64
	// stored is false for entities never committed to the library.
	stored bool
}

// Model is the in-memory entity graph over one library.
//
// Entities live in an arena keyed by identifier and are decoded lazily on
// first access. References between entities are identifiers resolved on
// demand. The dirty set is a bitmap of arena slots.
type Model struct {
	lib     Library
	reg     *schema.Registry
	format  core.Format
	rc      *resource.Controller
	logger  *slog.Logger
	metrics metrics.Observer

	mu     sync.RWMutex
	slots  []*slot
	index  map[core.ID]uint32
	dirty  *roaring.Bitmap
	flushM sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// Load builds a model over every item indexed by lib.
func Load(ctx context.Context, lib Library, reg *schema.Registry, optFns ...Option) (*Model, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if reg == nil {
		reg = schema.DefaultRegistry()
	}
	logger := o.logger
	if o.name != "" {
		logger = logger.With("model", o.name)
	}

	ids := lib.IDs()
	m := &Model{
		lib:     lib,
		reg:     reg,
		format:  o.format,
		rc:      o.rc,
		logger:  logger,
		metrics: o.metrics,
		slots:   make([]*slot, 0, len(ids)),
		index:   make(map[core.ID]uint32, len(ids)),
		dirty:   roaring.New(),
		subs:    make(map[int]func(Event)),
	}
	for _, id := range ids {
		m.index[id] = uint32(len(m.slots))
		m.slots = append(m.slots, &slot{id: id, stored: true})
	}

	if o.eager {
		if err := m.loadAll(ctx, ids); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Model) loadAll(ctx context.Context, ids []core.ID) error {
	var wg sync.WaitGroup
	for _, id := range ids {
		if err := m.rc.AcquireWorker(ctx); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.rc.ReleaseWorker()
			_ = m.ensureLoaded(ctx, id)
		}()
	}
	wg.Wait()

	if errs := m.LoadErrors(); len(errs) > 0 {
		m.logger.Warn("entities failed to load", "count", len(errs))
	}
	return nil
}

// Registry returns the schema registry of the model.
func (m *Model) Registry() *schema.Registry { return m.reg }

// Len returns the number of live entities.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.slots {
		if s.state != stateDeleted {
			n++
		}
	}
	return n
}

// IDs returns the identifiers of all live entities in order.
func (m *Model) IDs() []core.ID {
	m.mu.RLock()
	ids := make([]core.ID, 0, len(m.index))
	for id, i := range m.index {
		if m.slots[i].state != stateDeleted {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(ids, core.ID.Compare)
	return ids
}

// LoadErrors returns the decode failures seen so far, keyed by identifier.
func (m *Model) LoadErrors() map[core.ID]error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[core.ID]error)
	for _, s := range m.slots {
		if s.state == stateFailed {
			out[s.id] = s.err
		}
	}
	return out
}

// Get returns a snapshot of the entity, decoding it on first access.
func (m *Model) Get(ctx context.Context, id core.ID) (*Entity, error) {
	if err := m.ensureLoaded(ctx, id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.liveSlot(id)
	if err != nil {
		return nil, err
	}
	return s.entity.Clone(), nil
}

// Resolve follows a weak reference. Missing, deleted and undecodable
// entities resolve to absent.
func (m *Model) Resolve(ctx context.Context, id core.ID) (*Entity, bool) {
	e, err := m.Get(ctx, id)
	if err != nil {
		return nil, false
	}
	return e, true
}

// References returns the identifiers held by a reference field, which may
// be a single identifier string or an array of them. Entries that are not
// identifiers are skipped.
func (m *Model) References(ctx context.Context, id core.ID, field string) ([]core.ID, error) {
	e, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := e.Get(field)
	var raw []metadata.Value
	switch v.Kind {
	case metadata.KindString:
		raw = []metadata.Value{v}
	case metadata.KindArray:
		raw, _ = v.AsArray()
	}
	refs := make([]core.ID, 0, len(raw))
	for _, r := range raw {
		s, ok := r.AsString()
		if !ok {
			continue
		}
		if ref, err := core.ParseID(s); err == nil {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Create adds a new entity of the given type at the current schema version.
// It is stored on the next flush.
func (m *Model) Create(typeName string, fields metadata.Document, payload *core.Array) (*Entity, error) {
	current, err := m.reg.Current(typeName)
	if err != nil {
		return nil, err
	}
	norm := make(metadata.Document, len(fields))
	for k, v := range fields {
		if metadata.IsReserved(k) {
			return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidField, k)
		}
		norm[k] = m.reg.Normalize(typeName, k, v.Clone())
	}
	if err := m.reg.Validate(typeName, norm); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidField, err)
	}
	if payload != nil {
		if err := payload.Validate(); err != nil {
			return nil, fmt.Errorf("%w: payload: %w", ErrInvalidField, err)
		}
	}

	e := &Entity{
		ID:      core.NewID(),
		Type:    typeName,
		Version: current,
		Fields:  norm,
		Payload: payload.Clone(),
	}

	m.mu.Lock()
	idx := uint32(len(m.slots))
	m.slots = append(m.slots, &slot{id: e.ID, state: stateLoaded, entity: e, gen: 1})
	m.index[e.ID] = idx
	m.dirty.Add(idx)
	m.mu.Unlock()

	m.emit(Event{Kind: Created, ID: e.ID})
	return e.Clone(), nil
}

// Set assigns one field. The value is normalized and checked against the
// current schema version of the entity type.
func (m *Model) Set(ctx context.Context, id core.ID, field string, v metadata.Value) error {
	if metadata.IsReserved(field) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidField, field)
	}
	if err := m.ensureLoaded(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	s, err := m.liveSlot(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	typeName := s.entity.Type
	decl, ok := m.reg.Field(typeName, field)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s has no field %q", ErrInvalidField, typeName, field)
	}
	if v.IsNull() {
		if decl.Required {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s.%s is required", ErrInvalidField, typeName, field)
		}
		delete(s.entity.Fields, field)
	} else {
		v = m.reg.Normalize(typeName, field, v.Clone())
		if !decl.Type.Accepts(v.Kind) {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s.%s is %s, got %s", ErrInvalidField, typeName, field, decl.Type, v.Kind)
		}
		s.entity.Fields[field] = v
	}
	m.touch(id, s)
	m.mu.Unlock()

	m.emit(Event{Kind: Changed, ID: id, Field: field})
	return nil
}

// SetPayload replaces the array payload. A nil array removes it.
func (m *Model) SetPayload(ctx context.Context, id core.ID, a *core.Array) error {
	if a != nil {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: payload: %w", ErrInvalidField, err)
		}
	}
	if err := m.ensureLoaded(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	s, err := m.liveSlot(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	s.entity.Payload = a.Clone()
	m.touch(id, s)
	m.mu.Unlock()

	m.emit(Event{Kind: Changed, ID: id})
	return nil
}

// Delete marks the entity deleted. Its file is removed on the next flush;
// an entity never stored is dropped immediately. Deleting a deleted entity
// succeeds.
func (m *Model) Delete(_ context.Context, id core.ID) error {
	m.mu.Lock()
	idx, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	s := m.slots[idx]
	if s.state == stateDeleted {
		m.mu.Unlock()
		return nil
	}
	s.state = stateDeleted
	s.entity = nil
	s.err = nil
	s.gen++
	if s.stored {
		m.dirty.Add(idx)
	} else {
		m.dirty.Remove(idx)
		delete(m.index, id)
	}
	m.mu.Unlock()

	m.emit(Event{Kind: Deleted, ID: id})
	return nil
}

// Dirty returns the identifiers with unflushed changes, including pending
// deletions, in order.
func (m *Model) Dirty() []core.ID {
	m.mu.RLock()
	ids := make([]core.ID, 0, m.dirty.GetCardinality())
	it := m.dirty.Iterator()
	for it.HasNext() {
		ids = append(ids, m.slots[it.Next()].id)
	}
	m.mu.RUnlock()
	slices.SortFunc(ids, core.ID.Compare)
	return ids
}

// IsDirty reports whether id has unflushed changes.
func (m *Model) IsDirty(id core.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.index[id]
	return ok && m.dirty.Contains(idx)
}

// touch marks a slot modified. Caller holds m.mu.
func (m *Model) touch(id core.ID, s *slot) {
	s.gen++
	m.dirty.Add(m.index[id])
}

// liveSlot returns the loaded slot for id. Caller holds m.mu.
func (m *Model) liveSlot(id core.ID) (*slot, error) {
	idx, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	s := m.slots[idx]
	switch s.state {
	case stateLoaded:
		return s, nil
	case stateDeleted:
		return nil, fmt.Errorf("%w: %s", ErrDeleted, id)
	case stateFailed:
		return nil, s.err
	default:
		return nil, fmt.Errorf("%w: %s not loaded", ErrEntityNotFound, id)
	}
}

// ensureLoaded decodes an unloaded entity. The library read and the schema
// migration run without holding the model lock.
func (m *Model) ensureLoaded(ctx context.Context, id core.ID) error {
	m.mu.RLock()
	idx, ok := m.index[id]
	var state slotState
	if ok {
		state = m.slots[idx].state
	}
	m.mu.RUnlock()
	if !ok || state != stateUnloaded {
		return nil
	}

	e, err := m.decode(ctx, id)
	if err != nil && ctx.Err() != nil {
		// Cancellation is not a property of the entity.
		return err
	}

	m.mu.Lock()
	s := m.slots[idx]
	installed := false
	if s.state == stateUnloaded {
		if err != nil {
			s.state, s.err = stateFailed, err
		} else {
			s.state, s.entity = stateLoaded, e
			installed = true
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("entity failed to load", "identifier", id, "error", err)
		return nil
	}
	if installed {
		m.emit(Event{Kind: Loaded, ID: id})
	}
	return nil
}

func (m *Model) decode(ctx context.Context, id core.ID) (*Entity, error) {
	item, err := m.lib.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	typeName, stored, err := schema.Stamps(item.Metadata)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", id, err)
	}
	rec, err := m.reg.Decode(item.Metadata)
	if stored != rec.Version || err != nil {
		m.metrics.OnMigration(typeName, stored, rec.Version, err)
	}
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", id, err)
	}
	return &Entity{
		ID:            id,
		Type:          rec.Type,
		Version:       rec.Version,
		Fields:        rec.Fields,
		Payload:       item.Payload,
		StoredVersion: stored,
	}, nil
}
