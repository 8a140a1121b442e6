package device

import (
	"reflect"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// UpsertResult describes what Upsert changed.
type UpsertResult int

const (
	// UpsertUnchanged means the listed device matches the registry.
	UpsertUnchanged UpsertResult = iota
	// UpsertAdded means the device was not known before.
	UpsertAdded
	// UpsertCapabilitiesChanged means the capability set differs. The
	// stored state is dropped and discovery must be republished.
	UpsertCapabilitiesChanged
	// UpsertUpdated means name, firmware or another discovery field changed.
	UpsertUpdated
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertAdded:
		return "added"
	case UpsertCapabilitiesChanged:
		return "capabilities_changed"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

type entry struct {
	device Device
	state  State

	// confirmed holds the last value a vendor read reported per attribute.
	confirmed State

	// stamps holds the cycle epoch of each optimistic write still awaiting
	// confirmation.
	stamps map[Attribute]uint64

	presence   Presence
	misses     int
	discovered bool
	lastSeen   time.Time
	updatedAt  time.Time
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Device:     e.device.DeepCopy(),
		State:      e.state.Clone(),
		Presence:   e.presence,
		Misses:     e.misses,
		Discovered: e.discovered,
		LastSeen:   e.lastSeen,
		UpdatedAt:  e.updatedAt,
	}
}

// Registry is the in-memory record of every known device, its last
// published state and its presence.
//
// State has two writers. The reconciler applies vendor reads with
// ApplyAuthoritative, tagged with the epoch returned by BeginCycle. The
// command path applies acknowledged commands with ApplyOptimistic, which
// stamps the attribute with the current epoch. A read only overwrites an
// optimistic value when it comes from a later cycle.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	epoch   uint64
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// BeginCycle starts a reconciliation cycle and returns its epoch.
func (r *Registry) BeginCycle() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	return r.epoch
}

// Epoch returns the epoch of the most recent cycle.
func (r *Registry) Epoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// Upsert records the identity part of a listed device.
func (r *Registry) Upsert(dev Device) UpsertResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[dev.ID]
	if !ok {
		r.entries[dev.ID] = &entry{
			device:    dev.DeepCopy(),
			state:     State{},
			confirmed: State{},
			stamps:    make(map[Attribute]uint64),
			presence:  PresenceActive,
			updatedAt: now,
		}
		return UpsertAdded
	}

	if !e.device.Capabilities.Equal(dev.Capabilities) {
		r.logger.Info("device capabilities changed",
			"device_id", dev.ID,
			"old", e.device.Capabilities.List(),
			"new", dev.Capabilities.List(),
		)
		e.device = dev.DeepCopy()
		e.state = State{}
		e.confirmed = State{}
		e.stamps = make(map[Attribute]uint64)
		e.discovered = false
		e.updatedAt = now
		return UpsertCapabilitiesChanged
	}

	if !e.device.sameMetadata(dev) {
		e.device = dev.DeepCopy()
		e.discovered = false
		e.updatedAt = now
		return UpsertUpdated
	}

	return UpsertUnchanged
}

// Get returns a deep copy of the device entry.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Value returns the stored value of one attribute.
func (r *Registry) Value(id string, attr Attribute) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	v, ok := e.state[attr]
	return v, ok
}

// Revert replaces the stored value of attr with the last value a vendor
// read reported, drops any pending optimistic write and returns that
// value. Nothing changes when no read has reported attr.
func (r *Registry) Revert(id string, attr Attribute) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	v, ok := e.confirmed[attr]
	if !ok {
		return nil, false
	}
	e.state[attr] = v
	delete(e.stamps, attr)
	return v, true
}

// List returns deep copies of every entry, sorted by device ID.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// IDs returns the known device IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Diff returns the attributes of s whose value differs from the stored
// state, sorted. It does not modify the registry.
func (r *Registry) Diff(id string, s State) []Attribute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return sortedAttributes(s)
	}

	var changed []Attribute
	for attr, v := range s {
		old, ok := e.state[attr]
		if !ok || !valuesEqual(old, v) {
			changed = append(changed, attr)
		}
	}
	sortAttributes(changed)
	return changed
}

// ApplyAuthoritative merges a vendor read taken during the cycle with the
// given epoch and returns the attributes whose value changed, sorted.
//
// Attributes written optimistically during this cycle or later are left
// alone. Attributes absent from s keep their previous value.
func (r *Registry) ApplyAuthoritative(id string, s State, epoch uint64) []Attribute {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil
	}

	var changed []Attribute
	for attr, v := range s {
		if stamp, pending := e.stamps[attr]; pending {
			if epoch <= stamp {
				continue
			}
			delete(e.stamps, attr)
		}
		e.confirmed[attr] = v
		old, ok := e.state[attr]
		if ok && valuesEqual(old, v) {
			continue
		}
		e.state[attr] = v
		changed = append(changed, attr)
	}

	if len(changed) > 0 {
		e.updatedAt = r.now()
	}
	sortAttributes(changed)
	return changed
}

// ApplyOptimistic stores an acknowledged command value ahead of the next
// read. It reports whether the stored value changed.
func (r *Registry) ApplyOptimistic(id string, attr Attribute, v any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false, ErrDeviceNotFound
	}

	e.stamps[attr] = r.epoch
	old, had := e.state[attr]
	if had && valuesEqual(old, v) {
		return false, nil
	}
	e.state[attr] = v
	e.updatedAt = r.now()
	return true, nil
}

// Forget drops stored values so the next read republishes them. The
// reconciler calls it when a state publish fails.
func (r *Registry) Forget(id string, attrs ...Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	for _, attr := range attrs {
		delete(e.state, attr)
		delete(e.stamps, attr)
	}
}

// MarkMissing records a cycle in which the device was absent and returns
// the number of consecutive misses.
func (r *Registry) MarkMissing(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return 0
	}
	e.misses++
	e.presence = PresenceMissing
	return e.misses
}

// MarkSeen resets the miss counter of a present device.
func (r *Registry) MarkSeen(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.misses = 0
	e.presence = PresenceActive
	e.lastSeen = r.now()
}

// PurgeIfStale removes the device once it has missed threshold consecutive
// cycles and reports whether it did. A purged device is gone, so this
// returns true at most once per sighting.
func (r *Registry) PurgeIfStale(id string, threshold int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.misses < threshold {
		return false
	}
	delete(r.entries, id)
	r.logger.Info("device purged", "device_id", id, "misses", e.misses)
	return true
}

// NeedsDiscovery reports whether the device's discovery configs have not
// been published since it was added or last changed.
func (r *Registry) NeedsDiscovery(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return ok && !e.discovered
}

// MarkDiscovered records a successful discovery publish.
func (r *Registry) MarkDiscovered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.discovered = true
	}
}

// InvalidateDiscovery clears every discovered flag, e.g. after the broker
// lost its retained messages.
func (r *Registry) InvalidateDiscovery() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		e.discovered = false
	}
}

// InvalidateState drops every stored value so the next cycle republishes
// all state.
func (r *Registry) InvalidateState() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		e.state = State{}
		e.confirmed = State{}
		e.stamps = make(map[Attribute]uint64)
	}
}

// valuesEqual compares state values exactly. Numbers are compared without
// tolerance.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return reflect.DeepEqual(a, b)
	}
}

func sortedAttributes(s State) []Attribute {
	out := make([]Attribute, 0, len(s))
	for attr := range s {
		out = append(out, attr)
	}
	sortAttributes(out)
	return out
}

func sortAttributes(attrs []Attribute) {
	sort.Slice(attrs, func(i, j int) bool { return attrs[i] < attrs[j] })
}
