package event

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Registration is one registered callback.
type Registration struct {
	Category Category
	Entity   uint32 // zero for global categories
	EventID  uint32
	Callback *lua.LFunction
	Order    uint64
}

type keyedKey struct {
	entity uint32
	id     uint32
}

// Table holds the callbacks registered by one runtime's scripts. Callbacks are Lua
// functions owned by that runtime's interpreter and must only be called through it.
type Table struct {
	mu     sync.Mutex
	seq    uint64
	global map[Category]map[uint32][]Registration
	keyed  map[Category]map[keyedKey][]Registration
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		global: make(map[Category]map[uint32][]Registration),
		keyed:  make(map[Category]map[keyedKey][]Registration),
	}
}

// Register appends fn to the global callbacks for (cat, id).
func (t *Table) Register(cat Category, id uint32, fn *lua.LFunction) Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	reg := Registration{Category: cat, EventID: id, Callback: fn, Order: t.seq}

	byID := t.global[cat]
	if byID == nil {
		byID = make(map[uint32][]Registration)
		t.global[cat] = byID
	}
	byID[id] = append(byID[id], reg)
	return reg
}

// RegisterKeyed appends fn to the callbacks for (cat, entity, id).
func (t *Table) RegisterKeyed(cat Category, entity, id uint32, fn *lua.LFunction) Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	reg := Registration{Category: cat, Entity: entity, EventID: id, Callback: fn, Order: t.seq}

	byKey := t.keyed[cat]
	if byKey == nil {
		byKey = make(map[keyedKey][]Registration)
		t.keyed[cat] = byKey
	}
	k := keyedKey{entity: entity, id: id}
	byKey[k] = append(byKey[k], reg)
	return reg
}

// Clear drops every global registration in cat.
func (t *Table) Clear(cat Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.global, cat)
}

// ClearKeyed drops every registration in cat for entity.
func (t *Table) ClearKeyed(cat Category, entity uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byKey := t.keyed[cat]
	for k := range byKey {
		if k.entity == entity {
			delete(byKey, k)
		}
	}
	if len(byKey) == 0 {
		delete(t.keyed, cat)
	}
}

// Callbacks returns a snapshot of the global callbacks for (cat, id) in
// registration order.
func (t *Table) Callbacks(cat Category, id uint32) []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.global[cat][id])
}

// KeyedCallbacks returns a snapshot of the callbacks for (cat, entity, id) in
// registration order.
func (t *Table) KeyedCallbacks(cat Category, entity, id uint32) []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.keyed[cat][keyedKey{entity: entity, id: id}])
}

// Reset drops everything. The order sequence keeps counting.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = make(map[Category]map[uint32][]Registration)
	t.keyed = make(map[Category]map[keyedKey][]Registration)
}

// Len returns the total number of registrations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, byID := range t.global {
		for _, regs := range byID {
			n += len(regs)
		}
	}
	for _, byKey := range t.keyed {
		for _, regs := range byKey {
			n += len(regs)
		}
	}
	return n
}

func clone(regs []Registration) []Registration {
	if len(regs) == 0 {
		return nil
	}
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}
