package event

import (
	"fmt"
	"log"

	"github.com/dyluth/warren/internal/partition"
	lua "github.com/yuin/gopher-lua"
)

// Target is a runtime that can receive events.
type Target interface {
	Key() partition.Key
	Events() *Table
	// Call runs fn in the target's interpreter and returns its first result.
	Call(fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error)
}

// Targets exposes the runtimes that currently exist. Lookup never creates one.
type Targets interface {
	Authority() (Target, bool)
	Lookup(key partition.Key) (Target, bool)
	All() []Target
}

// Router decides which runtimes see an event and runs their callbacks.
//
// Arguments are passed to callbacks in several interpreters, so they must be scalar
// Lua values (numbers, strings, booleans, nil), never tables or functions.
type Router struct {
	targets Targets
	world   World
}

// NewRouter creates a router. world may be nil when subjects never need lookups.
func NewRouter(targets Targets, world World) *Router {
	return &Router{
		targets: targets,
		world:   world,
	}
}

// Register adds fn to target's table. Keyed categories require exactly one entity;
// global categories take none.
func (r *Router) Register(target Target, cat Category, id uint32, fn *lua.LFunction, entity ...uint32) error {
	if err := checkEntity(cat, entity); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("cannot register nil callback for %s event %d", cat, id)
	}

	if cat.Keyed() {
		target.Events().RegisterKeyed(cat, entity[0], id, fn)
	} else {
		target.Events().Register(cat, id, fn)
	}
	return nil
}

// Clear drops target's registrations for cat, or for cat and entity when keyed.
func (r *Router) Clear(target Target, cat Category, entity ...uint32) error {
	if err := checkEntity(cat, entity); err != nil {
		return err
	}

	if cat.Keyed() {
		target.Events().ClearKeyed(cat, entity[0])
	} else {
		target.Events().Clear(cat)
	}
	return nil
}

func checkEntity(cat Category, entity []uint32) error {
	if !cat.Valid() {
		return fmt.Errorf("unknown event category %d", int(cat))
	}
	if cat.Keyed() && len(entity) != 1 {
		return fmt.Errorf("%s events are keyed: an entity entry is required", cat)
	}
	if !cat.Keyed() && len(entity) != 0 {
		return fmt.Errorf("%s events are global: no entity entry is accepted", cat)
	}
	return nil
}

// Dispatch runs every callback for (subject's category, id) on the authority and,
// when it differs, on the subject's owning partition. Players, partitions and the
// world use their global category; creatures, gameobjects and items use their keyed
// category under the subject's entry. Callback errors are logged and the remaining
// callbacks still run.
func (r *Router) Dispatch(subject Subject, id uint32, args ...lua.LValue) {
	rt, ok := r.route(subject)
	if !ok {
		return
	}
	for _, target := range rt.targets {
		for _, reg := range rt.callbacks(target, id) {
			call(target, reg, args)
		}
	}
}

// DispatchVetoable is Dispatch for actions that scripts may block. It returns false as
// soon as any callback returns false; callbacks after it do not run. Any other result,
// including an error, counts as no objection.
func (r *Router) DispatchVetoable(subject Subject, id uint32, args ...lua.LValue) bool {
	rt, ok := r.route(subject)
	if !ok {
		return true
	}
	for _, target := range rt.targets {
		for _, reg := range rt.callbacks(target, id) {
			if vetoed(call(target, reg, args)) {
				return false
			}
		}
	}
	return true
}

// DispatchKeyed runs the callbacks registered for (cat, entity, id) in every runtime.
func (r *Router) DispatchKeyed(entity uint32, cat Category, id uint32, args ...lua.LValue) {
	for _, target := range r.targets.All() {
		for _, reg := range target.Events().KeyedCallbacks(cat, entity, id) {
			call(target, reg, args)
		}
	}
}

// DispatchKeyedVetoable is DispatchKeyed with the veto rules of DispatchVetoable.
func (r *Router) DispatchKeyedVetoable(entity uint32, cat Category, id uint32, args ...lua.LValue) bool {
	for _, target := range r.targets.All() {
		for _, reg := range target.Events().KeyedCallbacks(cat, entity, id) {
			if vetoed(call(target, reg, args)) {
				return false
			}
		}
	}
	return true
}

// Fire runs one target's global callbacks for (cat, id), ignoring routing.
func Fire(target Target, cat Category, id uint32, args ...lua.LValue) {
	for _, reg := range target.Events().Callbacks(cat, id) {
		call(target, reg, args)
	}
}

// route is where a subject-routed event goes: the runtimes to visit and which
// subscriptions to read in each.
type route struct {
	cat     Category
	keyed   bool
	entry   uint32
	targets []Target
}

func (rt route) callbacks(target Target, id uint32) []Registration {
	if rt.keyed {
		return target.Events().KeyedCallbacks(rt.cat, rt.entry, id)
	}
	return target.Events().Callbacks(rt.cat, id)
}

// route picks the category and the runtimes for a subject.
func (r *Router) route(subject Subject) (route, bool) {
	typed, ok := Identify(r.world, subject)
	if !ok {
		log.Printf("[Router] Cannot identify %s subject %+v", subject.Kind(), subject)
		return route{}, false
	}

	var rt route
	if cat, ok := GlobalCategory(typed.Kind()); ok {
		rt.cat = cat
	} else if cat, ok := KeyedCategory(typed.Kind()); ok {
		entry, _ := EntryOf(typed)
		rt.cat, rt.keyed, rt.entry = cat, true, entry
	} else {
		log.Printf("[Router] No event category for %s subjects", typed.Kind())
		return route{}, false
	}

	authority, hasAuthority := r.targets.Authority()
	if hasAuthority {
		rt.targets = append(rt.targets, authority)
	}

	key, ok := Resolve(r.world, typed)
	if ok && !key.IsAuthority() {
		owner, exists := r.targets.Lookup(key)
		if exists && (!hasAuthority || owner.Key() != authority.Key()) {
			rt.targets = append(rt.targets, owner)
		}
	}

	return rt, len(rt.targets) > 0
}

func call(target Target, reg Registration, args []lua.LValue) lua.LValue {
	result, err := target.Call(reg.Callback, args...)
	if err != nil {
		log.Printf("[Router] %s event %d callback on %s failed: %v", reg.Category, reg.EventID, target.Key(), err)
		return lua.LNil
	}
	return result
}

func vetoed(result lua.LValue) bool {
	b, ok := result.(lua.LBool)
	return ok && !bool(b)
}
