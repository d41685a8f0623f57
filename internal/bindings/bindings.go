// Package bindings installs the script-facing API into each runtime's interpreter.
//
// For every event category there is a Register<Name>Event and Clear<Name>Events
// function. Keyed categories take the entity entry as their first argument. Messaging
// functions move values between interpreters as JSON.
package bindings

import (
	"fmt"
	"math"

	json "github.com/alicebob/gopher-json"
	"github.com/dyluth/warren/internal/bus"
	"github.com/dyluth/warren/internal/event"
	"github.com/dyluth/warren/internal/instance"
	"github.com/dyluth/warren/internal/partition"
	lua "github.com/yuin/gopher-lua"
)

// Binder implements instance.Binder.
type Binder struct {
	router *event.Router
	bus    *bus.Bus
}

// New creates a binder over the process-wide router and bus.
func New(router *event.Router, b *bus.Bus) *Binder {
	return &Binder{
		router: router,
		bus:    b,
	}
}

// Bind installs every function and the Events table into rt's interpreter.
func (b *Binder) Bind(rt *instance.Runtime) error {
	L := rt.LState()
	if L == nil {
		return fmt.Errorf("runtime %s has no interpreter", rt.Key())
	}

	for _, info := range event.Categories() {
		cat := info.Category
		if info.Keyed {
			L.SetGlobal("Register"+info.Name+"Event", L.NewFunction(b.registerKeyed(rt, cat)))
		} else {
			L.SetGlobal("Register"+info.Name+"Event", L.NewFunction(b.register(rt, cat)))
		}
		L.SetGlobal("Clear"+info.Name+"Events", L.NewFunction(b.clear(rt, cat)))
	}

	L.SetGlobal("Events", eventsTable(L))

	L.SetFuncs(L.G.Global, map[string]lua.LGFunction{
		"GetPartitionKey": func(L *lua.LState) int {
			L.Push(lua.LNumber(rt.Key()))
			return 1
		},
		"IsAuthority": func(L *lua.LState) int {
			L.Push(lua.LBool(rt.Key().IsAuthority()))
			return 1
		},
		"SendMessage":            b.sendMessage(rt),
		"BroadcastMessage":       b.broadcastMessage(rt),
		"RegisterMessageHandler": b.registerMessageHandler(rt),
	})
	return nil
}

// eventsTable builds Events.<Category>.<Name> = id.
func eventsTable(L *lua.LState) *lua.LTable {
	events := L.NewTable()
	for _, info := range event.Categories() {
		tbl := L.CreateTable(0, len(info.Events))
		for name, id := range info.Events {
			tbl.RawSetString(name, lua.LNumber(id))
		}
		events.RawSetString(info.Name, tbl)
	}
	return events
}

// register handles Register<Name>Event(event, fn).
func (b *Binder) register(rt *instance.Runtime, cat event.Category) lua.LGFunction {
	return func(L *lua.LState) int {
		id := checkEventID(L, 1)
		fn := L.CheckFunction(2)
		if err := b.router.Register(rt, cat, id, fn); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

// registerKeyed handles Register<Name>Event(entry, event, fn).
func (b *Binder) registerKeyed(rt *instance.Runtime, cat event.Category) lua.LGFunction {
	return func(L *lua.LState) int {
		entry := checkEntry(L, 1)
		id := checkEventID(L, 2)
		fn := L.CheckFunction(3)
		if err := b.router.Register(rt, cat, id, fn, entry); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

// clear handles Clear<Name>Events([entry]).
func (b *Binder) clear(rt *instance.Runtime, cat event.Category) lua.LGFunction {
	return func(L *lua.LState) int {
		var err error
		if cat.Keyed() {
			err = b.router.Clear(rt, cat, checkEntry(L, 1))
		} else {
			err = b.router.Clear(rt, cat)
		}
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

// sendMessage handles SendMessage(to, type, value).
func (b *Binder) sendMessage(rt *instance.Runtime) lua.LGFunction {
	return func(L *lua.LState) int {
		to := checkPartition(L, 1)
		typ := L.CheckString(2)
		payload := encodeArg(L, 3)

		b.bus.Send(rt.Key(), to, typ, payload)
		return 0
	}
}

// broadcastMessage handles BroadcastMessage(type, value) and returns the number of
// partitions reached.
func (b *Binder) broadcastMessage(rt *instance.Runtime) lua.LGFunction {
	return func(L *lua.LState) int {
		typ := L.CheckString(1)
		payload := encodeArg(L, 2)

		L.Push(lua.LNumber(b.bus.Broadcast(rt.Key(), typ, payload)))
		return 1
	}
}

// registerMessageHandler handles RegisterMessageHandler(type, fn). The handler is
// called as fn(from, type, value) with value decoded inside this interpreter.
func (b *Binder) registerMessageHandler(rt *instance.Runtime) lua.LGFunction {
	return func(L *lua.LState) int {
		typ := L.CheckString(1)
		fn := L.CheckFunction(2)

		b.bus.RegisterHandler(rt.Key(), typ, func(msg bus.Message) error {
			state := rt.LState()
			if state == nil {
				return instance.ErrNotReady
			}

			value := lua.LValue(lua.LNil)
			if len(msg.Payload) > 0 {
				decoded, err := json.Decode(state, msg.Payload)
				if err != nil {
					return fmt.Errorf("failed to decode '%s' payload: %w", msg.Type, err)
				}
				value = decoded
			}

			_, err := rt.Call(fn, lua.LNumber(msg.From), lua.LString(msg.Type), value)
			return err
		})
		return 0
	}
}

func encodeArg(L *lua.LState, n int) []byte {
	value := L.Get(n)
	if value == lua.LNil {
		return nil
	}
	payload, err := json.Encode(value)
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return payload
}

func checkEventID(L *lua.LState, n int) uint32 {
	v := L.CheckInt64(n)
	if v <= 0 || v > math.MaxUint32 {
		L.ArgError(n, "event id must be between 1 and 4294967295")
	}
	return uint32(v)
}

func checkEntry(L *lua.LState, n int) uint32 {
	v := L.CheckInt64(n)
	if v < 0 || v > math.MaxUint32 {
		L.ArgError(n, "entry must be between 0 and 4294967295")
	}
	return uint32(v)
}

func checkPartition(L *lua.LState, n int) partition.Key {
	k := partition.Key(L.CheckInt(n))
	if err := partition.Validate(k); err != nil {
		L.ArgError(n, err.Error())
	}
	return k
}
