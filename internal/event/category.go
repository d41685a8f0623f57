// Package event routes host events to the Lua callbacks registered for them.
//
// Global events are registered per category and event id. Keyed events are scoped to
// an entity entry (a creature template, an item template) rather than a partition, so
// they are delivered to every runtime that subscribed, wherever it lives.
package event

import (
	"fmt"
	"sort"
)

// Category groups related event ids.
type Category int

const (
	CategoryServer Category = iota
	CategoryPlayer
	CategoryPartition
	CategoryCreature
	CategoryGameObject
	CategoryItem
	CategoryGossip
)

// CategoryInfo describes one category. The table below is the single place a category
// is declared; bindings and dispatch both read it.
type CategoryInfo struct {
	Category Category
	Name     string // script-facing name, e.g. RegisterCreatureEvent
	Keyed    bool
	Events   map[string]uint32
}

var categories = []CategoryInfo{
	{Category: CategoryServer, Name: "Server", Events: map[string]uint32{
		"StateOpen":  ServerStateOpen,
		"StateClose": ServerStateClose,
		"Tick":       ServerTick,
	}},
	{Category: CategoryPlayer, Name: "Player", Events: map[string]uint32{
		"Login":       PlayerLogin,
		"Logout":      PlayerLogout,
		"Chat":        PlayerChat,
		"Kill":        PlayerKill,
		"Death":       PlayerDeath,
		"LevelChange": PlayerLevelChange,
	}},
	{Category: CategoryPartition, Name: "Partition", Events: map[string]uint32{
		"Create":  PartitionCreate,
		"Destroy": PartitionDestroy,
		"Enter":   PartitionEnter,
		"Leave":   PartitionLeave,
		"Update":  PartitionUpdate,
	}},
	{Category: CategoryCreature, Name: "Creature", Keyed: true, Events: map[string]uint32{
		"Spawn":   CreatureSpawn,
		"Despawn": CreatureDespawn,
		"Aggro":   CreatureAggro,
		"Death":   CreatureDeath,
	}},
	{Category: CategoryGameObject, Name: "GameObject", Keyed: true, Events: map[string]uint32{
		"Spawn":   GameObjectSpawn,
		"Use":     GameObjectUse,
		"Despawn": GameObjectDespawn,
	}},
	{Category: CategoryItem, Name: "Item", Keyed: true, Events: map[string]uint32{
		"Use":    ItemUse,
		"Equip":  ItemEquip,
		"Expire": ItemExpire,
	}},
	{Category: CategoryGossip, Name: "Gossip", Keyed: true, Events: map[string]uint32{
		"Hello":  GossipHello,
		"Select": GossipSelect,
	}},
}

// Server events.
const (
	ServerStateOpen  uint32 = 1 // runtime finished loading its scripts
	ServerStateClose uint32 = 2 // runtime is about to close
	ServerTick       uint32 = 3
)

// Player events.
const (
	PlayerLogin       uint32 = 1
	PlayerLogout      uint32 = 2
	PlayerChat        uint32 = 3 // vetoable
	PlayerKill        uint32 = 4
	PlayerDeath       uint32 = 5
	PlayerLevelChange uint32 = 6
)

// Partition events.
const (
	PartitionCreate  uint32 = 1
	PartitionDestroy uint32 = 2
	PartitionEnter   uint32 = 3
	PartitionLeave   uint32 = 4
	PartitionUpdate  uint32 = 5
)

// Creature events, keyed by creature entry.
const (
	CreatureSpawn   uint32 = 1
	CreatureDespawn uint32 = 2
	CreatureAggro   uint32 = 3
	CreatureDeath   uint32 = 4
)

// GameObject events, keyed by gameobject entry.
const (
	GameObjectSpawn   uint32 = 1
	GameObjectUse     uint32 = 2 // vetoable
	GameObjectDespawn uint32 = 3
)

// Item events, keyed by item entry.
const (
	ItemUse    uint32 = 1 // vetoable
	ItemEquip  uint32 = 2
	ItemExpire uint32 = 3
)

// Gossip events, keyed by the entry of the creature, gameobject or item spoken to.
const (
	GossipHello  uint32 = 1 // vetoable
	GossipSelect uint32 = 2
)

// Categories returns the category table in declaration order.
func Categories() []CategoryInfo {
	out := make([]CategoryInfo, len(categories))
	copy(out, categories)
	return out
}

func (c Category) info() (CategoryInfo, bool) {
	if c < 0 || int(c) >= len(categories) {
		return CategoryInfo{}, false
	}
	return categories[c], true
}

// Name returns the script-facing name.
func (c Category) Name() string {
	info, ok := c.info()
	if !ok {
		return ""
	}
	return info.Name
}

// Keyed reports whether registrations in c are scoped to an entity entry.
func (c Category) Keyed() bool {
	info, _ := c.info()
	return info.Keyed
}

// Valid reports whether c is a declared category.
func (c Category) Valid() bool {
	_, ok := c.info()
	return ok
}

func (c Category) String() string {
	if name := c.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// EventNames returns the event names declared for c, sorted.
func (c Category) EventNames() []string {
	info, ok := c.info()
	if !ok {
		return nil
	}
	names := make([]string, 0, len(info.Events))
	for name := range info.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventID looks up an event id by name within c.
func (c Category) EventID(name string) (uint32, bool) {
	info, ok := c.info()
	if !ok {
		return 0, false
	}
	id, ok := info.Events[name]
	return id, ok
}
