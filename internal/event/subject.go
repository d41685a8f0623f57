package event

import (
	"github.com/dyluth/warren/internal/partition"
)

// Kind tags the variants of Subject.
type Kind int

const (
	KindGlobal Kind = iota
	KindPartition
	KindPlayer
	KindCreature
	KindGameObject
	KindItem
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindPartition:
		return "partition"
	case KindPlayer:
		return "player"
	case KindCreature:
		return "creature"
	case KindGameObject:
		return "gameobject"
	case KindItem:
		return "item"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Subject is whatever triggered an event. The concrete types below are the only
// implementations.
type Subject interface {
	Kind() Kind
}

// Global is the world itself; it belongs to no partition.
type Global struct{}

// Partition is a partition acting as a subject.
type Partition struct {
	Key partition.Key
}

// Player is a connected player.
type Player struct {
	GUID uint64
}

// Creature is a non-player entity.
type Creature struct {
	GUID  uint64
	Entry uint32
}

// GameObject is a world object such as a door or chest.
type GameObject struct {
	GUID  uint64
	Entry uint32
}

// Item is an item, usually in a player's inventory.
type Item struct {
	GUID  uint64
	Entry uint32
}

// Object is a raw identifier whose kind must be looked up before routing.
type Object struct {
	GUID uint64
}

func (Global) Kind() Kind     { return KindGlobal }
func (Partition) Kind() Kind  { return KindPartition }
func (Player) Kind() Kind     { return KindPlayer }
func (Creature) Kind() Kind   { return KindCreature }
func (GameObject) Kind() Kind { return KindGameObject }
func (Item) Kind() Kind       { return KindItem }
func (Object) Kind() Kind     { return KindObject }

// globalCategories maps a subject kind to the category of its global events.
var globalCategories = map[Kind]Category{
	KindGlobal:    CategoryServer,
	KindPartition: CategoryPartition,
	KindPlayer:    CategoryPlayer,
}

// keyedCategories maps a subject kind to the category of its keyed events.
var keyedCategories = map[Kind]Category{
	KindCreature:   CategoryCreature,
	KindGameObject: CategoryGameObject,
	KindItem:       CategoryItem,
}

// GlobalCategory returns the global event category for subjects of kind k.
func GlobalCategory(k Kind) (Category, bool) {
	c, ok := globalCategories[k]
	return c, ok
}

// KeyedCategory returns the keyed event category for subjects of kind k.
func KeyedCategory(k Kind) (Category, bool) {
	c, ok := keyedCategories[k]
	return c, ok
}

// EntryOf returns the entity entry that keyed subscriptions for s are filed under.
func EntryOf(s Subject) (uint32, bool) {
	switch v := s.(type) {
	case Creature:
		return v.Entry, true
	case GameObject:
		return v.Entry, true
	case Item:
		return v.Entry, true
	default:
		return 0, false
	}
}

// World answers questions about live entities. The host provides it.
type World interface {
	// Identify returns the typed subject for a raw GUID.
	Identify(guid uint64) (Subject, bool)
	// PartitionOf returns the partition an entity currently belongs to.
	PartitionOf(guid uint64) (partition.Key, bool)
	// OwnerOf returns the GUID of the player holding an item.
	OwnerOf(itemGUID uint64) (uint64, bool)
}

// Resolve returns the partition that owns subject.
//
// A partition resolves to itself and the global subject to the authority. Players,
// creatures and gameobjects resolve to their current partition. Items follow their
// owner, falling back to their own location when unowned. A raw Object is identified
// first and then resolved as its real kind.
func Resolve(world World, subject Subject) (partition.Key, bool) {
	switch s := subject.(type) {
	case Global:
		return partition.Authority, true
	case Partition:
		return s.Key, true
	}

	if world == nil {
		return 0, false
	}

	switch s := subject.(type) {
	case Player:
		return world.PartitionOf(s.GUID)
	case Creature:
		return world.PartitionOf(s.GUID)
	case GameObject:
		return world.PartitionOf(s.GUID)
	case Item:
		if owner, ok := world.OwnerOf(s.GUID); ok {
			return world.PartitionOf(owner)
		}
		return world.PartitionOf(s.GUID)
	case Object:
		typed, ok := Identify(world, s)
		if !ok {
			return 0, false
		}
		return Resolve(world, typed)
	}
	return 0, false
}

// Identify turns a raw Object into its typed subject. Typed subjects are returned
// unchanged.
func Identify(world World, subject Subject) (Subject, bool) {
	obj, ok := subject.(Object)
	if !ok {
		return subject, true
	}
	if world == nil {
		return nil, false
	}
	typed, ok := world.Identify(obj.GUID)
	if !ok || typed == nil || typed.Kind() == KindObject {
		return nil, false
	}
	return typed, true
}
