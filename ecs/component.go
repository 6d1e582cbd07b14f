package ecs

import (
	"reflect"

	"github.com/RoaringBitmap/roaring/v2"
)

// ComponentID is a packed 32-bit component identifier: the low 24 bits
// form a dense index into the registry, the high bits carry relation
// flags. A registered relation occupies a single registry slot but is
// addressable under two ids that differ only in the target bit,
// representing the origin and target facets.
type ComponentID uint32

const (
	flagRelation ComponentID = 1 << 31
	flagTarget   ComponentID = 1 << 30

	componentIndexMask ComponentID = 1<<24 - 1
)

// RelationFlag modifies the behavior of a registered relation.
type RelationFlag uint32

const (
	// Exclusive limits an origin to a single target: adding a second
	// target replaces the first.
	Exclusive RelationFlag = 1 << 29
	// Symmetric makes Rel(a,b) imply Rel(b,a); origin and target share
	// one facet.
	Symmetric RelationFlag = 1 << 28
	// Cascading destroys all targets of an origin when the origin is
	// destroyed.
	Cascading RelationFlag = 1 << 27
	// Transitive makes Rel(a,b) and Rel(b,c) imply Rel(a,c) for
	// reachability checks and query edges.
	Transitive RelationFlag = 1 << 26
)

func (c ComponentID) index() int {
	return int(c & componentIndexMask)
}

func (c ComponentID) isRelation() bool {
	return c&flagRelation != 0
}

func (c ComponentID) isTarget() bool {
	return c.isRelation() && c&flagTarget != 0
}

// flipTarget switches between the origin and target facet of a
// relation. For symmetric relations both directions share one facet,
// so flipTarget is the identity.
func (c ComponentID) flipTarget() ComponentID {
	if c.isSymmetric() {
		return c
	}
	return c ^ flagTarget
}

// isExclusive reports the flag for the origin facet only.
func (c ComponentID) isExclusive() bool {
	return c.isRelation() && c&ComponentID(Exclusive) != 0 && !c.isTarget()
}

func (c ComponentID) isSymmetric() bool {
	return c.isRelation() && c&ComponentID(Symmetric) != 0
}

// isCascading reports the flag for the origin facet only.
func (c ComponentID) isCascading() bool {
	return c.isRelation() && c&ComponentID(Cascading) != 0 && !c.isTarget()
}

func (c ComponentID) isTransitive() bool {
	return c.isRelation() && c&ComponentID(Transitive) != 0
}

// componentInfo is the registry record for one component or relation
// type.
type componentInfo struct {
	id   ComponentID
	name string
	typ  reflect.Type
	// layout of a column element; components with size 0 have no column
	size  uintptr
	align uintptr
	// newColumn manufactures a column for this component's payload:
	// cell[T] for components, relationVec for relation facets
	newColumn func() column
	// shared is the single borrow cell backing all instances of a
	// zero-sized component (set-membership only, no column)
	shared any
	// archetype membership, split by facet: relation targets are
	// tracked separately from origins
	archetypes       *roaring.Bitmap
	targetArchetypes *roaring.Bitmap
}

func newComponentInfo(id ComponentID, typ reflect.Type, name string, newColumn func() column, shared any) *componentInfo {
	return &componentInfo{
		id:               id,
		name:             name,
		typ:              typ,
		size:             typ.Size(),
		align:            uintptr(typ.Align()),
		newColumn:        newColumn,
		shared:           shared,
		archetypes:       roaring.New(),
		targetArchetypes: roaring.New(),
	}
}

func (c *componentInfo) zeroSized() bool {
	return c.size == 0
}

func (c *componentInfo) insertArchetype(aid ArchetypeID, cid ComponentID) {
	if cid.isTarget() {
		c.targetArchetypes.Add(uint32(aid))
	} else {
		c.archetypes.Add(uint32(aid))
	}
}

func (c *componentInfo) hasArchetype(aid ArchetypeID, cid ComponentID) bool {
	return c.bitsetFor(cid).Contains(uint32(aid))
}

func (c *componentInfo) bitsetFor(cid ComponentID) *roaring.Bitmap {
	if cid.isTarget() {
		return c.targetArchetypes
	}
	return c.archetypes
}

// updateType is the hot-reload path: a replacement type is accepted
// only when its layout is bitwise-equal to the registered one, in which
// case the column factory is refreshed. The registry slot, id and
// archetype membership are untouched.
func (c *componentInfo) updateType(typ reflect.Type, newColumn func() column, shared any) error {
	if typ.Size() != c.size || uintptr(typ.Align()) != c.align {
		return ErrDifferingLayout
	}
	c.typ = typ
	c.newColumn = newColumn
	c.shared = shared
	return nil
}
