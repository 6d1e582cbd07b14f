package ecs

import (
	"encoding/binary"
	"reflect"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/kamstrup/intmap"
)

// compKey identifies a registration: the same Go type may be registered
// both as a component and as a relation, under distinct slots.
type compKey struct {
	typ      reflect.Type
	relation bool
}

// bookkeeping is the central mutator. It owns the component registry,
// the archetype list, the entity store and the exact-set index, and is
// the only place structural changes happen. No method here is generic;
// the generic shims live in world.go.
type bookkeeping struct {
	componentMap map[compKey]ComponentID
	// nameMap guards against two distinct types sharing a display name
	// (same base name in different packages)
	nameMap    map[string]compKey
	components []*componentInfo
	archetypes []*archetype
	entities   entityStore
	// exactArchetype maps a full sorted component set (including
	// zero-sized members) to the archetype holding exactly that set
	exactArchetype map[string]ArchetypeID
}

const emptyArchetypeID = ArchetypeID(0)

func newBookkeeping() bookkeeping {
	b := bookkeeping{
		componentMap:   make(map[compKey]ComponentID),
		nameMap:        make(map[string]compKey),
		exactArchetype: make(map[string]ArchetypeID),
	}
	b.archetypes = append(b.archetypes, newArchetypeStorage(nil, nil))
	b.exactArchetype[archetypeKey(nil)] = emptyArchetypeID
	return b
}

func archetypeKey(cids []ComponentID) string {
	buf := make([]byte, 4*len(cids))
	for i, cid := range cids {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(cid))
	}
	return string(buf)
}

// register allocates a fresh id, or returns the existing one: repeated
// registration of the same type is idempotent and flags are fixed at
// first registration.
func (b *bookkeeping) register(key compKey, name string, flags ComponentID, newCol func() column, shared any) (ComponentID, error) {
	if cid, ok := b.componentMap[key]; ok {
		return cid, nil
	}
	if existing, ok := b.nameMap[name]; ok && existing != key {
		return 0, ErrNameTaken
	}
	cid := ComponentID(len(b.components)) | flags
	b.components = append(b.components, newComponentInfo(cid, key.typ, name, newCol, shared))
	b.componentMap[key] = cid
	b.nameMap[name] = key
	return cid, nil
}

func (b *bookkeeping) lookup(key compKey) (ComponentID, bool) {
	cid, ok := b.componentMap[key]
	return cid, ok
}

func (b *bookkeeping) isAlive(e Entity) bool {
	return b.entities.isAlive(e)
}

// create places a fresh entity into the empty archetype.
func (b *bookkeeping) create() Entity {
	e := b.entities.create()
	empty := b.archetypes[emptyArchetypeID]
	row := ArchetypeRow(len(empty.entities))
	empty.entities = append(empty.entities, e.ID)
	b.entities.setArchetype(e, emptyArchetypeID, row)
	return e
}

// ensureAlive makes a specific id live, extending or re-linking the
// free list as needed. Safe to call for ids predicted by deferred
// creation before they are realized.
func (b *bookkeeping) ensureAlive(id EntityID) Entity {
	e, wasAlive := b.entities.forceAlive(id)
	if !wasAlive {
		empty := b.archetypes[emptyArchetypeID]
		row := ArchetypeRow(len(empty.entities))
		empty.entities = append(empty.entities, e.ID)
		b.entities.setArchetype(e, emptyArchetypeID, row)
	}
	return e
}

// getComponentPtr returns the column slot of a sized component as a
// typed pointer (any). Panics when the entity is dead or the component
// absent.
func (b *bookkeeping) getComponentPtr(e Entity, cid ComponentID) any {
	if !b.entities.isAlive(e) {
		panic("ecs: component access on a dead entity")
	}
	aid, row := b.entities.archetypeOf(e)
	return b.archetypes[aid].findColumn(cid).at(int(row))
}

// getComponentOpt is the unchecked variant used during traversal: the
// id must belong to a live slot.
func (b *bookkeeping) getComponentOpt(id EntityID, cid ComponentID) (any, bool) {
	aid, row := b.entities.archetypeOfID(id)
	col := b.archetypes[aid].findColumnOpt(cid)
	if col == nil {
		return nil, false
	}
	return col.at(int(row)), true
}

func (b *bookkeeping) hasComponent(e Entity, cid ComponentID) bool {
	if !b.entities.isAlive(e) {
		return false
	}
	aid, _ := b.entities.archetypeOf(e)
	return b.components[cid.index()].hasArchetype(aid, cid)
}

func (b *bookkeeping) findArchetypeOrCreate(cids []ComponentID) ArchetypeID {
	key := archetypeKey(cids)
	if aid, ok := b.exactArchetype[key]; ok {
		return aid
	}

	newAid := ArchetypeID(len(b.archetypes))
	for _, cid := range cids {
		b.components[cid.index()].insertArchetype(newAid, cid)
	}
	columns := make([]column, len(cids))
	for i, cid := range cids {
		info := b.components[cid.index()]
		if cid.isRelation() || !info.zeroSized() {
			columns[i] = info.newColumn()
		}
	}
	b.archetypes = append(b.archetypes, newArchetypeStorage(cids, columns))
	b.exactArchetype[key] = newAid
	return newAid
}

// addComponent moves the entity into the archetype extended by cid and
// returns the freshly grown column slot for the caller to fill
// ("half-push"). The component must be sized and not yet present.
func (b *bookkeeping) addComponent(e Entity, cid ComponentID) any {
	newAid, newCol := b.addToSet(e, cid)
	col := b.archetypes[newAid].columns[newCol]
	return col.at(col.extend())
}

// addComponentZST records set membership for a zero-sized component.
func (b *bookkeeping) addComponentZST(e Entity, cid ComponentID) {
	b.addToSet(e, cid)
}

func (b *bookkeeping) addToSet(e Entity, cid ComponentID) (ArchetypeID, int) {
	oldAid, oldRow := b.entities.archetypeOf(e)
	old := b.archetypes[oldAid]

	cids := make([]ComponentID, 0, len(old.components)+1)
	cids = append(cids, old.components...)
	cids = append(cids, cid)
	slices.Sort(cids)
	newCol := slices.Index(cids, cid)

	newAid := b.findArchetypeOrCreate(cids)
	newA := b.archetypes[newAid]
	moveRow(old, newA, oldRow)

	newRow := ArchetypeRow(len(newA.entities) - 1)
	b.entities.setArchetype(e, newAid, newRow)
	if int(oldRow) < len(old.entities) {
		// a tail entity was swapped into the vacated row
		moved := old.entities[oldRow]
		b.entities.setArchetypeUnchecked(moved, oldAid, oldRow)
	}
	return newAid, newCol
}

// removeComponent moves the entity into the archetype without cid and
// drops the orphaned column element. Removing an absent component is a
// silent no-op.
func (b *bookkeeping) removeComponent(e Entity, cid ComponentID) {
	if !b.hasComponent(e, cid) {
		return
	}
	oldAid, oldRow := b.entities.archetypeOf(e)
	old := b.archetypes[oldAid]
	removedCol := old.columnIndex(cid)

	cids := make([]ComponentID, 0, len(old.components)-1)
	for _, c := range old.components {
		if c != cid {
			cids = append(cids, c)
		}
	}
	newAid := b.findArchetypeOrCreate(cids)
	newA := b.archetypes[newAid]
	moveRow(old, newA, oldRow)
	if col := old.columns[removedCol]; col != nil {
		// the element is reachable from neither archetype now; drop it
		col.swapRemove(int(oldRow))
	}

	newRow := ArchetypeRow(len(newA.entities) - 1)
	b.entities.setArchetype(e, newAid, newRow)
	if int(oldRow) < len(old.entities) {
		moved := old.entities[oldRow]
		b.entities.setArchetypeUnchecked(moved, oldAid, oldRow)
	}
}

// matchingArchetypes intersects the membership bitsets of the with-set
// and subtracts the union of the without-set. An empty with-set ranges
// over every current archetype.
func (b *bookkeeping) matchingArchetypes(with, without []ComponentID) []ArchetypeID {
	var acc *roaring.Bitmap
	if len(with) > 0 {
		acc = b.components[with[0].index()].bitsetFor(with[0]).Clone()
		for _, cid := range with[1:] {
			acc.And(b.components[cid.index()].bitsetFor(cid))
		}
	}
	if len(without) > 0 {
		union := roaring.New()
		for _, cid := range without {
			union.Or(b.components[cid.index()].bitsetFor(cid))
		}
		if acc == nil {
			ids := make([]ArchetypeID, 0, len(b.archetypes))
			for i := range b.archetypes {
				if !union.Contains(uint32(i)) {
					ids = append(ids, ArchetypeID(i))
				}
			}
			return ids
		}
		acc.AndNot(union)
	}
	if acc == nil {
		ids := make([]ArchetypeID, len(b.archetypes))
		for i := range ids {
			ids[i] = ArchetypeID(i)
		}
		return ids
	}
	raw := acc.ToArray()
	ids := make([]ArchetypeID, len(raw))
	for i, v := range raw {
		ids[i] = ArchetypeID(v)
	}
	return ids
}

// destroy removes an entity and keeps the relation model consistent:
// every partner's reverse facet is cleaned first (facet components are
// removed when their vector empties), then the entity's own row, then
// cascading targets are destroyed recursively. Destroying a dead
// entity is a silent no-op.
func (b *bookkeeping) destroy(e Entity) {
	if !b.entities.isAlive(e) {
		return
	}
	aid, row := b.entities.archetypeOf(e)
	a := b.archetypes[aid]

	type cleanup struct {
		cid     ComponentID
		partner EntityID
	}
	var toClean []cleanup
	var toDestroy []EntityID
	for i, cid := range a.components {
		if !cid.isRelation() {
			continue
		}
		vec := a.columns[i].at(int(row)).(*relationVec)
		flipped := cid.flipTarget()
		for _, partner := range vec.slice() {
			if partner == e.ID {
				continue // self relation, handled by the row deletion
			}
			toClean = append(toClean, cleanup{cid: flipped, partner: partner})
		}
		if cid.isCascading() {
			toDestroy = append(toDestroy, vec.slice()...)
		}
	}

	for _, c := range toClean {
		paid, prow := b.entities.archetypeOfID(c.partner)
		vec := b.archetypes[paid].findColumn(c.cid).at(int(prow)).(*relationVec)
		vec.remove(e.ID)
		if vec.len() == 0 {
			b.removeComponent(b.entities.fromID(c.partner), c.cid)
		}
	}

	// partner transitions may have shuffled this archetype; re-resolve
	aid, row = b.entities.archetypeOf(e)
	a = b.archetypes[aid]
	swapped := a.deleteRow(row)
	b.entities.destroy(e)
	if swapped {
		moved := a.entities[row]
		b.entities.setArchetypeUnchecked(moved, aid, row)
	}

	for _, id := range toDestroy {
		if id == e.ID {
			continue
		}
		if int(id) < len(b.entities.slots) && b.entities.slots[id].gen.alive() {
			b.destroy(b.entities.fromID(id))
		}
	}
}

// addRelation adds to on the origin facet of from and from on the
// target facet of to; symmetric relations use one facet for both
// directions. For exclusive relations the existing target is replaced.
func (b *bookkeeping) addRelation(cid ComponentID, from, to Entity) {
	b.addRelationHalf(cid, from, to)
	b.addRelationHalf(cid.flipTarget(), to, from)
}

func (b *bookkeeping) addRelationHalf(cid ComponentID, e, other Entity) {
	if b.hasComponent(e, cid) {
		vec := b.getComponentPtr(e, cid).(*relationVec)
		if cid.isExclusive() {
			vec.slice()[0] = other.ID
		} else {
			vec.push(other.ID)
		}
		return
	}
	vec := b.addComponent(e, cid).(*relationVec)
	vec.push(other.ID)
}

// removeRelation removes both sides; the facet component disappears
// when its vector becomes empty. Removing a non-existent relation is a
// silent no-op.
func (b *bookkeeping) removeRelation(cid ComponentID, from, to Entity) {
	b.removeRelationHalf(cid, from, to)
	b.removeRelationHalf(cid.flipTarget(), to, from)
}

func (b *bookkeeping) removeRelationHalf(cid ComponentID, e, other Entity) {
	if !b.hasComponent(e, cid) {
		return
	}
	vec := b.getComponentPtr(e, cid).(*relationVec)
	vec.remove(other.ID)
	if vec.len() == 0 {
		b.removeComponent(e, cid)
	}
}

// hasRelation checks the origin facet of from for to. Transitive
// relations follow the relation graph with a visited set, so cyclic
// graphs terminate.
func (b *bookkeeping) hasRelation(cid ComponentID, from, to Entity) bool {
	if !b.hasComponent(from, cid) {
		return false
	}
	vec := b.getComponentPtr(from, cid).(*relationVec)
	if vec.contains(to.ID) {
		return true
	}
	if !cid.isTransitive() {
		return false
	}

	visited := intmap.New[uint32, struct{}](16)
	work := slices.Clone(vec.slice())
	for _, id := range work {
		visited.Put(uint32(id), struct{}{})
	}
	for len(work) > 0 {
		current := work[len(work)-1]
		work = work[:len(work)-1]
		ptr, ok := b.getComponentOpt(current, cid)
		if !ok {
			continue
		}
		next := ptr.(*relationVec)
		if next.contains(to.ID) {
			return true
		}
		for _, id := range next.slice() {
			if _, seen := visited.Get(uint32(id)); !seen {
				visited.Put(uint32(id), struct{}{})
				work = append(work, id)
			}
		}
	}
	return false
}

// relationPartners yields the entities directly referenced by the
// given facet on e. Transitive expansion is the caller's concern.
func (b *bookkeeping) relationPartners(cid ComponentID, e Entity) []Entity {
	if !b.hasComponent(e, cid) {
		return nil
	}
	vec := b.getComponentPtr(e, cid).(*relationVec)
	out := make([]Entity, 0, vec.len())
	for _, id := range vec.slice() {
		out = append(out, b.entities.fromID(id))
	}
	return out
}

// relationPairs lists every (origin, target) pair of the relation as
// stored; symmetric relations report each pair in both directions.
func (b *bookkeeping) relationPairs(cid ComponentID) [][2]Entity {
	var pairs [][2]Entity
	info := b.components[cid.index()]
	it := info.bitsetFor(cid).Iterator()
	for it.HasNext() {
		aid := ArchetypeID(it.Next())
		a := b.archetypes[aid]
		col := a.findColumn(cid)
		for row, id := range a.entities {
			from := b.entities.fromID(id)
			vec := col.at(row).(*relationVec)
			for _, to := range vec.slice() {
				pairs = append(pairs, [2]Entity{from, b.entities.fromID(to)})
			}
		}
	}
	return pairs
}

// realizeDeferred turns every outstanding deferred creation into a real
// entity, in prediction order.
func (b *bookkeeping) realizeDeferred() {
	n := b.entities.realizeDeferred()
	for range n {
		b.create()
	}
}
