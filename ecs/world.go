package ecs

import (
	"iter"
	"reflect"

	"github.com/TheBitDrifter/bark"
)

// World owns all entity, component and relation state. It is a value
// held by the caller: there is no process-wide instance, and a world
// must not be shared between goroutines without external
// synchronization. Every world has one distinguished singleton entity,
// created at initialization and never destroyed, for world-scoped
// components.
//
// Component and relation operations are package-level generic
// functions taking the world as their first argument (methods cannot
// be generic); entity-level operations are methods.
type World struct {
	bk        bookkeeping
	queue     deferredQueue
	singleton Entity
}

// NewWorld creates an empty world with its singleton entity.
func NewWorld() *World {
	w := &World{bk: newBookkeeping()}
	w.singleton = w.bk.create()
	return w
}

// CreateEntity creates a live entity carrying no components.
func (w *World) CreateEntity() Entity {
	return w.bk.create()
}

// CreateDeferred predicts the entity the next creation will produce
// without creating it; the handle becomes live when Process runs.
// Useful for wiring up entities from inside a query loop.
func (w *World) CreateDeferred() Entity {
	return w.bk.entities.createDeferred()
}

// EnsureAlive makes the entity with the given id live, reviving or
// extending the store as needed, and returns its current handle. Safe
// to call for handles predicted by CreateDeferred.
func (w *World) EnsureAlive(id EntityID) Entity {
	return w.bk.ensureAlive(id)
}

func (w *World) IsAlive(e Entity) bool {
	return w.bk.isAlive(e)
}

// Destroy removes the entity, cleans up both sides of all its
// relations and cascades along cascading relations. Destroying a dead
// entity is a no-op.
func (w *World) Destroy(e Entity) {
	w.bk.destroy(e)
}

// SingletonEntity returns the world's distinguished singleton entity.
func (w *World) SingletonEntity() Entity {
	return w.singleton
}

// Query compiles the terms into a join plan and returns the resumable
// query. Planning inspects the current archetype set, so compile after
// the relevant entities exist.
func (w *World) Query(terms ...Term) *Query {
	return newQuery(w, compilePlan(w, terms))
}

// Process drains the deferred queue: all predicted entity creations
// are realized first, so the ids handed out during the deferred phase
// land in the slots the predictions named, then the recorded
// operations replay in insertion order.
func (w *World) Process() {
	w.bk.realizeDeferred()
	for _, op := range w.queue.drain() {
		switch op.kind {
		case deferredDestroy:
			w.bk.destroy(op.entity)
		case deferredAddComponent:
			op.apply(w)
		case deferredRemoveComponent:
			cid, ok := w.bk.lookup(op.key)
			if !ok {
				panic("ecs: cannot register a component in a deferred context")
			}
			w.bk.removeComponent(op.entity, cid)
		case deferredAddRelation:
			cid, ok := w.bk.lookup(op.key)
			if !ok {
				panic("ecs: cannot register a relation in a deferred context")
			}
			if w.bk.isAlive(op.entity) && w.bk.isAlive(op.other) {
				w.bk.addRelation(cid, op.entity, op.other)
			}
		case deferredRemoveRelation:
			cid, ok := w.bk.lookup(op.key)
			if !ok {
				panic("ecs: cannot register a relation in a deferred context")
			}
			if w.bk.isAlive(op.entity) && w.bk.isAlive(op.other) {
				w.bk.removeRelation(cid, op.entity, op.other)
			}
		}
	}
}

// DeferDestroy queues a destroy for the next Process.
func (w *World) DeferDestroy(e Entity) {
	w.queue.push(deferredOp{kind: deferredDestroy, entity: e})
}

func componentName(typ reflect.Type, relation bool) string {
	if relation {
		return typ.String() + " (relation)"
	}
	return typ.String()
}

func registerComponentKey[T any](w *World) ComponentID {
	typ := reflect.TypeFor[T]()
	key := compKey{typ: typ}
	cid, err := w.bk.register(key, componentName(typ, false), 0,
		newColumn[cell[T]], &cell[T]{})
	if err != nil {
		panic(bark.AddTrace(err))
	}
	return cid
}

func registerRelationKey[T any](w *World, flags RelationFlag) ComponentID {
	typ := reflect.TypeFor[T]()
	key := compKey{typ: typ, relation: true}
	cid, err := w.bk.register(key, componentName(typ, true),
		flagRelation|ComponentID(flags), newColumn[relationVec], nil)
	if err != nil {
		panic(bark.AddTrace(err))
	}
	return cid
}

func componentID(b *bookkeeping, typ reflect.Type) (ComponentID, bool) {
	return b.lookup(compKey{typ: typ})
}

func relationID(b *bookkeeping, typ reflect.Type) (ComponentID, bool) {
	return b.lookup(compKey{typ: typ, relation: true})
}

func mustComponentID[T any](w *World) ComponentID {
	cid, ok := componentID(&w.bk, reflect.TypeFor[T]())
	if !ok {
		panic("ecs: component type " + reflect.TypeFor[T]().String() + " is not registered")
	}
	return cid
}

func mustRelationID[T any](w *World) ComponentID {
	cid, ok := relationID(&w.bk, reflect.TypeFor[T]())
	if !ok {
		panic("ecs: relation type " + reflect.TypeFor[T]().String() + " is not registered")
	}
	return cid
}

// RegisterComponent registers T as a component type. Registration is
// idempotent; the id of an already registered type is returned as is.
func RegisterComponent[T any](w *World) ComponentID {
	return registerComponentKey[T](w)
}

// RegisterRelation registers T as a relation type with the given
// flags. Flags are fixed at first registration.
func RegisterRelation[T any](w *World, flags RelationFlag) ComponentID {
	return registerRelationKey[T](w, flags)
}

// ReRegisterComponent is the hot-reload path: it re-points the
// registration of T's name at the current type. The replacement is
// accepted only when the layout is bitwise-equal to the registered
// one; on success the column factory is refreshed.
func ReRegisterComponent[T any](w *World) error {
	typ := reflect.TypeFor[T]()
	name := componentName(typ, false)
	oldKey, ok := w.bk.nameMap[name]
	if !ok {
		return ErrNotRegistered
	}
	cid := w.bk.componentMap[oldKey]
	info := w.bk.components[cid.index()]
	if err := info.updateType(typ, newColumn[cell[T]], &cell[T]{}); err != nil {
		return err
	}
	key := compKey{typ: typ}
	delete(w.bk.componentMap, oldKey)
	w.bk.componentMap[key] = cid
	w.bk.nameMap[name] = key
	return nil
}

// AddComponent attaches value v of component T to the entity,
// registering T on first use. Adding a component the entity already
// carries overwrites the value without an archetype change.
func AddComponent[T any](w *World, e Entity, v T) {
	cid := registerComponentKey[T](w)
	if !w.bk.isAlive(e) {
		panic("ecs: add component on a dead entity")
	}
	info := w.bk.components[cid.index()]
	if info.zeroSized() {
		if !w.bk.hasComponent(e, cid) {
			w.bk.addComponentZST(e, cid)
		}
		return
	}
	var c *cell[T]
	if w.bk.hasComponent(e, cid) {
		c = w.bk.getComponentPtr(e, cid).(*cell[T])
	} else {
		c = w.bk.addComponent(e, cid).(*cell[T])
	}
	c.acquireWrite()
	c.value = v
	c.releaseWrite()
}

// GetComponent returns a shared borrow of component T on the entity.
// Panics when the entity is dead or does not carry T.
func GetComponent[T any](w *World, e Entity) Ref[T] {
	c := componentCell[T](w, e)
	c.acquireRead()
	return Ref[T]{c: c}
}

// GetComponentMut returns an exclusive borrow of component T on the
// entity. Panics when the entity is dead or does not carry T.
func GetComponentMut[T any](w *World, e Entity) RefMut[T] {
	c := componentCell[T](w, e)
	c.acquireWrite()
	return RefMut[T]{c: c}
}

func componentCell[T any](w *World, e Entity) *cell[T] {
	cid := mustComponentID[T](w)
	info := w.bk.components[cid.index()]
	if info.zeroSized() {
		if !w.bk.hasComponent(e, cid) {
			panic("ecs: entity does not carry component " + info.name)
		}
		return info.shared.(*cell[T])
	}
	return w.bk.getComponentPtr(e, cid).(*cell[T])
}

func HasComponent[T any](w *World, e Entity) bool {
	cid, ok := componentID(&w.bk, reflect.TypeFor[T]())
	if !ok {
		return false
	}
	return w.bk.hasComponent(e, cid)
}

// RemoveComponent detaches T from the entity. Removing an absent
// component is a silent no-op.
func RemoveComponent[T any](w *World, e Entity) {
	cid, ok := componentID(&w.bk, reflect.TypeFor[T]())
	if !ok {
		return
	}
	w.bk.removeComponent(e, cid)
}

// TakeComponent removes T from the entity and returns its value, or
// reports absence.
func TakeComponent[T any](w *World, e Entity) (T, bool) {
	var zero T
	cid, ok := componentID(&w.bk, reflect.TypeFor[T]())
	if !ok || !w.bk.hasComponent(e, cid) {
		return zero, false
	}
	info := w.bk.components[cid.index()]
	if info.zeroSized() {
		w.bk.removeComponent(e, cid)
		return zero, true
	}
	c := w.bk.getComponentPtr(e, cid).(*cell[T])
	c.acquireWrite()
	v := c.value
	c.releaseWrite()
	w.bk.removeComponent(e, cid)
	return v, true
}

// DeferAddComponent queues an add for the next Process; the payload is
// captured by value. If the entity is dead by then, nothing happens.
func DeferAddComponent[T any](w *World, e Entity, v T) {
	w.queue.push(deferredOp{
		kind:   deferredAddComponent,
		entity: e,
		apply: func(w *World) {
			if w.bk.isAlive(e) {
				AddComponent(w, e, v)
			}
		},
	})
}

// DeferRemoveComponent queues a removal for the next Process.
func DeferRemoveComponent[T any](w *World, e Entity) {
	w.queue.push(deferredOp{
		kind:   deferredRemoveComponent,
		entity: e,
		key:    compKey{typ: reflect.TypeFor[T]()},
	})
}

// AddRelation records T(from, to): to joins the origin facet of from,
// from joins the target facet of to. Registers T without flags on
// first use; flagged relations must be registered beforehand.
func AddRelation[T any](w *World, from, to Entity) {
	cid := registerRelationKey[T](w, 0)
	if !w.bk.isAlive(from) || !w.bk.isAlive(to) {
		panic("ecs: add relation on a dead entity")
	}
	w.bk.addRelation(cid, from, to)
}

// RemoveRelation removes T(from, to) from both facets; removing a
// relation that does not exist is a silent no-op.
func RemoveRelation[T any](w *World, from, to Entity) {
	cid, ok := relationID(&w.bk, reflect.TypeFor[T]())
	if !ok {
		return
	}
	w.bk.removeRelation(cid, from, to)
}

// HasRelation reports whether T(from, to) holds, following the
// relation graph when T is transitive.
func HasRelation[T any](w *World, from, to Entity) bool {
	cid := mustRelationID[T](w)
	if !w.bk.isAlive(from) || !w.bk.isAlive(to) {
		return false
	}
	return w.bk.hasRelation(cid, from, to)
}

// RelationTargets yields the direct targets of from. Transitive
// relations are not expanded.
func RelationTargets[T any](w *World, from Entity) iter.Seq[Entity] {
	cid := mustRelationID[T](w)
	partners := w.bk.relationPartners(cid, from)
	return func(yield func(Entity) bool) {
		for _, e := range partners {
			if !yield(e) {
				return
			}
		}
	}
}

// RelationOrigins yields the direct origins pointing at to. Transitive
// relations are not expanded.
func RelationOrigins[T any](w *World, to Entity) iter.Seq[Entity] {
	cid := mustRelationID[T](w).flipTarget()
	partners := w.bk.relationPartners(cid, to)
	return func(yield func(Entity) bool) {
		for _, e := range partners {
			if !yield(e) {
				return
			}
		}
	}
}

// RelationPairs lists every stored (origin, target) pair of T.
// Symmetric relations report each pair in both directions.
func RelationPairs[T any](w *World) [][2]Entity {
	cid := mustRelationID[T](w)
	return w.bk.relationPairs(cid)
}

// DeferAddRelation queues an add-relation for the next Process. The
// relation type must already be registered.
func DeferAddRelation[T any](w *World, from, to Entity) {
	w.queue.push(deferredOp{
		kind:   deferredAddRelation,
		entity: from,
		other:  to,
		key:    compKey{typ: reflect.TypeFor[T](), relation: true},
	})
}

// DeferRemoveRelation queues a remove-relation for the next Process.
func DeferRemoveRelation[T any](w *World, from, to Entity) {
	w.queue.push(deferredOp{
		kind:   deferredRemoveRelation,
		entity: from,
		other:  to,
		key:    compKey{typ: reflect.TypeFor[T](), relation: true},
	})
}

// SetSingleton attaches v to the world's singleton entity.
func SetSingleton[T any](w *World, v T) {
	AddComponent(w, w.singleton, v)
}

// GetSingleton returns a shared borrow of the singleton component T.
func GetSingleton[T any](w *World) Ref[T] {
	return GetComponent[T](w, w.singleton)
}

// GetSingletonMut returns an exclusive borrow of the singleton
// component T.
func GetSingletonMut[T any](w *World) RefMut[T] {
	return GetComponentMut[T](w, w.singleton)
}
