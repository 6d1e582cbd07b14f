package ecs

// The deferred queue records structural mutations requested while the
// world must not change shape (typically during query iteration) and
// replays them, in insertion order, when World.Process is called.

type deferredKind int

const (
	deferredDestroy deferredKind = iota
	deferredAddComponent
	deferredRemoveComponent
	deferredAddRelation
	deferredRemoveRelation
)

type deferredOp struct {
	kind   deferredKind
	entity Entity
	other  Entity
	key    compKey
	// apply carries an add-component payload by value; the closure is
	// invoked against the live world during Process
	apply func(*World)
}

type deferredQueue struct {
	ops []deferredOp
}

func (q *deferredQueue) push(op deferredOp) {
	q.ops = append(q.ops, op)
}

func (q *deferredQueue) drain() []deferredOp {
	ops := q.ops
	q.ops = nil
	return ops
}
