package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/relic/ecs"
)

func TestCreateAndGet(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 4, Y: 2})
	ecs.AddComponent(w, e, Name{Value: "Player"})
	other := w.CreateEntity()
	ecs.AddComponent(w, other, Position{X: 5, Y: 4})
	ecs.AddComponent(w, other, Name{Value: "Other"})

	pos := ecs.GetComponent[Position](w, e)
	name := ecs.GetComponent[Name](w, e)
	assert.Equal(t, float32(4), pos.Get().X)
	assert.Equal(t, float32(2), pos.Get().Y)
	assert.Equal(t, "Player", name.Get().Value)
	pos.Release()
	name.Release()

	pos = ecs.GetComponent[Position](w, other)
	assert.Equal(t, float32(5), pos.Get().X)
	pos.Release()
}

func TestCreateRemoveGet(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 4, Y: 2})
	ecs.AddComponent(w, e, Name{Value: "Player"})
	assert.True(t, ecs.HasComponent[Position](w, e))
	assert.True(t, ecs.HasComponent[Name](w, e))
	other := w.CreateEntity()
	ecs.AddComponent(w, other, Position{X: 5, Y: 4})
	ecs.AddComponent(w, other, Name{Value: "Other"})

	ecs.RemoveComponent[Position](w, e)
	ecs.RemoveComponent[Name](w, e)
	assert.False(t, ecs.HasComponent[Position](w, e))
	assert.False(t, ecs.HasComponent[Name](w, e))

	// removing an absent component is a no-op
	ecs.RemoveComponent[Position](w, e)

	pos := ecs.GetComponent[Position](w, other)
	defer pos.Release()
	assert.Equal(t, float32(5), pos.Get().X)
	assert.Equal(t, float32(4), pos.Get().Y)
}

func TestCreateDestroyGet(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 4, Y: 2})
	other := w.CreateEntity()
	ecs.AddComponent(w, other, Position{X: 5, Y: 4})
	ecs.AddComponent(w, other, Name{Value: "Other"})

	w.Destroy(e)
	assert.False(t, w.IsAlive(e))
	// destroying again is a no-op
	w.Destroy(e)

	pos := ecs.GetComponent[Position](w, other)
	defer pos.Release()
	assert.Equal(t, float32(5), pos.Get().X)
}

func TestComponentMut(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 4, Y: 2})

	pos := ecs.GetComponentMut[Position](w, e)
	pos.Get().X = 20
	pos.Get().Y = 30
	pos.Release()

	got := ecs.GetComponent[Position](w, e)
	defer got.Release()
	assert.Equal(t, float32(20), got.Get().X)
	assert.Equal(t, float32(30), got.Get().Y)
}

func TestAddComponentOverwrite(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 1, Y: 1})
	ecs.AddComponent(w, e, Position{X: 9, Y: 9})

	pos := ecs.GetComponent[Position](w, e)
	defer pos.Release()
	assert.Equal(t, float32(9), pos.Get().X)
}

func TestZeroSizedComponent(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	assert.False(t, ecs.HasComponent[Frozen](w, a))
	ecs.AddComponent(w, a, Frozen{})
	assert.True(t, ecs.HasComponent[Frozen](w, a))

	ref := ecs.GetComponent[Frozen](w, a)
	ref.Release()

	ecs.RemoveComponent[Frozen](w, a)
	assert.False(t, ecs.HasComponent[Frozen](w, a))
}

func TestTakeComponent(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Name{Value: "loot"})

	v, ok := ecs.TakeComponent[Name](w, e)
	require.True(t, ok)
	assert.Equal(t, "loot", v.Value)
	assert.False(t, ecs.HasComponent[Name](w, e))

	_, ok = ecs.TakeComponent[Name](w, e)
	assert.False(t, ok)
}

func TestBorrowConflicts(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 1, Y: 1})

	shared := ecs.GetComponent[Position](w, e)
	assert.Panics(t, func() { ecs.GetComponentMut[Position](w, e) })
	// a second shared borrow is fine
	shared2 := ecs.GetComponent[Position](w, e)
	shared2.Release()
	shared.Release()

	mut := ecs.GetComponentMut[Position](w, e)
	assert.Panics(t, func() { ecs.GetComponent[Position](w, e) })
	mut.Release()
}

func TestDeadEntityAccessPanics(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 1, Y: 1})
	w.Destroy(e)

	assert.Panics(t, func() { ecs.GetComponent[Position](w, e) })
	assert.Panics(t, func() { ecs.AddComponent(w, e, Position{}) })
	assert.False(t, ecs.HasComponent[Position](w, e))
}

func TestGenerationReuse(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	w.Destroy(e)
	reused := w.CreateEntity()
	assert.Equal(t, e.ID, reused.ID)
	assert.Greater(t, reused.Gen, e.Gen)
	assert.False(t, w.IsAlive(e))
	assert.True(t, w.IsAlive(reused))
}

func TestEnsureAlive(t *testing.T) {
	w := newTestWorld()
	e := w.EnsureAlive(7)
	assert.True(t, w.IsAlive(e))
	ecs.AddComponent(w, e, Name{Value: "forced"})

	// an already live id returns its current handle
	again := w.EnsureAlive(7)
	assert.Equal(t, e, again)

	// interim slots were threaded into the free list
	next := w.CreateEntity()
	assert.Less(t, next.ID, ecs.EntityID(7))
}

func TestSingleton(t *testing.T) {
	w := newTestWorld()
	ecs.SetSingleton(w, Score(42))

	s := ecs.GetSingleton[Score](w)
	assert.Equal(t, Score(42), *s.Get())
	s.Release()

	m := ecs.GetSingletonMut[Score](w)
	*m.Get() = 50
	m.Release()

	s = ecs.GetSingleton[Score](w)
	defer s.Release()
	assert.Equal(t, Score(50), *s.Get())
}

func TestRegistrationIdempotent(t *testing.T) {
	w := newTestWorld()
	first := ecs.RegisterComponent[Position](w)
	second := ecs.RegisterComponent[Position](w)
	assert.Equal(t, first, second)
}

func TestReRegisterComponent(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.AddComponent(w, e, Position{X: 3, Y: 1})

	require.NoError(t, ecs.ReRegisterComponent[Position](w))

	pos := ecs.GetComponent[Position](w, e)
	defer pos.Release()
	assert.Equal(t, float32(3), pos.Get().X)
}

type neverRegistered struct{ _ int64 }

func TestReRegisterUnknownType(t *testing.T) {
	w := newTestWorld()
	assert.ErrorIs(t, ecs.ReRegisterComponent[neverRegistered](w), ecs.ErrNotRegistered)
}
