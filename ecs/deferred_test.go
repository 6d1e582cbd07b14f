package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/relic/ecs"
)

func TestDeferredCreationInterleaving(t *testing.T) {
	w := newTestWorld()
	entities := make([]ecs.Entity, 5)
	for i := range entities {
		entities[i] = w.CreateEntity()
	}
	// destroy the three most recent
	w.Destroy(entities[2])
	w.Destroy(entities[3])
	w.Destroy(entities[4])

	d1 := w.CreateDeferred()
	d2 := w.CreateDeferred()
	// predictions reuse the most recently freed slots, fresh generations
	assert.Equal(t, entities[4].ID, d1.ID)
	assert.Greater(t, d1.Gen, entities[4].Gen)
	assert.Equal(t, entities[3].ID, d2.ID)

	assert.False(t, w.IsAlive(d1))
	assert.False(t, w.IsAlive(d2))

	w.Process()
	assert.True(t, w.IsAlive(d1))
	assert.True(t, w.IsAlive(d2))

	next := w.CreateEntity()
	assert.Equal(t, entities[2].ID, next.ID)
}

func TestDeferredAddComponent(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.DeferAddComponent(w, e, Name{Value: "later"})
	assert.False(t, ecs.HasComponent[Name](w, e))

	w.Process()
	require.True(t, ecs.HasComponent[Name](w, e))
	name := ecs.GetComponent[Name](w, e)
	defer name.Release()
	assert.Equal(t, "later", name.Get().Value)
}

func TestDeferredAddComponentToDeferredEntity(t *testing.T) {
	w := newTestWorld()
	e := w.CreateDeferred()
	ecs.DeferAddComponent(w, e, Name{Value: "fresh"})

	w.Process()
	assert.True(t, w.IsAlive(e))
	assert.True(t, ecs.HasComponent[Name](w, e))
}

func TestDeferredAgainstDeadEntityIsNoop(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.DeferAddComponent(w, e, Name{Value: "never"})
	ecs.DeferRemoveComponent[Name](w, e)
	w.Destroy(e)

	w.Process()
	assert.False(t, w.IsAlive(e))
}

func TestDeferredDestroyAndRelations(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	c := w.CreateEntity()

	ecs.DeferAddRelation[Likes](w, a, b)
	ecs.DeferAddRelation[Likes](w, a, c)
	w.DeferDestroy(c)
	w.Process()

	assert.True(t, ecs.HasRelation[Likes](w, a, b))
	assert.False(t, w.IsAlive(c))
	assert.ElementsMatch(t, []ecs.Entity{b}, collect(ecs.RelationTargets[Likes](w, a)))

	ecs.DeferRemoveRelation[Likes](w, a, b)
	w.Process()
	assert.False(t, ecs.HasRelation[Likes](w, a, b))
}

func TestDeferredOrderIsInsertionOrder(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity()
	ecs.DeferAddComponent(w, e, Score(1))
	ecs.DeferAddComponent(w, e, Score(2))
	w.Process()

	s := ecs.GetComponent[Score](w, e)
	defer s.Release()
	assert.Equal(t, Score(2), *s.Get())
}
