package ecs_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/relic/ecs"
)

func collect(seq func(yield func(ecs.Entity) bool)) []ecs.Entity {
	var out []ecs.Entity
	for e := range seq {
		out = append(out, e)
	}
	return out
}

func TestAddRemoveRelation(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()

	assert.False(t, ecs.HasRelation[Likes](w, a, b))
	ecs.AddRelation[Likes](w, a, b)
	assert.True(t, ecs.HasRelation[Likes](w, a, b))
	assert.False(t, ecs.HasRelation[Likes](w, b, a))

	ecs.RemoveRelation[Likes](w, a, b)
	assert.False(t, ecs.HasRelation[Likes](w, a, b))
	// removing again is a no-op
	ecs.RemoveRelation[Likes](w, a, b)
}

func TestRelationTargetsAndOrigins(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	c := w.CreateEntity()
	ecs.AddRelation[Likes](w, a, b)
	ecs.AddRelation[Likes](w, a, c)
	ecs.AddRelation[Likes](w, b, c)

	targets := collect(ecs.RelationTargets[Likes](w, a))
	assert.ElementsMatch(t, []ecs.Entity{b, c}, targets)

	origins := collect(ecs.RelationOrigins[Likes](w, c))
	assert.ElementsMatch(t, []ecs.Entity{a, b}, origins)

	pairs := ecs.RelationPairs[Likes](w)
	assert.Len(t, pairs, 3)
	assert.True(t, slices.Contains(pairs, [2]ecs.Entity{a, b}))
	assert.True(t, slices.Contains(pairs, [2]ecs.Entity{a, c}))
	assert.True(t, slices.Contains(pairs, [2]ecs.Entity{b, c}))
}

func TestRelationDestroyCleansPartners(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	c := w.CreateEntity()
	ecs.AddRelation[Likes](w, a, b)
	ecs.AddRelation[Likes](w, c, b)

	w.Destroy(b)
	assert.Empty(t, collect(ecs.RelationTargets[Likes](w, a)))
	assert.Empty(t, collect(ecs.RelationTargets[Likes](w, c)))
}

func TestRelationSymmetric(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	ecs.AddRelation[Spouse](w, a, b)

	assert.True(t, ecs.HasRelation[Spouse](w, a, b))
	assert.True(t, ecs.HasRelation[Spouse](w, b, a))

	ecs.RemoveRelation[Spouse](w, a, b)
	assert.False(t, ecs.HasRelation[Spouse](w, a, b))
	assert.False(t, ecs.HasRelation[Spouse](w, b, a))
}

func TestRelationExclusiveReplaces(t *testing.T) {
	w := newTestWorld()
	ecs.RegisterRelation[childOf](w, ecs.Exclusive)
	child := w.CreateEntity()
	p1 := w.CreateEntity()
	p2 := w.CreateEntity()

	ecs.AddRelation[childOf](w, child, p1)
	ecs.AddRelation[childOf](w, child, p2)

	targets := collect(ecs.RelationTargets[childOf](w, child))
	require.Len(t, targets, 1)
	assert.Equal(t, p2, targets[0])
}

type childOf struct{}

func TestRelationCascadingDestroy(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	ecs.AddRelation[Contains](w, a, b)

	w.Destroy(a)
	assert.False(t, w.IsAlive(a))
	assert.False(t, w.IsAlive(b))
}

func TestRelationCascadingChain(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	c := w.CreateEntity()
	ecs.AddRelation[Contains](w, a, b)
	ecs.AddRelation[Contains](w, b, c)

	w.Destroy(a)
	assert.False(t, w.IsAlive(a))
	assert.False(t, w.IsAlive(b))
	assert.False(t, w.IsAlive(c))
}

func TestRelationCascadingOriginSurvivesTargetDestroy(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	ecs.AddRelation[Contains](w, a, b)

	// destroying the target does not cascade upwards
	w.Destroy(b)
	assert.True(t, w.IsAlive(a))
	assert.Empty(t, collect(ecs.RelationTargets[Contains](w, a)))
}

func TestRelationTransitive(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	c := w.CreateEntity()
	d := w.CreateEntity()
	ecs.AddRelation[IsA](w, a, b)
	ecs.AddRelation[IsA](w, b, c)
	ecs.AddRelation[IsA](w, c, d)

	assert.True(t, ecs.HasRelation[IsA](w, a, b))
	assert.True(t, ecs.HasRelation[IsA](w, a, d))
	assert.False(t, ecs.HasRelation[IsA](w, d, a))

	// a cycle must not hang the reachability check
	ecs.AddRelation[IsA](w, c, a)
	assert.True(t, ecs.HasRelation[IsA](w, a, d))

	// direct partners are not transitively expanded
	targets := collect(ecs.RelationTargets[IsA](w, a))
	assert.ElementsMatch(t, []ecs.Entity{b}, targets)
}

func TestRelationStaleGeneration(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity()
	b := w.CreateEntity()
	ecs.AddRelation[Likes](w, a, b)

	w.Destroy(b)
	reused := w.CreateEntity()
	assert.Equal(t, b.ID, reused.ID)
	// the stale handle must not observe the reused slot
	assert.False(t, ecs.HasRelation[Likes](w, a, b))
}

func TestRelationAndComponentSameType(t *testing.T) {
	w := newTestWorld()
	// the same Go type can back both a component and a relation slot
	ecs.RegisterComponent[Likes](w)
	a := w.CreateEntity()
	b := w.CreateEntity()
	ecs.AddComponent(w, a, Likes{})
	ecs.AddRelation[Likes](w, a, b)
	assert.True(t, ecs.HasComponent[Likes](w, a))
	assert.True(t, ecs.HasRelation[Likes](w, a, b))
	ecs.RemoveRelation[Likes](w, a, b)
	assert.True(t, ecs.HasComponent[Likes](w, a))
}
